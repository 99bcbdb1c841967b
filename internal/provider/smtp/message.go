package smtp

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/google/uuid"
)

// message is a MIME email built from a payload
type message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
	Date    time.Time
	Domain  string
}

// build renders RFC 5322 bytes: text/plain, text/html or
// multipart/alternative depending on which bodies are set.
func (m *message) build() ([]byte, string) {
	var buf bytes.Buffer
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), m.Domain)

	writeHeader(&buf, "From", m.From)
	writeHeader(&buf, "To", m.To)
	if m.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", m.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", m.Date.Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", messageID)
	writeHeader(&buf, "MIME-Version", "1.0")
	for k, v := range m.Headers {
		writeHeader(&buf, k, v)
	}

	switch {
	case m.HTML != "" && m.Text != "":
		boundary := "herald-" + strings.ReplaceAll(uuid.New().String(), "-", "")
		writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		buf.WriteString("\r\n")
		writePart(&buf, boundary, "text/plain", m.Text)
		writePart(&buf, boundary, "text/html", m.HTML)
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case m.HTML != "":
		writeBody(&buf, "text/html", m.HTML)
	default:
		writeBody(&buf, "text/plain", m.Text)
	}

	return buf.Bytes(), messageID
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	value = strings.NewReplacer("\r", "", "\n", "").Replace(value)
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writePart(buf *bytes.Buffer, boundary, contentType, body string) {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	writeBody(buf, contentType, body)
}

func writeBody(buf *bytes.Buffer, contentType, body string) {
	writeHeader(buf, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")
	qp := quotedprintable.NewWriter(buf)
	qp.Write([]byte(body))
	qp.Close()
	buf.WriteString("\r\n")
}
