// Package events publishes dispatch outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/notify"
)

// DefaultTopic receives one event per dispatch
const DefaultTopic = "notification.dispatched"

// Writer is the part of *kafka.Writer the publisher uses
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON body of a dispatch event
type Event struct {
	ID         string          `json:"id"`
	Channel    notify.Channel  `json:"channel"`
	Driver     string          `json:"driver,omitempty"`
	Template   string          `json:"template,omitempty"`
	Version    int             `json:"template_version,omitempty"`
	Sent       int             `json:"sent"`
	Failed     int             `json:"failed"`
	Total      int             `json:"total"`
	Skipped    bool            `json:"skipped,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Results    []notify.Result `json:"results"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Config configures the Kafka writer
type Config struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

// Publisher is a dispatch.Observer writing events to Kafka
type Publisher struct {
	writer  Writer
	timeout time.Duration
	logger  *slog.Logger
}

// NewWriter creates a Kafka writer for cfg
func NewWriter(cfg Config) *kafka.Writer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewPublisher creates a publisher over w
func NewPublisher(w Writer, timeout time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{writer: w, timeout: timeout, logger: logger}
}

// OnDispatch publishes out. Failures are logged; the dispatch result is
// already final at this point.
func (p *Publisher) OnDispatch(ctx context.Context, req *dispatch.Request, out *dispatch.Outcome) {
	msg, err := NewMessage(req, out)
	if err != nil {
		p.logger.Error("failed to encode dispatch event", "id", out.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish dispatch event", "id", out.ID, "error", err)
		return
	}
	p.logger.Debug("dispatch event published", "id", out.ID, "key", string(msg.Key))
}

// Close closes the underlying writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// NewMessage builds the Kafka message for a dispatch. The key is the
// template code, or the channel for raw sends.
func NewMessage(req *dispatch.Request, out *dispatch.Outcome) (kafka.Message, error) {
	ev := Event{
		ID:         out.ID,
		Channel:    out.Channel,
		Driver:     req.Driver,
		Template:   out.Template,
		Version:    out.TemplateVersion,
		Sent:       out.Summary.SentCount,
		Failed:     out.Summary.FailedCount,
		Total:      out.Summary.TotalCount,
		Skipped:    out.Skipped,
		SkipReason: out.SkipReason,
		Results:    out.Results,
		OccurredAt: time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	key := out.Template
	if key == "" {
		key = string(out.Channel)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("dispatch")},
		},
		Time: ev.OccurredAt,
	}, nil
}
