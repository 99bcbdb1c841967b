package provider

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/foxzi/herald/internal/errs"
)

var (
	e164Re     = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	chatIDRe   = regexp.MustCompile(`^(-?[0-9]{1,20}|@[A-Za-z][A-Za-z0-9_]{4,31})$`)
	hexTokenRe = regexp.MustCompile(`^[0-9a-fA-F]{64,200}$`)
)

// NormalizePhone strips formatting characters and checks E.164 shape.
// A leading "00" is rewritten to "+".
func NormalizePhone(target string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(target) {
		switch {
		case r >= '0' && r <= '9', r == '+':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", errs.InvalidTarget("invalid phone number %q", target)
		}
	}
	phone := b.String()
	if strings.HasPrefix(phone, "00") {
		phone = "+" + phone[2:]
	}
	if !e164Re.MatchString(phone) {
		return "", errs.InvalidTarget("invalid phone number %q", target)
	}
	return phone, nil
}

// ValidateEmail checks a single bare address
func ValidateEmail(target string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(target))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", errs.InvalidTarget("invalid email address %q", target)
	}
	return addr.Address, nil
}

// ValidateChatID accepts numeric chat ids and @channel usernames
func ValidateChatID(target string) (string, error) {
	t := strings.TrimSpace(target)
	if !chatIDRe.MatchString(t) {
		return "", errs.InvalidTarget("invalid chat id %q", target)
	}
	return t, nil
}

// IsHexToken reports whether target looks like an APNs device token
func IsHexToken(target string) bool {
	return hexTokenRe.MatchString(target)
}
