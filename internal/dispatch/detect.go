package dispatch

import (
	"strings"

	"github.com/foxzi/herald/internal/provider"
)

// Token shapes recognized by push auto-detection
const (
	TokenAPNS    = "apns"
	TokenFCM     = "fcm"
	TokenWebPush = "webpush"
)

// DetectPushToken classifies a push token by shape: hex strings of 64+
// characters are APNs device tokens, long tokens containing a colon are
// FCM registration tokens, anything else is treated as a WebPush
// subscription. The result is a best-effort guess; callers that know the
// platform pass an explicit driver.
func DetectPushToken(token string) string {
	t := strings.TrimSpace(token)
	switch {
	case provider.IsHexToken(t):
		return TokenAPNS
	case len(t) >= 100 && strings.Contains(t, ":") && !strings.HasPrefix(t, "{"):
		return TokenFCM
	}
	return TokenWebPush
}
