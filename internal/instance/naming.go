package instance

import (
	"strconv"
	"strings"
	"time"

	"crm-platform/internal/slug"
)

const maxLabelLen = 64

// GatewayName derives the gateway-side instance name from the label, a short
// tenant fingerprint and a base36 millisecond nonce, e.g. "loja-centro-3f9a1c2e-lq2x8k0w".
// The tenant part keeps names from colliding across tenants that pick the same label.
func GatewayName(label, tenantID string, now time.Time) string {
	base := slug.Truncate(slug.Make(label, '-'), 24, '-')
	if base == "" {
		base = "channel"
	}
	fp := strings.ReplaceAll(strings.ToLower(tenantID), "-", "")
	if len(fp) > 8 {
		fp = fp[:8]
	}
	nonce := strconv.FormatInt(now.UTC().UnixMilli(), 36)
	return base + "-" + fp + "-" + nonce
}

func validateLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" || len(label) > maxLabelLen {
		return "", ErrInvalidArgument
	}
	return label, nil
}
