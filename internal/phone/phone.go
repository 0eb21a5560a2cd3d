// Package phone canonicalizes WhatsApp phone numbers.
//
// The canonical form is digits only, international, without '+'.
// Brazilian numbers are the common case:
//   - 10/11 digits (DDD + number) get the 55 country code
//   - 12 digits with 55 whose subscriber starts with 6-9 get the mobile ninth digit
//
// So "+55 (47) 99999-9999", "47999999999" and "554799999999" all become
// "5547999999999".
package phone

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalid = errors.New("phone: invalid number")

const brazilCC = "55"

// Normalize returns the canonical digit string for raw.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(StripJID(raw))
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	d := strings.TrimLeft(b.String(), "0")

	if len(d) == 10 || len(d) == 11 {
		d = brazilCC + d
	}
	if len(d) == 12 && strings.HasPrefix(d, brazilCC) && isMobileLead(d[4]) {
		d = d[:4] + "9" + d[4:]
	}
	if len(d) < 12 || len(d) > 15 {
		return "", fmt.Errorf("%w: length %d", ErrInvalid, len(d))
	}
	return d, nil
}

// Format renders a canonical number for display, e.g. "+55 47 99999-9999".
// Unknown shapes fall back to "+<digits>".
func Format(normalized string) string {
	d := normalized
	if d == "" {
		return ""
	}
	if strings.HasPrefix(d, brazilCC) {
		switch len(d) {
		case 13:
			return fmt.Sprintf("+%s %s %s-%s", d[:2], d[2:4], d[4:9], d[9:])
		case 12:
			return fmt.Sprintf("+%s %s %s-%s", d[:2], d[2:4], d[4:8], d[8:])
		}
	}
	return "+" + d
}

// StripJID drops the WhatsApp server and device suffixes:
// "5547999999999:12@s.whatsapp.net" -> "5547999999999".
func StripJID(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return s
}

func isMobileLead(c byte) bool { return c >= '6' && c <= '9' }
