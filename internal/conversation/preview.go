package conversation

import (
	"strings"
	"unicode/utf8"

	"crm-platform/internal/platform"
)

const maxPreviewRunes = 140

var attachmentLabels = map[string]string{
	"image":    "[Photo]",
	"audio":    "[Audio]",
	"video":    "[Video]",
	"file":     "[Document]",
	"sticker":  "[Sticker]",
	"location": "[Location]",
	"contact":  "[Contact]",
}

// Preview renders the list preview of a message. Media never shows its raw
// content; it gets a fixed label.
func Preview(m platform.Message) string {
	if len(m.Attachments) > 0 {
		if label, ok := attachmentLabels[strings.ToLower(m.Attachments[0].FileType)]; ok {
			return label
		}
		if strings.TrimSpace(m.Content) == "" {
			return "[Attachment]"
		}
	}
	if m.ContentType == "sticker" {
		return attachmentLabels["sticker"]
	}
	return truncate(strings.Join(strings.Fields(m.Content), " "), maxPreviewRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
