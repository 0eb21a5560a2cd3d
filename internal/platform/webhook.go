package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Webhook event types delivered by the platform.
const (
	EventConversationCreated       = "conversation_created"
	EventConversationUpdated       = "conversation_updated"
	EventConversationStatusChanged = "conversation_status_changed"
	EventMessageCreated            = "message_created"
	EventMessageUpdated            = "message_updated"
	EventContactCreated            = "contact_created"
	EventContactUpdated            = "contact_updated"
)

var ErrInvalidPayload = errors.New("platform: invalid webhook payload")

// Event is a decoded webhook delivery. Only the parts relevant to Type are set.
type Event struct {
	Type      string
	AccountID int64

	Conversation *Conversation
	Message      *Message
	Contact      *Contact
}

// EventType peeks at the event name without decoding the rest.
func EventType(body []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if json.Unmarshal(body, &head) != nil {
		return ""
	}
	return head.Event
}

// ParseEvent decodes a webhook body.
//
// Webhook payloads are looser than the REST API: ids arrive as numbers or
// strings, message_type as "incoming"/"outgoing" instead of an int, and
// timestamps as unix seconds or ISO strings. Values are coerced with cast.
func ParseEvent(body []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev := Event{Type: cast.ToString(raw["event"])}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}
	if acc, ok := raw["account"].(map[string]any); ok {
		ev.AccountID = cast.ToInt64(acc["id"])
	}

	switch ev.Type {
	case EventConversationCreated, EventConversationUpdated, EventConversationStatusChanged:
		conv := conversationFrom(raw)
		if conv.ID <= 0 {
			return Event{}, fmt.Errorf("%w: conversation id missing", ErrInvalidPayload)
		}
		ev.Conversation = &conv

	case EventMessageCreated, EventMessageUpdated:
		msg := messageFrom(raw)
		ev.Message = &msg
		convRaw, _ := raw["conversation"].(map[string]any)
		if convRaw == nil {
			return Event{}, fmt.Errorf("%w: message without conversation", ErrInvalidPayload)
		}
		conv := conversationFrom(convRaw)
		if conv.ID <= 0 {
			return Event{}, fmt.Errorf("%w: conversation id missing", ErrInvalidPayload)
		}
		// Incoming messages carry the contact as sender; use it when the
		// embedded conversation has no meta.
		if conv.Meta.Sender.ID == 0 && msg.MessageType == MessageIncoming {
			if s, ok := raw["sender"].(map[string]any); ok {
				conv.Meta.Sender = contactFrom(s)
			}
		}
		if conv.InboxID == 0 {
			if inbox, ok := raw["inbox"].(map[string]any); ok {
				conv.InboxID = cast.ToInt64(inbox["id"])
			}
		}
		if !msg.Private && msg.MessageType != MessageActivity {
			m := msg
			conv.LastMessage = &m
			if msg.CreatedAt > conv.LastActivityAt {
				conv.LastActivityAt = msg.CreatedAt
			}
		}
		ev.Conversation = &conv

	case EventContactCreated, EventContactUpdated:
		c := contactFrom(raw)
		if c.ID <= 0 {
			return Event{}, fmt.Errorf("%w: contact id missing", ErrInvalidPayload)
		}
		ev.Contact = &c
	}
	return ev, nil
}

func conversationFrom(m map[string]any) Conversation {
	c := Conversation{
		ID:             cast.ToInt64(m["id"]),
		InboxID:        cast.ToInt64(m["inbox_id"]),
		Status:         cast.ToString(m["status"]),
		Priority:       cast.ToString(m["priority"]),
		UnreadCount:    cast.ToInt(m["unread_count"]),
		LastActivityAt: unixFrom(m["last_activity_at"]),
		Labels:         cast.ToStringSlice(m["labels"]),
	}
	if c.LastActivityAt == 0 {
		c.LastActivityAt = unixFrom(m["timestamp"])
	}
	if meta, ok := m["meta"].(map[string]any); ok {
		if s, ok := meta["sender"].(map[string]any); ok {
			c.Meta.Sender = contactFrom(s)
		}
		if a, ok := meta["assignee"].(map[string]any); ok {
			agent := Agent{
				ID:    cast.ToInt64(a["id"]),
				Name:  cast.ToString(a["name"]),
				Email: cast.ToString(a["email"]),
			}
			if agent.ID > 0 {
				c.Meta.Assignee = &agent
			}
		}
	}
	if msgs, ok := m["messages"].([]any); ok {
		for _, raw := range msgs {
			if mm, ok := raw.(map[string]any); ok {
				c.Messages = append(c.Messages, messageFrom(mm))
			}
		}
	}
	return c
}

func contactFrom(m map[string]any) Contact {
	return Contact{
		ID:          cast.ToInt64(m["id"]),
		Name:        cast.ToString(m["name"]),
		PhoneNumber: cast.ToString(m["phone_number"]),
		Email:       cast.ToString(m["email"]),
		Thumbnail:   cast.ToString(m["thumbnail"]),
		Identifier:  cast.ToString(m["identifier"]),
	}
}

func messageFrom(m map[string]any) Message {
	msg := Message{
		ID:          cast.ToInt64(m["id"]),
		Content:     cast.ToString(m["content"]),
		ContentType: cast.ToString(m["content_type"]),
		MessageType: messageTypeFrom(m["message_type"]),
		Private:     cast.ToBool(m["private"]),
		CreatedAt:   unixFrom(m["created_at"]),
	}
	if atts, ok := m["attachments"].([]any); ok {
		for _, raw := range atts {
			if a, ok := raw.(map[string]any); ok {
				msg.Attachments = append(msg.Attachments, Attachment{
					FileType: cast.ToString(a["file_type"]),
					DataURL:  cast.ToString(a["data_url"]),
				})
			}
		}
	}
	return msg
}

func messageTypeFrom(v any) int {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "incoming":
			return MessageIncoming
		case "outgoing":
			return MessageOutgoing
		case "activity":
			return MessageActivity
		case "template":
			return MessageTemplate
		}
	}
	return cast.ToInt(v)
}

// unixFrom accepts unix seconds (number or numeric string) or a timestamp string.
func unixFrom(v any) int64 {
	if v == nil {
		return 0
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return n
	}
	t, err := cast.ToTimeE(v)
	if err != nil || t.IsZero() {
		return 0
	}
	return t.Unix()
}
