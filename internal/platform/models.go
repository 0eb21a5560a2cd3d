package platform

import "time"

// Endpoint is one tenant's account on the messaging platform.
type Endpoint struct {
	BaseURL   string
	AccountID int64
	APIToken  string
}

// Conversation statuses as the platform reports them.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusPending  = "pending"
	StatusSnoozed  = "snoozed"
	StatusAll      = "all"
)

// Message types as the platform's REST API encodes them.
const (
	MessageIncoming = 0
	MessageOutgoing = 1
	MessageActivity = 2
	MessageTemplate = 3
)

type Contact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
	Thumbnail   string `json:"thumbnail"`
	Identifier  string `json:"identifier"`
}

type Agent struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Attachment struct {
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
}

type Message struct {
	ID          int64        `json:"id"`
	Content     string       `json:"content"`
	ContentType string       `json:"content_type"`
	MessageType int          `json:"message_type"`
	Private     bool         `json:"private"`
	CreatedAt   int64        `json:"created_at"`
	Attachments []Attachment `json:"attachments"`
}

func (m Message) Time() time.Time {
	if m.CreatedAt <= 0 {
		return time.Time{}
	}
	return time.Unix(m.CreatedAt, 0).UTC()
}

type ConversationMeta struct {
	Sender   Contact `json:"sender"`
	Assignee *Agent  `json:"assignee"`
}

type Conversation struct {
	ID             int64            `json:"id"`
	InboxID        int64            `json:"inbox_id"`
	Status         string           `json:"status"`
	Priority       string           `json:"priority"`
	UnreadCount    int              `json:"unread_count"`
	LastActivityAt int64            `json:"last_activity_at"`
	Labels         []string         `json:"labels"`
	Meta           ConversationMeta `json:"meta"`
	Messages       []Message        `json:"messages"`
	LastMessage    *Message         `json:"last_non_activity_message"`
}

// LastActivity returns the activity timestamp, or zero when unknown.
func (c Conversation) LastActivity() time.Time {
	if c.LastActivityAt <= 0 {
		return time.Time{}
	}
	return time.Unix(c.LastActivityAt, 0).UTC()
}

// Latest returns the newest non-activity message the platform embedded, if any.
func (c Conversation) Latest() (Message, bool) {
	if c.LastMessage != nil {
		return *c.LastMessage, true
	}
	var out Message
	found := false
	for _, m := range c.Messages {
		if m.MessageType == MessageActivity {
			continue
		}
		if !found || m.CreatedAt >= out.CreatedAt {
			out = m
			found = true
		}
	}
	return out, found
}

type Inbox struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Label struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ConversationPage is one page of the conversation listing.
type ConversationPage struct {
	Conversations []Conversation
	// AllCount is the platform's total for the status filter, when reported.
	AllCount int
}
