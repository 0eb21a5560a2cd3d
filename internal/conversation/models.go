package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Contact is a counterpart keyed by normalized phone, unique per tenant.
type Contact struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	PhoneRaw          string    `json:"phone_raw" db:"phone_raw"`
	PhoneNormalized   string    `json:"phone_normalized" db:"phone_normalized"`
	Name              string    `json:"name" db:"name"`
	Email             string    `json:"email" db:"email"`
	AvatarURL         string    `json:"avatar_url" db:"avatar_url"`
	PlatformContactID *int64    `json:"platform_contact_id" db:"platform_contact_id"`
	Source            string    `json:"source" db:"source"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Conversation is the CRM-visible thread, one per platform conversation per tenant.
type Conversation struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	ContactID string `json:"contact_id" db:"contact_id"`

	// PlatformConversationID is nil for purely local conversations.
	PlatformConversationID *int64 `json:"platform_conversation_id" db:"platform_conversation_id"`
	PlatformInboxID        *int64 `json:"platform_inbox_id" db:"platform_inbox_id"`

	StageID        *string `json:"stage_id" db:"stage_id"`
	AssigneeUserID *string `json:"assignee_user_id" db:"assignee_user_id"`

	Status             Status     `json:"status" db:"status"`
	Priority           string     `json:"priority" db:"priority"`
	LastMessagePreview string     `json:"last_message_preview" db:"last_message_preview"`
	UnreadCount        int        `json:"unread_count" db:"unread_count"`
	LastActivityAt     *time.Time `json:"last_activity_at" db:"last_activity_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (c Conversation) HasPlatformLink() bool {
	return c.PlatformConversationID != nil && *c.PlatformConversationID > 0
}

// Row is a conversation joined with the fields of its contact the list shows.
type Row struct {
	Conversation
	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone"`
}

// Stage is a pipeline column. Its slug is the label title on the platform.
type Stage struct {
	ID        string `json:"id" db:"id"`
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	Name      string `json:"name" db:"name"`
	Slug      string `json:"slug" db:"slug"`
	Position  int    `json:"position" db:"position"`
	IsInitial bool   `json:"is_initial" db:"is_initial"`
}

// AgentMapping links a platform agent to a CRM user within a tenant.
type AgentMapping struct {
	TenantID        string `json:"tenant_id" db:"tenant_id"`
	PlatformAgentID int64  `json:"platform_agent_id" db:"platform_agent_id"`
	UserID          string `json:"user_id" db:"user_id"`
}

// ListFilter narrows ListConversations. Zero values mean no filter.
type ListFilter struct {
	Status  Status
	StageID string
	Limit   int
	Offset  int
}

// SyncResult summarizes one FullSync pass.
type SyncResult struct {
	Total     int  `json:"total"`
	Created   int  `json:"created"`
	Updated   int  `json:"updated"`
	Unchanged int  `json:"unchanged"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Pages     int  `json:"pages"`
	Truncated bool `json:"truncated"`
}

var (
	ErrNotFound        = errors.New("conversation: not found")
	ErrInvalidArgument = errors.New("conversation: invalid argument")
	ErrConflict        = errors.New("conversation: unique key conflict")
	ErrSyncInProgress  = errors.New("conversation: sync already running for tenant")
	ErrStageNotFound   = errors.New("conversation: stage not found")

	// ErrNoPhone marks a remote contact that cannot be keyed locally.
	ErrNoPhone = errors.New("conversation: contact has no usable phone number")
)

// StageNotFoundError lists the stages the caller may choose from.
type StageNotFoundError struct {
	StageID string
	Valid   []Stage
}

func (e *StageNotFoundError) Error() string {
	names := make([]string, 0, len(e.Valid))
	for _, s := range e.Valid {
		names = append(names, s.Slug)
	}
	return fmt.Sprintf("stage %q not found; valid stages: %s", e.StageID, strings.Join(names, ", "))
}

func (e *StageNotFoundError) Unwrap() error { return ErrStageNotFound }
