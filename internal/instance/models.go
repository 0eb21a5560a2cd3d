package instance

import (
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/upstream"
)

// Status is the local lifecycle state of a channel instance.
type Status string

const (
	StatusPending      Status = "pending"
	StatusQRReady      Status = "qr_ready"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQRReady, StatusConnecting, StatusConnected, StatusDisconnected, StatusError:
		return true
	}
	return false
}

// transitions lists the allowed moves. Forward skips along the pairing chain
// are allowed because the gateway is observed by polling and can pass through
// a state between two polls. disconnected/error only go back to pending
// through an explicit reconnect.
var transitions = map[Status][]Status{
	StatusPending:      {StatusQRReady, StatusConnecting, StatusConnected, StatusError},
	StatusQRReady:      {StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusConnecting:   {StatusQRReady, StatusConnected, StatusDisconnected, StatusError},
	StatusConnected:    {StatusDisconnected, StatusError},
	StatusDisconnected: {StatusPending, StatusError},
	StatusError:        {StatusPending},
}

// CanTransition reports whether from -> to is allowed. Same-state is not a transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Instance is one WhatsApp number bridged through the gateway into one inbox.
//
// GatewayToken and PlatformInboxID are nil when the matching provisioning
// step failed; Complete reports whether both halves exist.
type Instance struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Label    string `json:"label" db:"label"`

	// GatewayName is globally unique and never changes after creation.
	GatewayName     string  `json:"gateway_name" db:"gateway_name"`
	GatewayToken    *string `json:"-" db:"gateway_token"`
	PlatformInboxID *int64  `json:"platform_inbox_id" db:"platform_inbox_id"`

	Status         Status     `json:"status" db:"status"`
	ConnectedAt    *time.Time `json:"connected_at" db:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at" db:"disconnected_at"`

	ProfileName      string `json:"profile_name" db:"profile_name"`
	ProfileAvatarURL string `json:"profile_avatar_url" db:"profile_avatar_url"`
	PhoneNumber      string `json:"phone_number" db:"phone_number"`
	IsBusiness       bool   `json:"is_business" db:"is_business"`
	PlatformTag      string `json:"platform_tag" db:"platform_tag"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (i Instance) HasToken() bool { return i.GatewayToken != nil && *i.GatewayToken != "" }

func (i Instance) HasInbox() bool { return i.PlatformInboxID != nil && *i.PlatformInboxID > 0 }

func (i Instance) Complete() bool { return i.HasToken() && i.HasInbox() }

// View adds derived fields for API responses.
type View struct {
	Instance
	HasGatewayToken bool `json:"has_gateway_token"`
	Complete        bool `json:"complete"`
}

func (i Instance) View() View {
	return View{Instance: i, HasGatewayToken: i.HasToken(), Complete: i.Complete()}
}

var (
	ErrNotFound          = errors.New("instance: not found")
	ErrInvalidArgument   = errors.New("instance: invalid argument")
	ErrQuotaExceeded     = errors.New("instance: quota exceeded")
	ErrDuplicateName     = errors.New("instance: duplicate name")
	ErrInvalidTransition = errors.New("instance: invalid status transition")
	ErrIncomplete        = errors.New("instance: provisioning incomplete")

	// ErrUpstreamUnavailable matches any gateway or platform failure.
	ErrUpstreamUnavailable = upstream.ErrUnavailable
)

// QuotaExceededError carries what the caller needs to self-correct.
type QuotaExceededError struct {
	Limit int
	Used  int
}

func (e *QuotaExceededError) Remaining() int {
	if r := e.Limit - e.Used; r > 0 {
		return r
	}
	return 0
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("instance quota exceeded: %d of %d in use, %d remaining", e.Used, e.Limit, e.Remaining())
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// TransitionError names the rejected move.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("instance: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
