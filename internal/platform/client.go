package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"crm-platform/internal/upstream"
)

// Client is the messaging platform contract used by provisioning and sync.
type Client interface {
	ListConversations(ctx context.Context, ep Endpoint, q ListQuery) (ConversationPage, error)
	GetConversation(ctx context.Context, ep Endpoint, conversationID int64) (Conversation, error)

	CreateInbox(ctx context.Context, ep Endpoint, name, webhookURL string) (Inbox, error)
	DeleteInbox(ctx context.Context, ep Endpoint, inboxID int64) error

	ListLabels(ctx context.Context, ep Endpoint) ([]Label, error)
	CreateLabel(ctx context.Context, ep Endpoint, title string) (Label, error)
	DeleteLabel(ctx context.Context, ep Endpoint, labelID int64) error
	GetConversationLabels(ctx context.Context, ep Endpoint, conversationID int64) ([]string, error)
	SetConversationLabels(ctx context.Context, ep Endpoint, conversationID int64, labels []string) error

	Assign(ctx context.Context, ep Endpoint, conversationID, agentID int64) error
	Unassign(ctx context.Context, ep Endpoint, conversationID int64) error
	ToggleStatus(ctx context.Context, ep Endpoint, conversationID int64, status string) error
	UpdateLastSeen(ctx context.Context, ep Endpoint, conversationID int64) error
	SendMessage(ctx context.Context, ep Endpoint, conversationID int64, content string) (Message, error)
}

type ListQuery struct {
	Page    int
	Status  string
	InboxID int64
}

var ErrMissingCredentials = errors.New("platform: account id and api token are required")

// HTTPClient talks to a Chatwoot-compatible application API.
type HTTPClient struct {
	http *upstream.Client
}

func NewHTTPClient(opts upstream.Options) *HTTPClient {
	opts.System = "platform"
	return &HTTPClient{http: upstream.New(opts)}
}

func (c *HTTPClient) ListConversations(ctx context.Context, ep Endpoint, q ListQuery) (ConversationPage, error) {
	v := url.Values{}
	if q.Page <= 0 {
		q.Page = 1
	}
	v.Set("page", strconv.Itoa(q.Page))
	if q.Status == "" {
		q.Status = StatusAll
	}
	v.Set("status", q.Status)
	if q.InboxID > 0 {
		v.Set("inbox_id", strconv.FormatInt(q.InboxID, 10))
	}

	var resp struct {
		Data struct {
			Meta struct {
				AllCount int `json:"all_count"`
			} `json:"meta"`
			Payload []Conversation `json:"payload"`
		} `json:"data"`
	}
	if err := c.call(ctx, ep, http.MethodGet, "/conversations?"+v.Encode(), nil, &resp); err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{Conversations: resp.Data.Payload, AllCount: resp.Data.Meta.AllCount}, nil
}

func (c *HTTPClient) GetConversation(ctx context.Context, ep Endpoint, conversationID int64) (Conversation, error) {
	var out Conversation
	err := c.call(ctx, ep, http.MethodGet, fmt.Sprintf("/conversations/%d", conversationID), nil, &out)
	return out, err
}

func (c *HTTPClient) CreateInbox(ctx context.Context, ep Endpoint, name, webhookURL string) (Inbox, error) {
	body := map[string]any{
		"name": name,
		"channel": map[string]any{
			"type":        "api",
			"webhook_url": webhookURL,
		},
	}
	var out Inbox
	if err := c.call(ctx, ep, http.MethodPost, "/inboxes", body, &out); err != nil {
		return Inbox{}, err
	}
	if out.ID <= 0 {
		return Inbox{}, fmt.Errorf("platform: create inbox returned no id: %w", upstream.ErrUnavailable)
	}
	return out, nil
}

func (c *HTTPClient) DeleteInbox(ctx context.Context, ep Endpoint, inboxID int64) error {
	return c.call(ctx, ep, http.MethodDelete, fmt.Sprintf("/inboxes/%d", inboxID), nil, nil)
}

func (c *HTTPClient) ListLabels(ctx context.Context, ep Endpoint) ([]Label, error) {
	var resp struct {
		Payload []Label `json:"payload"`
	}
	if err := c.call(ctx, ep, http.MethodGet, "/labels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

func (c *HTTPClient) CreateLabel(ctx context.Context, ep Endpoint, title string) (Label, error) {
	var out Label
	err := c.call(ctx, ep, http.MethodPost, "/labels", map[string]any{"title": title, "show_on_sidebar": true}, &out)
	return out, err
}

func (c *HTTPClient) DeleteLabel(ctx context.Context, ep Endpoint, labelID int64) error {
	return c.call(ctx, ep, http.MethodDelete, fmt.Sprintf("/labels/%d", labelID), nil, nil)
}

func (c *HTTPClient) GetConversationLabels(ctx context.Context, ep Endpoint, conversationID int64) ([]string, error) {
	var resp struct {
		Payload []string `json:"payload"`
	}
	if err := c.call(ctx, ep, http.MethodGet, fmt.Sprintf("/conversations/%d/labels", conversationID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// SetConversationLabels replaces the full label set of a conversation.
func (c *HTTPClient) SetConversationLabels(ctx context.Context, ep Endpoint, conversationID int64, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	return c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/labels", conversationID), map[string]any{"labels": labels}, nil)
}

func (c *HTTPClient) Assign(ctx context.Context, ep Endpoint, conversationID, agentID int64) error {
	return c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/assignments", conversationID), map[string]any{"assignee_id": agentID}, nil)
}

func (c *HTTPClient) Unassign(ctx context.Context, ep Endpoint, conversationID int64) error {
	return c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/assignments", conversationID), map[string]any{"assignee_id": nil}, nil)
}

func (c *HTTPClient) ToggleStatus(ctx context.Context, ep Endpoint, conversationID int64, status string) error {
	return c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/toggle_status", conversationID), map[string]any{"status": status}, nil)
}

func (c *HTTPClient) UpdateLastSeen(ctx context.Context, ep Endpoint, conversationID int64) error {
	return c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/update_last_seen", conversationID), nil, nil)
}

func (c *HTTPClient) SendMessage(ctx context.Context, ep Endpoint, conversationID int64, content string) (Message, error) {
	body := map[string]any{
		"content":      content,
		"message_type": "outgoing",
		"private":      false,
	}
	var out Message
	err := c.call(ctx, ep, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", conversationID), body, &out)
	return out, err
}

func (c *HTTPClient) call(ctx context.Context, ep Endpoint, method, path string, body, out any) error {
	if ep.AccountID <= 0 || ep.APIToken == "" {
		return ErrMissingCredentials
	}
	return c.http.WithBaseURL(ep.BaseURL).Do(ctx, upstream.Request{
		Method:  method,
		Path:    fmt.Sprintf("/api/v1/accounts/%d%s", ep.AccountID, path),
		Headers: map[string]string{"api_access_token": ep.APIToken},
		Body:    body,
	}, out)
}
