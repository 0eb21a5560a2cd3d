package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crm-platform/internal/upstream"
)

// Client is the channel gateway contract used by the provisioner and monitor.
// Admin calls use the endpoint's admin token; the rest use the instance token.
type Client interface {
	CreateInstance(ctx context.Context, ep Endpoint, name string) (CreatedInstance, error)
	DeleteInstance(ctx context.Context, ep Endpoint, token string) error
	Logout(ctx context.Context, ep Endpoint, token string) error
	Connect(ctx context.Context, ep Endpoint, token string) (QRCode, error)
	Status(ctx context.Context, ep Endpoint, token string) (StatusReport, error)
	ConfigureBridge(ctx context.Context, ep Endpoint, token string, cfg BridgeConfig) error
	ConfigureWebhook(ctx context.Context, ep Endpoint, token string, cfg WebhookConfig) error
	BridgeURL(ep Endpoint, name string) string
}

var ErrMissingToken = errors.New("gateway: instance token is required")

// HTTPClient talks to a uazapi-compatible gateway.
type HTTPClient struct {
	http *upstream.Client
}

func NewHTTPClient(opts upstream.Options) *HTTPClient {
	opts.System = "gateway"
	return &HTTPClient{http: upstream.New(opts)}
}

func (c *HTTPClient) at(ep Endpoint) *upstream.Client {
	return c.http.WithBaseURL(ep.BaseURL)
}

func (c *HTTPClient) CreateInstance(ctx context.Context, ep Endpoint, name string) (CreatedInstance, error) {
	if ep.AdminToken == "" {
		return CreatedInstance{}, errors.New("gateway: admin token is required")
	}
	var resp struct {
		Token    string `json:"token"`
		Instance struct {
			Name  string `json:"name"`
			Token string `json:"token"`
		} `json:"instance"`
	}
	err := c.at(ep).Do(ctx, upstream.Request{
		Method:  http.MethodPost,
		Path:    "/instance/init",
		Headers: map[string]string{"admintoken": ep.AdminToken},
		Body:    map[string]string{"name": name},
	}, &resp)
	if err != nil {
		return CreatedInstance{}, err
	}
	token := resp.Token
	if token == "" {
		token = resp.Instance.Token
	}
	if token == "" {
		return CreatedInstance{}, fmt.Errorf("gateway: create %s returned no token: %w", name, upstream.ErrUnavailable)
	}
	return CreatedInstance{Name: name, Token: token}, nil
}

func (c *HTTPClient) DeleteInstance(ctx context.Context, ep Endpoint, token string) error {
	return c.tokenCall(ctx, ep, token, http.MethodDelete, "/instance", nil, nil)
}

func (c *HTTPClient) Logout(ctx context.Context, ep Endpoint, token string) error {
	return c.tokenCall(ctx, ep, token, http.MethodPost, "/instance/disconnect", nil, nil)
}

func (c *HTTPClient) Connect(ctx context.Context, ep Endpoint, token string) (QRCode, error) {
	var raw map[string]any
	if err := c.tokenCall(ctx, ep, token, http.MethodPost, "/instance/connect", map[string]any{}, &raw); err != nil {
		return QRCode{}, err
	}
	rep, err := DecodeStatus(raw)
	if err != nil {
		return QRCode{}, err
	}
	qr := QRCode{Code: rep.QRCode, Connected: rep.Connected != nil && *rep.Connected}
	if inst, ok := raw["instance"].(map[string]any); ok {
		if pc, ok := inst["paircode"].(string); ok {
			qr.PairCode = pc
		}
	}
	return qr, nil
}

func (c *HTTPClient) Status(ctx context.Context, ep Endpoint, token string) (StatusReport, error) {
	var raw map[string]any
	if err := c.tokenCall(ctx, ep, token, http.MethodGet, "/instance/status", nil, &raw); err != nil {
		return StatusReport{}, err
	}
	return DecodeStatus(raw)
}

func (c *HTTPClient) ConfigureBridge(ctx context.Context, ep Endpoint, token string, cfg BridgeConfig) error {
	return c.tokenCall(ctx, ep, token, http.MethodPut, "/chatwoot/config", cfg, nil)
}

func (c *HTTPClient) ConfigureWebhook(ctx context.Context, ep Endpoint, token string, cfg WebhookConfig) error {
	return c.tokenCall(ctx, ep, token, http.MethodPost, "/webhook", cfg, nil)
}

// BridgeURL is where the platform inbox delivers outgoing messages for name.
func (c *HTTPClient) BridgeURL(ep Endpoint, name string) string {
	return strings.TrimRight(ep.BaseURL, "/") + "/chatwoot/webhook/" + url.PathEscape(name)
}

func (c *HTTPClient) tokenCall(ctx context.Context, ep Endpoint, token, method, path string, body, out any) error {
	if token == "" {
		return ErrMissingToken
	}
	return c.at(ep).Do(ctx, upstream.Request{
		Method:  method,
		Path:    path,
		Headers: map[string]string{"token": token},
		Body:    body,
	}, out)
}
