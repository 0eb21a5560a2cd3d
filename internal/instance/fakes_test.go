package instance

import (
	"context"
	"sync"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/gateway"
	"crm-platform/internal/platform"
	"crm-platform/internal/tenant"
)

type staticCreds struct {
	c   tenant.Credentials
	err error
}

func (s staticCreds) Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error) {
	return s.c, s.err
}

func testCreds(max int) staticCreds {
	return staticCreds{c: tenant.Credentials{
		PlatformBaseURL:   "https://platform.test",
		PlatformAccountID: 3,
		PlatformAPIToken:  "pf-token",
		GatewayBaseURL:    "https://gw.test",
		GatewayAdminToken: "gw-admin",
		MaxInstances:      max,
	}}
}

type fakeGateway struct {
	mu sync.Mutex

	token      string
	createErr  error
	report     gateway.StatusReport
	statusErr  error
	qr         gateway.QRCode
	connectErr error
	logoutErr  error
	deleteErr  error

	creates  []string
	bridges  []gateway.BridgeConfig
	webhooks []gateway.WebhookConfig
	deleted  []string
	statuses int

	// When set, Status signals statusEntered and waits on statusRelease.
	statusEntered chan struct{}
	statusRelease chan struct{}
}

func (f *fakeGateway) CreateInstance(ctx context.Context, ep gateway.Endpoint, name string) (gateway.CreatedInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, name)
	if f.createErr != nil {
		return gateway.CreatedInstance{}, f.createErr
	}
	return gateway.CreatedInstance{Name: name, Token: f.token}, nil
}

func (f *fakeGateway) DeleteInstance(ctx context.Context, ep gateway.Endpoint, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, token)
	return f.deleteErr
}

func (f *fakeGateway) Logout(ctx context.Context, ep gateway.Endpoint, token string) error {
	return f.logoutErr
}

func (f *fakeGateway) Connect(ctx context.Context, ep gateway.Endpoint, token string) (gateway.QRCode, error) {
	return f.qr, f.connectErr
}

func (f *fakeGateway) Status(ctx context.Context, ep gateway.Endpoint, token string) (gateway.StatusReport, error) {
	f.mu.Lock()
	f.statuses++
	rep, err := f.report, f.statusErr
	entered, release := f.statusEntered, f.statusRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return rep, err
}

// holdStatus makes the next Status calls block until the returned func runs.
func (f *fakeGateway) holdStatus() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusEntered = make(chan struct{}, 1)
	f.statusRelease = make(chan struct{})
	ch, rel := f.statusEntered, f.statusRelease
	return ch, func() {
		f.mu.Lock()
		f.statusEntered, f.statusRelease = nil, nil
		f.mu.Unlock()
		close(rel)
	}
}

func (f *fakeGateway) ConfigureBridge(ctx context.Context, ep gateway.Endpoint, token string, cfg gateway.BridgeConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bridges = append(f.bridges, cfg)
	return nil
}

func (f *fakeGateway) ConfigureWebhook(ctx context.Context, ep gateway.Endpoint, token string, cfg gateway.WebhookConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhooks = append(f.webhooks, cfg)
	return nil
}

func (f *fakeGateway) BridgeURL(ep gateway.Endpoint, name string) string {
	return ep.BaseURL + "/chatwoot/webhook/" + name
}

// fakePlatform implements only the inbox calls; anything else panics.
type fakePlatform struct {
	platform.Client

	inboxID   int64
	createErr error
	deleteErr error

	webhookURLs []string
	deleted     []int64
}

func (f *fakePlatform) CreateInbox(ctx context.Context, ep platform.Endpoint, name, webhookURL string) (platform.Inbox, error) {
	f.webhookURLs = append(f.webhookURLs, webhookURL)
	if f.createErr != nil {
		return platform.Inbox{}, f.createErr
	}
	return platform.Inbox{ID: f.inboxID, Name: name}, nil
}

func (f *fakePlatform) DeleteInbox(ctx context.Context, ep platform.Endpoint, inboxID int64) error {
	f.deleted = append(f.deleted, inboxID)
	return f.deleteErr
}

type fixture struct {
	repo   *MemoryRepo
	gw     *fakeGateway
	pf     *fakePlatform
	audits *audit.MemoryRepo
	prov   *Provisioner
	mon    *Monitor
	now    time.Time
}

func newFixture(creds CredentialSource) *fixture {
	f := &fixture{
		repo:   NewMemoryRepo(),
		gw:     &fakeGateway{token: "inst-token"},
		pf:     &fakePlatform{inboxID: 7},
		audits: audit.NewMemoryRepo(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	auditSvc := audit.NewService(f.audits)
	f.prov = NewProvisioner(f.repo, creds, f.gw, f.pf, auditSvc, WebhookTarget{PublicBaseURL: "https://crm.test", Secret: "s3cret"})
	f.prov.clock = f.clock
	f.mon = NewMonitor(f.repo, creds, f.gw, auditSvc, 2)
	f.mon.clock = f.clock
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) eventTypes() []audit.EventType {
	var out []audit.EventType
	for _, e := range f.audits.Events() {
		out = append(out, e.Type)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
