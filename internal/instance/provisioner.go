package instance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/gateway"
	"crm-platform/internal/platform"
	"crm-platform/internal/tenant"
	"crm-platform/internal/upstream"
	"crm-platform/pkg/logger"

	"github.com/google/uuid"
)

// CredentialSource resolves per-tenant upstream credentials.
type CredentialSource interface {
	Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error)
}

// WebhookTarget is where the gateway sends connection events for this process.
type WebhookTarget struct {
	PublicBaseURL string
	Secret        string
}

// URL returns the direct webhook URL for a gateway instance, or "" when no
// public base URL is configured.
func (w WebhookTarget) URL(gatewayName string) string {
	if w.PublicBaseURL == "" {
		return ""
	}
	u := strings.TrimRight(w.PublicBaseURL, "/") + "/webhooks/gateway/" + url.PathEscape(gatewayName)
	if w.Secret != "" {
		u += "?secret=" + url.QueryEscape(w.Secret)
	}
	return u
}

var (
	errNoGatewayCredentials  = fmt.Errorf("%w: tenant has no gateway credentials", ErrIncomplete)
	errNoPlatformCredentials = fmt.Errorf("%w: tenant has no platform credentials", ErrIncomplete)
)

// Provisioner owns the instance record and the two external resources behind it.
//
// Provisioning spans the gateway and the platform with no shared transaction.
// Whatever half succeeds is persisted and the rest is left for Repair.
type Provisioner struct {
	repo    Repository
	creds   CredentialSource
	gw      gateway.Client
	pf      platform.Client
	audit   *audit.Service
	webhook WebhookTarget
	clock   func() time.Time
}

func NewProvisioner(repo Repository, creds CredentialSource, gw gateway.Client, pf platform.Client, auditSvc *audit.Service, webhook WebhookTarget) *Provisioner {
	return &Provisioner{
		repo:    repo,
		creds:   creds,
		gw:      gw,
		pf:      pf,
		audit:   auditSvc,
		webhook: webhook,
		clock:   time.Now,
	}
}

func (p *Provisioner) Get(ctx context.Context, tenantID, id string) (Instance, error) {
	if tenantID == "" || id == "" {
		return Instance{}, ErrInvalidArgument
	}
	return p.repo.Get(ctx, tenantID, id)
}

func (p *Provisioner) List(ctx context.Context, tenantID string) ([]Instance, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	return p.repo.List(ctx, tenantID)
}

// Provision creates a channel instance for the tenant.
//
// Quota and label uniqueness are checked before any external call. A failed
// gateway or platform step does not fail the call; the returned instance has
// a nil token or inbox id and Complete() reports false.
func (p *Provisioner) Provision(ctx context.Context, tenantID, label string) (Instance, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Instance{}, ErrInvalidArgument
	}
	label, err := validateLabel(label)
	if err != nil {
		return Instance{}, err
	}
	creds, err := p.creds.Credentials(ctx, tenantID)
	if err != nil {
		return Instance{}, err
	}

	used, err := p.repo.Count(ctx, tenantID)
	if err != nil {
		return Instance{}, err
	}
	if used >= creds.MaxInstances {
		return Instance{}, &QuotaExceededError{Limit: creds.MaxInstances, Used: used}
	}

	if _, err := p.repo.GetByLabel(ctx, tenantID, label); err == nil {
		return Instance{}, ErrDuplicateName
	} else if !errors.Is(err, ErrNotFound) {
		return Instance{}, err
	}

	now := p.clock().UTC()
	inst := Instance{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Label:       label,
		GatewayName: GatewayName(label, tenantID, now),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	log := logger.From(ctx).With("tenant_id", tenantID, "instance_id", inst.ID, "gateway_name", inst.GatewayName)

	// The two creates are independent; neither is undone when the other fails.
	var failures []string
	if err := p.createGatewayChannel(ctx, creds, &inst); err != nil {
		log.Warn("gateway channel create failed", "err", err)
		failures = append(failures, "gateway: "+err.Error())
	}
	if err := p.createInbox(ctx, creds, &inst); err != nil {
		log.Warn("platform inbox create failed", "err", err)
		failures = append(failures, "platform: "+err.Error())
	}
	p.configure(ctx, creds, inst)

	if err := p.repo.Create(ctx, inst); err != nil {
		// Nothing references the remote resources without the row.
		p.teardown(ctx, creds, inst)
		return Instance{}, err
	}

	actor, _ := auth.UserID(ctx)
	if inst.Complete() {
		p.audit.LogInstance(ctx, tenantID, actor, audit.EventInstanceProvisioned, inst.ID, "instance provisioned", map[string]any{
			"label":        inst.Label,
			"gateway_name": inst.GatewayName,
			"inbox_id":     *inst.PlatformInboxID,
		})
	} else {
		p.audit.LogInstance(ctx, tenantID, actor, audit.EventInstanceProvisioningPartial, inst.ID, "instance provisioned partially", map[string]any{
			"label":         inst.Label,
			"gateway_name":  inst.GatewayName,
			"has_token":     inst.HasToken(),
			"has_inbox":     inst.HasInbox(),
			"failures":      failures,
			"used_before":   used,
			"max_instances": creds.MaxInstances,
		})
	}
	log.Info("instance provisioned", "complete", inst.Complete())
	return inst, nil
}

// Repair re-attempts only the missing half of a partially provisioned
// instance. The gateway name never changes. When the instance is still
// incomplete afterwards, the updated instance is returned along with the cause.
//
// Repair is an explicit re-provisioning: a permanent gateway refusal parks the
// instance in error, and completing an instance in error returns it to pending.
func (p *Provisioner) Repair(ctx context.Context, tenantID, id string) (Instance, error) {
	inst, err := p.Get(ctx, tenantID, id)
	if err != nil {
		return Instance{}, err
	}
	creds, err := p.creds.Credentials(ctx, tenantID)
	if err != nil {
		return Instance{}, err
	}
	log := logger.From(ctx).With("tenant_id", tenantID, "instance_id", inst.ID, "gateway_name", inst.GatewayName)

	var (
		errs      []error
		permanent bool
		created   = Instance{ID: inst.ID, TenantID: inst.TenantID, GatewayName: inst.GatewayName}
	)
	if !inst.HasToken() {
		if err := p.createGatewayChannel(ctx, creds, &created); err != nil {
			log.Warn("gateway channel repair failed", "err", err)
			errs = append(errs, err)
			permanent = isPermanent(err)
		}
	}
	if !inst.HasInbox() {
		created.Label = inst.Label
		if err := p.createInbox(ctx, creds, &created); err != nil {
			log.Warn("platform inbox repair failed", "err", err)
			errs = append(errs, err)
		}
	}

	if created.HasToken() || created.HasInbox() {
		// Only NULL columns are filled; status and profile stay with the monitor.
		stored, err := p.repo.FillProvisioning(ctx, tenantID, id, created.GatewayToken, created.PlatformInboxID, p.clock().UTC())
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Warn("instance deleted during repair; dropping new resources")
				p.teardown(ctx, creds, created)
			}
			return Instance{}, err
		}
		if created.HasInbox() && *stored.PlatformInboxID != *created.PlatformInboxID {
			log.Warn("inbox filled by a concurrent repair; dropping duplicate", "inbox_id", *created.PlatformInboxID)
			p.teardown(ctx, creds, Instance{ID: inst.ID, GatewayName: inst.GatewayName, PlatformInboxID: created.PlatformInboxID})
		}
		inst = stored
	}
	p.configure(ctx, creds, inst)

	switch {
	case permanent && !inst.HasToken() && CanTransition(inst.Status, StatusError):
		inst, _, err = p.moveStatus(ctx, inst, StatusError, nil)
	case inst.Complete() && inst.Status == StatusError && CanTransition(StatusError, StatusPending):
		inst, _, err = p.moveStatus(ctx, inst, StatusPending, nil)
	}
	if err != nil {
		return Instance{}, err
	}

	actor, _ := auth.UserID(ctx)
	p.audit.LogInstance(ctx, tenantID, actor, audit.EventInstanceRepaired, inst.ID, "instance repair attempted", map[string]any{
		"complete":  inst.Complete(),
		"has_token": inst.HasToken(),
		"has_inbox": inst.HasInbox(),
	})

	if !inst.Complete() {
		return inst, fmt.Errorf("instance %s still incomplete: %w", inst.GatewayName, errors.Join(errs...))
	}
	return inst, nil
}

// Deprovision tears down the remote resources best-effort and always deletes
// the local row, so an unreachable upstream can never pin it.
func (p *Provisioner) Deprovision(ctx context.Context, tenantID, id string) error {
	inst, err := p.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	creds, err := p.creds.Credentials(ctx, tenantID)
	if err != nil {
		logger.From(ctx).Warn("deprovision without credentials; skipping remote teardown", "instance_id", id, "err", err)
	} else {
		p.teardown(ctx, creds, inst)
	}

	if err := p.repo.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	actor, _ := auth.UserID(ctx)
	p.audit.LogInstance(ctx, tenantID, actor, audit.EventInstanceDeprovisioned, inst.ID, "instance deprovisioned", map[string]any{
		"label":        inst.Label,
		"gateway_name": inst.GatewayName,
	})
	return nil
}

// Reconnect moves a disconnected or failed instance back to pending. It does
// not touch the gateway; the next QR request or poll picks it up.
func (p *Provisioner) Reconnect(ctx context.Context, tenantID, id string) (Instance, error) {
	inst, err := p.Get(ctx, tenantID, id)
	if err != nil {
		return Instance{}, err
	}
	if inst.Status != StatusDisconnected && inst.Status != StatusError {
		return Instance{}, &TransitionError{From: inst.Status, To: StatusPending}
	}
	from := inst.Status
	inst, applied, err := p.moveStatus(ctx, inst, StatusPending, func(i *Instance) { i.DisconnectedAt = nil })
	if err != nil {
		return Instance{}, err
	}
	if !applied {
		return Instance{}, &TransitionError{From: inst.Status, To: StatusPending}
	}

	actor, _ := auth.UserID(ctx)
	p.audit.LogInstance(ctx, tenantID, actor, audit.EventInstanceReconnected, inst.ID, "instance reset to pending", map[string]any{
		"from": from,
	})
	return inst, nil
}

// GetQRCode asks the gateway to start pairing and returns the QR payload.
func (p *Provisioner) GetQRCode(ctx context.Context, tenantID, id string) (gateway.QRCode, Instance, error) {
	inst, err := p.Get(ctx, tenantID, id)
	if err != nil {
		return gateway.QRCode{}, Instance{}, err
	}
	if !inst.HasToken() {
		return gateway.QRCode{}, inst, ErrIncomplete
	}
	creds, err := p.creds.Credentials(ctx, tenantID)
	if err != nil {
		return gateway.QRCode{}, inst, err
	}

	qr, err := p.gw.Connect(ctx, gatewayEndpoint(creds), *inst.GatewayToken)
	if err != nil {
		if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return gateway.QRCode{}, inst, err
	}

	if qr.Code != "" && CanTransition(inst.Status, StatusQRReady) {
		inst, _, err = p.moveStatus(ctx, inst, StatusQRReady, nil)
		if err != nil {
			return gateway.QRCode{}, Instance{}, err
		}
	}
	return qr, inst, nil
}

// moveStatus writes a status change guarded on the status inst was read with.
// When another writer moved the row first, the stored row is returned with
// applied false.
func (p *Provisioner) moveStatus(ctx context.Context, inst Instance, to Status, edit func(*Instance)) (Instance, bool, error) {
	next := inst
	next.Status = to
	if edit != nil {
		edit(&next)
	}
	next.UpdatedAt = p.clock().UTC()
	applied, err := p.repo.UpdateStatus(ctx, inst.Status, next)
	if err != nil {
		return Instance{}, false, err
	}
	if !applied {
		cur, err := p.repo.Get(ctx, inst.TenantID, inst.ID)
		return cur, false, err
	}
	return next, true, nil
}

func (p *Provisioner) createGatewayChannel(ctx context.Context, creds tenant.Credentials, inst *Instance) error {
	if !creds.HasGateway() {
		return errNoGatewayCredentials
	}
	created, err := p.gw.CreateInstance(ctx, gatewayEndpoint(creds), inst.GatewayName)
	if err != nil {
		return err
	}
	token := created.Token
	inst.GatewayToken = &token
	return nil
}

func (p *Provisioner) createInbox(ctx context.Context, creds tenant.Credentials, inst *Instance) error {
	if !creds.HasPlatform() {
		return errNoPlatformCredentials
	}
	if creds.GatewayBaseURL == "" {
		return errNoGatewayCredentials
	}
	gep := gatewayEndpoint(creds)
	inbox, err := p.pf.CreateInbox(ctx, platformEndpoint(creds), inst.Label, p.gw.BridgeURL(gep, inst.GatewayName))
	if err != nil {
		return err
	}
	id := inbox.ID
	inst.PlatformInboxID = &id
	return nil
}

// configure wires the gateway to the inbox and to this process. Both calls
// are idempotent on the gateway side and are retried by Repair.
func (p *Provisioner) configure(ctx context.Context, creds tenant.Credentials, inst Instance) {
	if !inst.HasToken() {
		return
	}
	log := logger.From(ctx).With("instance_id", inst.ID, "gateway_name", inst.GatewayName)
	gep := gatewayEndpoint(creds)

	if inst.HasInbox() {
		err := p.gw.ConfigureBridge(ctx, gep, *inst.GatewayToken, gateway.BridgeConfig{
			Enabled:        true,
			PlatformURL:    creds.PlatformBaseURL,
			AccessToken:    creds.PlatformAPIToken,
			AccountID:      creds.PlatformAccountID,
			InboxID:        *inst.PlatformInboxID,
			SignMessages:   true,
			ReopenResolved: true,
		})
		if err != nil {
			log.Warn("gateway bridge configuration failed", "err", err)
		}
	}

	if target := p.webhook.URL(inst.GatewayName); target != "" {
		err := p.gw.ConfigureWebhook(ctx, gep, *inst.GatewayToken, gateway.WebhookConfig{
			URL:     target,
			Events:  gateway.ConnectionEvents,
			Enabled: true,
		})
		if err != nil {
			log.Warn("gateway webhook configuration failed", "err", err)
		}
	}
}

func (p *Provisioner) teardown(ctx context.Context, creds tenant.Credentials, inst Instance) {
	log := logger.From(ctx).With("instance_id", inst.ID, "gateway_name", inst.GatewayName)
	gep := gatewayEndpoint(creds)

	if inst.HasToken() {
		if err := p.gw.Logout(ctx, gep, *inst.GatewayToken); err != nil {
			log.Warn("gateway logout failed", "err", err)
		}
		if err := p.gw.DeleteInstance(ctx, gep, *inst.GatewayToken); err != nil {
			log.Warn("gateway delete failed", "err", err)
		}
	}
	if inst.HasInbox() && creds.HasPlatform() {
		if err := p.pf.DeleteInbox(ctx, platformEndpoint(creds), *inst.PlatformInboxID); err != nil {
			log.Warn("platform inbox delete failed", "err", err)
		}
	}
}

// isPermanent reports a 4xx answer other than 429, which retrying won't fix.
func isPermanent(err error) bool {
	var se *upstream.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
}

func gatewayEndpoint(c tenant.Credentials) gateway.Endpoint {
	return gateway.Endpoint{BaseURL: c.GatewayBaseURL, AdminToken: c.GatewayAdminToken}
}

func platformEndpoint(c tenant.Credentials) platform.Endpoint {
	return platform.Endpoint{BaseURL: c.PlatformBaseURL, AccountID: c.PlatformAccountID, APIToken: c.PlatformAPIToken}
}
