package instance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/gateway"
	"crm-platform/internal/phone"
	"crm-platform/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Monitor reconciles local instance status with the gateway's live answer.
// Refreshes are best-effort: an unreachable gateway leaves the row untouched.
type Monitor struct {
	repo        Repository
	creds       CredentialSource
	gw          gateway.Client
	audit       *audit.Service
	concurrency int
	clock       func() time.Time
}

func NewMonitor(repo Repository, creds CredentialSource, gw gateway.Client, auditSvc *audit.Service, concurrency int) *Monitor {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Monitor{
		repo:        repo,
		creds:       creds,
		gw:          gw,
		audit:       auditSvc,
		concurrency: concurrency,
		clock:       time.Now,
	}
}

// MapStatus maps a gateway report onto the local enum.
//
// The connected/logged-in flag wins over the raw status string. A QR payload
// counts as qr_ready even when the raw status is missing.
func MapStatus(rep gateway.StatusReport) Status {
	if (rep.Connected != nil && *rep.Connected) || rep.LoggedIn {
		return StatusConnected
	}
	switch strings.ToLower(strings.TrimSpace(rep.RawStatus)) {
	case "qrcode", "qr", "waiting":
		return StatusQRReady
	case "connecting":
		return StatusConnecting
	case "connected", "open":
		if rep.Connected == nil {
			return StatusConnected
		}
	}
	if rep.QRCode != "" {
		return StatusQRReady
	}
	return StatusDisconnected
}

type refreshOutcome int

const (
	outcomeUnchanged refreshOutcome = iota
	outcomeUpdated
	outcomeUnreachable
)

// RefreshStatus queries the gateway and writes the instance only when its
// status or profile changed. Gateway failures return the stored row and no error.
func (m *Monitor) RefreshStatus(ctx context.Context, tenantID, id string) (Instance, error) {
	if tenantID == "" || id == "" {
		return Instance{}, ErrInvalidArgument
	}
	inst, err := m.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Instance{}, err
	}
	out, _, err := m.refresh(ctx, inst)
	return out, err
}

// HandleGatewayEvent refreshes the instance a gateway webhook names. The
// payload itself is not trusted; the gateway is asked again.
func (m *Monitor) HandleGatewayEvent(ctx context.Context, gatewayName string) (Instance, error) {
	if gatewayName == "" {
		return Instance{}, ErrInvalidArgument
	}
	inst, err := m.repo.GetByGatewayName(ctx, gatewayName)
	if err != nil {
		return Instance{}, err
	}
	out, _, err := m.refresh(ctx, inst)
	return out, err
}

// PollResult summarizes one PollAll pass.
type PollResult struct {
	Checked     int `json:"checked"`
	Updated     int `json:"updated"`
	Unreachable int `json:"unreachable"`
	Failed      int `json:"failed"`
}

// PollAll refreshes every pollable instance across tenants with bounded
// concurrency. One failing instance never stops the pass.
func (m *Monitor) PollAll(ctx context.Context) (PollResult, error) {
	list, err := m.repo.ListPollable(ctx)
	if err != nil {
		return PollResult{}, err
	}

	var (
		mu  sync.Mutex
		res PollResult
		g   errgroup.Group
	)
	g.SetLimit(m.concurrency)
	for _, inst := range list {
		inst := inst
		g.Go(func() error {
			_, outcome, err := m.refresh(ctx, inst)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch {
			case errors.Is(err, ErrNotFound):
				// Deprovisioned mid-pass.
			case err != nil:
				res.Failed++
				logger.From(ctx).Error("status poll write failed", "instance_id", inst.ID, "err", err)
			case outcome == outcomeUpdated:
				res.Updated++
			case outcome == outcomeUnreachable:
				res.Unreachable++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, ctx.Err()
}

func (m *Monitor) refresh(ctx context.Context, inst Instance) (Instance, refreshOutcome, error) {
	log := logger.From(ctx).With("tenant_id", inst.TenantID, "instance_id", inst.ID)
	if !inst.HasToken() {
		return inst, outcomeUnchanged, nil
	}
	creds, err := m.creds.Credentials(ctx, inst.TenantID)
	if err != nil {
		log.Warn("status refresh skipped: credentials unavailable", "err", err)
		return inst, outcomeUnreachable, nil
	}
	rep, err := m.gw.Status(ctx, gatewayEndpoint(creds), *inst.GatewayToken)
	if err != nil {
		log.Warn("status refresh skipped: gateway unavailable", "err", err)
		return inst, outcomeUnreachable, nil
	}

	next, changed := m.apply(inst, rep)
	if !changed {
		return inst, outcomeUnchanged, nil
	}
	if next.Status != inst.Status && !CanTransition(inst.Status, next.Status) {
		// Moves outside the state machine wait for Reconnect or a later poll.
		log.Debug("status transition skipped", "from", inst.Status, "to", next.Status)
		return inst, outcomeUnchanged, nil
	}

	next.UpdatedAt = m.clock().UTC()
	applied, err := m.repo.UpdateStatus(ctx, inst.Status, next)
	if err != nil {
		return inst, outcomeUnchanged, err
	}
	if !applied {
		// Another writer moved the row during the gateway call; the next poll
		// starts from what it wrote.
		log.Debug("instance changed during refresh; write skipped")
		cur, err := m.repo.Get(ctx, inst.TenantID, inst.ID)
		if err != nil {
			return inst, outcomeUnchanged, err
		}
		return cur, outcomeUnchanged, nil
	}
	if next.Status != inst.Status {
		m.audit.LogInstance(ctx, inst.TenantID, "", audit.EventInstanceStatusChanged, inst.ID, "instance status changed", map[string]any{
			"from":       inst.Status,
			"to":         next.Status,
			"raw_status": rep.RawStatus,
		})
		log.Info("instance status changed", "from", inst.Status, "to", next.Status)
	}
	return next, outcomeUpdated, nil
}

// apply computes the row the report implies and whether it differs.
func (m *Monitor) apply(inst Instance, rep gateway.StatusReport) (Instance, bool) {
	next := inst
	target := MapStatus(rep)
	now := m.clock().UTC()

	if target != inst.Status {
		next.Status = target
		switch target {
		case StatusConnected:
			if next.ConnectedAt == nil {
				next.ConnectedAt = &now
			}
		case StatusDisconnected:
			next.DisconnectedAt = &now
		}
	}

	if target == StatusConnected {
		if rep.ProfileName != "" {
			next.ProfileName = rep.ProfileName
		}
		if rep.ProfilePicURL != "" {
			next.ProfileAvatarURL = rep.ProfilePicURL
		}
		if rep.Platform != "" {
			next.PlatformTag = rep.Platform
		}
		next.IsBusiness = rep.IsBusiness
		owner := rep.Owner
		if owner == "" {
			owner = rep.JID
		}
		if owner != "" {
			if d, err := phone.Normalize(owner); err == nil {
				next.PhoneNumber = phone.Format(d)
			}
		}
	}

	return next, next.Status != inst.Status || !profileEqual(inst, next)
}

func profileEqual(a, b Instance) bool {
	return a.ProfileName == b.ProfileName &&
		a.ProfileAvatarURL == b.ProfileAvatarURL &&
		a.PhoneNumber == b.PhoneNumber &&
		a.IsBusiness == b.IsBusiness &&
		a.PlatformTag == b.PlatformTag
}
