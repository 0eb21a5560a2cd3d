package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/phone"
	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/internal/tenant"
	"crm-platform/internal/upstream"
	"crm-platform/pkg/logger"

	"github.com/google/uuid"
)

// CredentialSource resolves per-tenant platform credentials.
type CredentialSource interface {
	Credentials(ctx context.Context, tenantID string) (tenant.Credentials, error)
}

type Options struct {
	// PageSize is the platform's listing page size; a shorter page ends the sync.
	PageSize int
	// MaxPages bounds a sync against a platform that never returns a short page.
	MaxPages int
}

// Reconciler keeps contacts and conversations consistent with the platform.
//
// Every write is an upsert by identity key ((tenant, phone) for contacts,
// (tenant, platform conversation id) for conversations) that re-derives its
// values from the remote payload, so full sync, webhooks and retries can run
// concurrently and repeat without harm.
type Reconciler struct {
	repo     Repository
	creds    CredentialSource
	pf       platform.Client
	pub      realtime.Publisher
	gate     Gate
	audit    *audit.Service
	pageSize int
	maxPages int
	clock    func() time.Time
}

func NewReconciler(repo Repository, creds CredentialSource, pf platform.Client, pub realtime.Publisher, gate Gate, auditSvc *audit.Service, opts Options) *Reconciler {
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 200
	}
	if pub == nil {
		pub = realtime.Discard{}
	}
	return &Reconciler{
		repo:     repo,
		creds:    creds,
		pf:       pf,
		pub:      pub,
		gate:     gate,
		audit:    auditSvc,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		clock:    time.Now,
	}
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
)

// FullSync pages through every platform conversation of the tenant and
// upserts it locally. A second run with no remote change writes nothing.
func (r *Reconciler) FullSync(ctx context.Context, tenantID string) (SyncResult, error) {
	if tenantID == "" {
		return SyncResult{}, ErrInvalidArgument
	}
	ep, err := r.endpoint(ctx, tenantID)
	if err != nil {
		return SyncResult{}, err
	}
	log := logger.From(ctx).With("tenant_id", tenantID)

	if r.gate != nil {
		release, ok, err := r.gate.Acquire(ctx, tenantID)
		switch {
		case err != nil:
			// Overlapping syncs are safe, only wasteful.
			log.Warn("sync gate unavailable; continuing ungated", "err", err)
		case !ok:
			return SyncResult{}, ErrSyncInProgress
		default:
			defer release()
		}
	}

	stages, err := r.repo.ListStages(ctx, tenantID)
	if err != nil {
		return SyncResult{}, err
	}

	var res SyncResult
	for page := 1; ; page++ {
		if page > r.maxPages {
			res.Truncated = true
			log.Warn("full sync hit page ceiling", "max_pages", r.maxPages)
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		pg, err := r.pf.ListConversations(ctx, ep, platform.ListQuery{Page: page, Status: platform.StatusAll})
		if err != nil {
			return res, fmt.Errorf("list conversations page %d: %w", page, err)
		}
		res.Pages++

		for _, rc := range pg.Conversations {
			res.Total++
			_, out, err := r.apply(ctx, tenantID, rc, stages)
			switch {
			case errors.Is(err, ErrNoPhone):
				res.Skipped++
			case err != nil:
				res.Failed++
				log.Warn("conversation sync failed", "platform_conversation_id", rc.ID, "err", err)
			case out == outcomeCreated:
				res.Created++
			case out == outcomeUpdated:
				res.Updated++
			default:
				res.Unchanged++
			}
		}
		if len(pg.Conversations) < r.pageSize {
			break
		}
	}

	log.Info("full sync finished",
		"total", res.Total,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"pages", res.Pages,
	)
	return res, nil
}

// ApplyRemoteConversation upserts one platform conversation as given.
func (r *Reconciler) ApplyRemoteConversation(ctx context.Context, tenantID string, rc platform.Conversation) (Conversation, error) {
	if tenantID == "" || rc.ID <= 0 {
		return Conversation{}, ErrInvalidArgument
	}
	stages, err := r.repo.ListStages(ctx, tenantID)
	if err != nil {
		return Conversation{}, err
	}
	c, _, err := r.apply(ctx, tenantID, rc, stages)
	return c, err
}

// SyncConversation re-reads one conversation from the platform and upserts
// it. latest, when set, is a message the caller already knows about; it is
// used if the platform's answer does not include it yet. A conversation the
// platform no longer has is a no-op.
func (r *Reconciler) SyncConversation(ctx context.Context, tenantID string, platformID int64, latest *platform.Message) (Conversation, error) {
	if tenantID == "" || platformID <= 0 {
		return Conversation{}, ErrInvalidArgument
	}
	ep, err := r.endpoint(ctx, tenantID)
	if err != nil {
		return Conversation{}, err
	}
	rc, err := r.pf.GetConversation(ctx, ep, platformID)
	if err != nil {
		if upstream.IsStatus(err, http.StatusNotFound) {
			logger.From(ctx).Info("conversation gone on platform", "tenant_id", tenantID, "platform_conversation_id", platformID)
			return Conversation{}, nil
		}
		return Conversation{}, err
	}
	if latest != nil && !latest.Private && latest.MessageType != platform.MessageActivity {
		if cur, ok := rc.Latest(); !ok || latest.CreatedAt > cur.CreatedAt {
			m := *latest
			rc.LastMessage = &m
		}
	}
	return r.ApplyRemoteConversation(ctx, tenantID, rc)
}

// ApplyRemoteContact upserts a platform contact. Contacts without a usable
// phone number cannot be keyed and are ignored.
func (r *Reconciler) ApplyRemoteContact(ctx context.Context, tenantID string, rc platform.Contact) (Contact, error) {
	if tenantID == "" {
		return Contact{}, ErrInvalidArgument
	}
	c, err := r.upsertContact(ctx, tenantID, rc)
	if errors.Is(err, ErrNoPhone) {
		logger.From(ctx).Debug("contact without phone ignored", "tenant_id", tenantID, "platform_contact_id", rc.ID)
		return Contact{}, nil
	}
	return c, err
}

func (r *Reconciler) apply(ctx context.Context, tenantID string, rc platform.Conversation, stages []Stage) (Conversation, outcome, error) {
	contact, err := r.upsertContact(ctx, tenantID, rc.Meta.Sender)
	if err != nil {
		return Conversation{}, outcomeUnchanged, err
	}
	assignee, err := r.resolveAssignee(ctx, tenantID, rc.Meta.Assignee)
	if err != nil {
		return Conversation{}, outcomeUnchanged, err
	}

	cur, err := r.repo.GetConversationByPlatformID(ctx, tenantID, rc.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		c := r.newConversation(tenantID, contact.ID, rc, assignee, stages)
		err := r.repo.InsertConversation(ctx, c)
		if err == nil {
			r.publish(ctx, tenantID, c.ID, realtime.KindCreated)
			return c, outcomeCreated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Conversation{}, outcomeUnchanged, err
		}
		// Lost the insert race; merge into the winner.
		cur, err = r.repo.GetConversationByPlatformID(ctx, tenantID, rc.ID)
		if err != nil {
			return Conversation{}, outcomeUnchanged, err
		}
	case err != nil:
		return Conversation{}, outcomeUnchanged, err
	}

	next, changed := mergeConversation(cur, contact.ID, rc, assignee, stages)
	if !changed {
		return cur, outcomeUnchanged, nil
	}
	next.UpdatedAt = r.clock().UTC()
	if err := r.repo.UpdateConversation(ctx, next); err != nil {
		return Conversation{}, outcomeUnchanged, err
	}
	r.publish(ctx, tenantID, next.ID, realtime.KindUpdated)
	return next, outcomeUpdated, nil
}

func (r *Reconciler) newConversation(tenantID, contactID string, rc platform.Conversation, assignee *string, stages []Stage) Conversation {
	now := r.clock().UTC()
	pid := rc.ID
	c := Conversation{
		ID:                     uuid.NewString(),
		TenantID:               tenantID,
		ContactID:              contactID,
		PlatformConversationID: &pid,
		AssigneeUserID:         assignee,
		Status:                 mapStatus(rc.Status),
		Priority:               rc.Priority,
		UnreadCount:            rc.UnreadCount,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if rc.InboxID > 0 {
		inbox := rc.InboxID
		c.PlatformInboxID = &inbox
	}
	if id := stageFromLabels(rc.Labels, stages); id != "" {
		c.StageID = &id
	} else if s, ok := initialStage(stages); ok {
		id := s.ID
		c.StageID = &id
	}
	if at, preview, ok := remoteActivity(rc); ok {
		c.LastActivityAt = &at
		c.LastMessagePreview = preview
	}
	return c
}

// mergeConversation applies the remote values onto cur. Activity and
// preview never move backwards; an empty priority keeps the local one.
func mergeConversation(cur Conversation, contactID string, rc platform.Conversation, assignee *string, stages []Stage) (Conversation, bool) {
	next := cur
	next.ContactID = contactID
	if rc.InboxID > 0 {
		inbox := rc.InboxID
		next.PlatformInboxID = &inbox
	}
	next.Status = mapStatus(rc.Status)
	if rc.Priority != "" {
		next.Priority = rc.Priority
	}
	next.UnreadCount = rc.UnreadCount
	next.AssigneeUserID = assignee
	if id := stageFromLabels(rc.Labels, stages); id != "" {
		next.StageID = &id
	}
	if at, preview, ok := remoteActivity(rc); ok && (cur.LastActivityAt == nil || !at.Before(*cur.LastActivityAt)) {
		next.LastActivityAt = &at
		if preview != "" {
			next.LastMessagePreview = preview
		}
	}
	return next, !sameConversation(cur, next)
}

func (r *Reconciler) upsertContact(ctx context.Context, tenantID string, rc platform.Contact) (Contact, error) {
	raw := rc.PhoneNumber
	if raw == "" {
		raw = rc.Identifier
	}
	norm, err := phone.Normalize(raw)
	if err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrNoPhone, err)
	}

	cur, err := r.repo.GetContactByPhone(ctx, tenantID, norm)
	switch {
	case errors.Is(err, ErrNotFound):
		now := r.clock().UTC()
		c := Contact{
			ID:              uuid.NewString(),
			TenantID:        tenantID,
			PhoneRaw:        raw,
			PhoneNormalized: norm,
			Name:            strings.TrimSpace(rc.Name),
			Email:           strings.TrimSpace(rc.Email),
			AvatarURL:       rc.Thumbnail,
			Source:          "platform",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if rc.ID > 0 {
			id := rc.ID
			c.PlatformContactID = &id
		}
		err := r.repo.InsertContact(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Contact{}, err
		}
		cur, err = r.repo.GetContactByPhone(ctx, tenantID, norm)
		if err != nil {
			return Contact{}, err
		}
	case err != nil:
		return Contact{}, err
	}

	next, changed := mergeContact(cur, rc, raw)
	if !changed {
		return cur, nil
	}
	next.UpdatedAt = r.clock().UTC()
	if err := r.repo.UpdateContact(ctx, next); err != nil {
		return Contact{}, err
	}
	return next, nil
}

// mergeContact never replaces a known value with an empty one. The platform
// contact id is last-writer-wins.
func mergeContact(cur Contact, rc platform.Contact, raw string) (Contact, bool) {
	next := cur
	changed := false
	set := func(dst *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&next.Name, rc.Name)
	set(&next.Email, rc.Email)
	set(&next.AvatarURL, rc.Thumbnail)
	if next.PhoneRaw == "" {
		set(&next.PhoneRaw, raw)
	}
	if rc.ID > 0 && (cur.PlatformContactID == nil || *cur.PlatformContactID != rc.ID) {
		id := rc.ID
		next.PlatformContactID = &id
		changed = true
	}
	return next, changed
}

// resolveAssignee maps a platform agent to a CRM user. Unmapped agents are
// left unassigned; the next sync resolves them once a mapping exists.
func (r *Reconciler) resolveAssignee(ctx context.Context, tenantID string, a *platform.Agent) (*string, error) {
	if a == nil || a.ID <= 0 {
		return nil, nil
	}
	userID, err := r.repo.ResolveAgent(ctx, tenantID, a.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &userID, nil
}

func (r *Reconciler) endpoint(ctx context.Context, tenantID string) (platform.Endpoint, error) {
	creds, err := r.creds.Credentials(ctx, tenantID)
	if err != nil {
		return platform.Endpoint{}, err
	}
	if !creds.HasPlatform() {
		return platform.Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidArgument, platform.ErrMissingCredentials)
	}
	return platform.Endpoint{BaseURL: creds.PlatformBaseURL, AccountID: creds.PlatformAccountID, APIToken: creds.PlatformAPIToken}, nil
}

func (r *Reconciler) publish(ctx context.Context, tenantID, conversationID string, kind realtime.Kind) {
	n := realtime.Notice{TenantID: tenantID, ConversationID: conversationID, Kind: kind, At: r.clock().UTC()}
	if err := r.pub.Publish(ctx, n); err != nil {
		logger.From(ctx).Warn("change notice publish failed", "conversation_id", conversationID, "err", err)
	}
}

func mapStatus(remote string) Status {
	if remote == platform.StatusResolved {
		return StatusResolved
	}
	return StatusOpen
}

// remoteActivity returns the newest activity time and the preview of the
// latest message, if the payload carries any activity.
func remoteActivity(rc platform.Conversation) (time.Time, string, bool) {
	at := rc.LastActivity()
	preview := ""
	if m, ok := rc.Latest(); ok {
		preview = Preview(m)
		if t := m.Time(); t.After(at) {
			at = t
		}
	}
	return at, preview, !at.IsZero()
}

func sameConversation(a, b Conversation) bool {
	return a.ContactID == b.ContactID &&
		eqInt(a.PlatformInboxID, b.PlatformInboxID) &&
		eqString(a.StageID, b.StageID) &&
		eqString(a.AssigneeUserID, b.AssigneeUserID) &&
		a.Status == b.Status &&
		a.Priority == b.Priority &&
		a.LastMessagePreview == b.LastMessagePreview &&
		a.UnreadCount == b.UnreadCount &&
		eqTime(a.LastActivityAt, b.LastActivityAt)
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
