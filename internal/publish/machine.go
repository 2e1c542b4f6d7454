// Package publish drives the per-platform publish state machine:
// draft -> publishing -> published, with rollback to draft on failure so a
// platform is always re-tryable. Transitions are compare-and-swap updates
// in the store, which makes Deploy and DeployAll safe to re-invoke
// concurrently.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clipforge/internal/logging"
	"clipforge/internal/promo"
	"clipforge/internal/renderer"
	"clipforge/internal/store"
)

// ErrDeployInFlight: the platform is already publishing. The caller must
// not start a duplicate concurrent deploy; the entry stays untouched.
var ErrDeployInFlight = errors.New("deploy already in progress")

// Machine publishes campaign platform entries.
type Machine struct {
	store    *store.Store
	renderer *renderer.Renderer

	mu       sync.Mutex
	nextTok  int
	inflight map[string]map[int]context.CancelFunc
}

// NewMachine creates a publish machine over the store and renderer.
func NewMachine(st *store.Store, rd *renderer.Renderer) *Machine {
	return &Machine{
		store:    st,
		renderer: rd,
		inflight: make(map[string]map[int]context.CancelFunc),
	}
}

// Deploy publishes one platform entry. Already-published entries are a
// no-op; entries mid-publish are rejected with ErrDeployInFlight. On
// generation failure the entry rolls back to draft and the error
// propagates.
func (m *Machine) Deploy(ctx context.Context, campaignID string, platform promo.Platform) error {
	if !platform.Valid() {
		return fmt.Errorf("unknown platform %q", platform)
	}

	entry, err := m.store.GetPlatform(campaignID, platform)
	if err != nil {
		return err
	}
	switch entry.Status {
	case promo.StatusPublished:
		logging.PublishDebug("deploy %s/%s: already published, no-op", campaignID, platform)
		return nil
	case promo.StatusPublishing:
		return fmt.Errorf("%w: %s/%s", ErrDeployInFlight, campaignID, platform)
	}

	won, err := m.store.TransitionPlatform(campaignID, platform, promo.StatusDraft, promo.StatusPublishing, nil)
	if err != nil {
		return err
	}
	if !won {
		// Lost the race: someone else moved the entry since we read it.
		current, err := m.store.GetPlatform(campaignID, platform)
		if err != nil {
			return err
		}
		if current.Status == promo.StatusPublished {
			return nil
		}
		return fmt.Errorf("%w: %s/%s", ErrDeployInFlight, campaignID, platform)
	}

	ctx, done := m.track(ctx, campaignID)
	defer done()

	if err := m.publishEntry(ctx, campaignID, platform); err != nil {
		// Rollback to draft; the platform stays re-tryable.
		if _, rbErr := m.store.TransitionPlatform(campaignID, platform, promo.StatusPublishing, promo.StatusDraft, nil); rbErr != nil {
			logging.Get(logging.CategoryPublish).Error("rollback failed for %s/%s: %v", campaignID, platform, rbErr)
		}
		logging.Get(logging.CategoryPublish).Warn("deploy %s/%s failed, rolled back to draft: %v", campaignID, platform, err)
		return err
	}

	now := time.Now().UTC()
	if _, err := m.store.TransitionPlatform(campaignID, platform, promo.StatusPublishing, promo.StatusPublished, &now); err != nil {
		return err
	}
	logging.Publish("deployed %s/%s", campaignID, platform)
	return nil
}

// publishEntry renders (or reuses) the platform's aspect asset and records
// its reference on the campaign.
func (m *Machine) publishEntry(ctx context.Context, campaignID string, platform promo.Platform) error {
	c, err := m.store.Get(campaignID)
	if err != nil {
		return err
	}

	aspect := promo.AspectForPlatform(platform)
	candidate := promo.ClipCandidate{
		ID:               c.ID,
		Start:            c.ClipStart,
		End:              c.ClipEnd,
		Caption:          c.Caption,
		ViralTitle:       c.ViralTitle,
		ViralDescription: c.ViralDescription,
	}

	asset, err := m.renderer.RenderOne(ctx, candidate, c.Caption, aspect)
	if err != nil {
		return fmt.Errorf("asset generation for %s failed: %w", aspect, err)
	}
	return m.store.SetAsset(campaignID, aspect, asset.Ref)
}

// DeployAll deploys every platform currently in draft, concurrently.
// Re-invoking it (even concurrently) is safe: CAS transitions ensure each
// platform publishes at most once, and racing deployers are skipped rather
// than failed.
func (m *Machine) DeployAll(ctx context.Context, campaignID string) error {
	c, err := m.store.Get(campaignID)
	if err != nil {
		return err
	}

	var drafts []promo.Platform
	for _, e := range c.Platforms {
		if e.Status == promo.StatusDraft {
			drafts = append(drafts, e.Platform)
		}
	}
	if len(drafts) == 0 {
		logging.PublishDebug("deployAll %s: nothing in draft", campaignID)
		return nil
	}

	logging.Publish("deployAll %s: %d platforms", campaignID, len(drafts))

	var (
		errsMu sync.Mutex
		errs   []error
	)
	g := new(errgroup.Group)
	for _, platform := range drafts {
		platform := platform
		g.Go(func() error {
			if err := m.Deploy(ctx, campaignID, platform); err != nil && !errors.Is(err, ErrDeployInFlight) {
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", platform, err))
				errsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Cancel aborts every in-flight deploy for the campaign. Used on deletion:
// publishing a since-deleted campaign is a logic error.
func (m *Machine) Cancel(campaignID string) {
	m.mu.Lock()
	cancels := m.inflight[campaignID]
	delete(m.inflight, campaignID)
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// track registers a cancellable context for an in-flight deploy.
func (m *Machine) track(ctx context.Context, campaignID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.nextTok++
	tok := m.nextTok
	if m.inflight[campaignID] == nil {
		m.inflight[campaignID] = make(map[int]context.CancelFunc)
	}
	m.inflight[campaignID][tok] = cancel
	m.mu.Unlock()

	return ctx, func() {
		cancel()
		m.mu.Lock()
		delete(m.inflight[campaignID], tok)
		if len(m.inflight[campaignID]) == 0 {
			delete(m.inflight, campaignID)
		}
		m.mu.Unlock()
	}
}
