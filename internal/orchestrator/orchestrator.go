// Package orchestrator is the façade over the campaign pipeline: extract
// clip candidates, render previews, launch a campaign with its mirrored
// profile link, and drive per-platform publishing. It classifies gateway
// failures and owns the credential-rotation recovery flow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"clipforge/internal/auth"
	"clipforge/internal/extractor"
	"clipforge/internal/gateway"
	"clipforge/internal/logging"
	"clipforge/internal/promo"
	"clipforge/internal/publish"
	"clipforge/internal/renderer"
	"clipforge/internal/store"
)

// FailureClass buckets an operation failure for the caller.
type FailureClass string

const (
	// FailureQuotaExhausted: the gateway ran out of quota even after local
	// retries. The caller should offer credential rotation, then call
	// RotateAndRetry.
	FailureQuotaExhausted FailureClass = "quota_exhausted"
	// FailureOther: surfaced as an outcome-level failure, no auto-retry.
	FailureOther FailureClass = "other"
)

// Classify buckets err. Rate-limit failures that exhausted the retry
// budget (or escaped it) map to the recovery flow.
func Classify(err error) FailureClass {
	if gateway.IsQuotaExhausted(err) || gateway.IsRateLimited(err) {
		return FailureQuotaExhausted
	}
	return FailureOther
}

// PreviewAspects are the ratios rendered for the selection preview: one per
// distinct platform requirement plus the square profile thumbnail.
var PreviewAspects = []promo.AspectRatio{
	promo.AspectVertical,
	promo.AspectNearSquare,
	promo.AspectWidescreen,
	promo.AspectSquare,
}

// Orchestrator sequences the campaign pipeline.
type Orchestrator struct {
	extractor *extractor.Extractor
	renderer  *renderer.Renderer
	store     *store.Store
	publisher *publish.Machine
	keys      *auth.KeyRing

	mu     sync.Mutex
	busy   map[string]bool // campaign ids with a mutation in flight
	lastOp func(ctx context.Context) error
}

// New wires an orchestrator from its collaborators. Store handles are
// injected here rather than read from ambient state.
func New(gw gateway.Client, st *store.Store, keys *auth.KeyRing) *Orchestrator {
	rd := renderer.New(gw)
	return &Orchestrator{
		extractor: extractor.New(gw),
		renderer:  rd,
		store:     st,
		publisher: publish.NewMachine(st, rd),
		keys:      keys,
		busy:      make(map[string]bool),
	}
}

// Renderer exposes the shared renderer (previews and tests).
func (o *Orchestrator) Renderer() *renderer.Renderer { return o.renderer }

// acquire marks a campaign id as mutating, rejecting conflicting
// concurrent mutations (e.g. launch + delete) on the same id.
func (o *Orchestrator) acquire(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[id] {
		return fmt.Errorf("campaign %s: conflicting operation in progress", id)
	}
	o.busy[id] = true
	return nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.busy, id)
	o.mu.Unlock()
}

// recordOp remembers the last gateway-touching operation so a successful
// credential rotation can re-issue it.
func (o *Orchestrator) recordOp(op func(ctx context.Context) error) {
	o.mu.Lock()
	o.lastOp = op
	o.mu.Unlock()
}

// Suggest asks the gateway for clip candidates. An empty slice with a nil
// error means "no suggestions found" and must be presented as such, never
// as a failure.
func (o *Orchestrator) Suggest(ctx context.Context, videoRef, notes string, images []gateway.InlineImage) ([]promo.ClipCandidate, error) {
	candidates, err := o.extractor.Extract(ctx, videoRef, notes, images)
	if err != nil {
		o.recordOp(func(ctx context.Context) error {
			_, retryErr := o.extractor.Extract(ctx, videoRef, notes, images)
			return retryErr
		})
		logging.Orchestrator("suggest failed (%s): %v", Classify(err), err)
		return nil, err
	}
	return candidates, nil
}

// Preview renders the preview asset set for a candidate on demand. Partial
// failure is fine: absent aspects are simply missing from the map.
func (o *Orchestrator) Preview(ctx context.Context, candidate promo.ClipCandidate, overlayText string) map[promo.AspectRatio]renderer.Asset {
	return o.renderer.Render(ctx, candidate, overlayText, PreviewAspects)
}

// Launch persists a campaign built from the selected candidate together
// with its mirrored promo link, all platforms in draft. Preview assets
// rendered for the candidate are adopted under the campaign id so deploys
// reuse them.
func (o *Orchestrator) Launch(ctx context.Context, candidate promo.ClipCandidate, videoRef, targetURL string, nsfw bool) (*promo.Campaign, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(targetURL) == "" {
		return nil, fmt.Errorf("target URL required")
	}

	id := promo.NewID()
	if err := o.acquire(id); err != nil {
		return nil, err
	}
	defer o.release(id)

	o.renderer.Adopt(candidate.ID, id)

	platforms := make([]promo.PlatformEntry, 0, len(promo.AllPlatforms()))
	for _, p := range promo.AllPlatforms() {
		platforms = append(platforms, promo.PlatformEntry{Platform: p, Status: promo.StatusDraft})
	}

	assets := map[promo.AspectRatio]string{}
	thumbnail := ""
	for _, aspect := range PreviewAspects {
		if a, ok := o.renderer.Cached(id, aspect); ok {
			assets[aspect] = a.Ref
			if aspect == promo.AspectSquare || thumbnail == "" {
				thumbnail = a.Ref
			}
		}
	}

	campaign := promo.Campaign{
		ID:               id,
		VideoRef:         videoRef,
		ClipStart:        candidate.Start,
		ClipEnd:          candidate.End,
		Caption:          candidate.Caption,
		ViralTitle:       candidate.ViralTitle,
		ViralDescription: candidate.ViralDescription,
		Assets:           assets,
		TargetURL:        targetURL,
		NSFW:             nsfw,
		Status:           promo.StatusDraft,
		CreatedAt:        time.Now().UTC(),
		Platforms:        platforms,
	}
	link := promo.Link{
		ID:           id,
		Title:        candidate.ViralTitle,
		URL:          targetURL,
		Active:       true,
		Hero:         true,
		NSFW:         nsfw,
		ThumbnailRef: thumbnail,
		Origin:       promo.OriginPromo,
	}

	if err := o.store.Launch(campaign, link); err != nil {
		return nil, err
	}
	logging.Orchestrator("launched campaign %s (clip %d-%ds)", id, candidate.Start, candidate.End)
	return &campaign, nil
}

// Deploy publishes one platform. Gateway failures are recorded for the
// rotation recovery flow.
func (o *Orchestrator) Deploy(ctx context.Context, campaignID string, platform promo.Platform) error {
	err := o.publisher.Deploy(ctx, campaignID, platform)
	if err != nil && Classify(err) == FailureQuotaExhausted {
		o.recordOp(func(ctx context.Context) error {
			return o.publisher.Deploy(ctx, campaignID, platform)
		})
	}
	return err
}

// DeployAll publishes every remaining draft platform.
func (o *Orchestrator) DeployAll(ctx context.Context, campaignID string) error {
	err := o.publisher.DeployAll(ctx, campaignID)
	if err != nil && Classify(err) == FailureQuotaExhausted {
		o.recordOp(func(ctx context.Context) error {
			return o.publisher.DeployAll(ctx, campaignID)
		})
	}
	return err
}

// Delete removes a campaign and its mirrored link, cancelling any
// in-flight deploys and dropping the campaign's memoized assets.
func (o *Orchestrator) Delete(ctx context.Context, campaignID string) error {
	if err := o.acquire(campaignID); err != nil {
		return err
	}
	defer o.release(campaignID)

	o.publisher.Cancel(campaignID)
	if err := o.store.Delete(campaignID); err != nil {
		return err
	}
	o.renderer.Invalidate(campaignID)
	logging.Orchestrator("deleted campaign %s", campaignID)
	return nil
}

// List returns all campaigns newest-first.
func (o *Orchestrator) List() ([]promo.Campaign, error) {
	return o.store.List()
}

// Links returns the public profile links, newest-first.
func (o *Orchestrator) Links() ([]promo.Link, error) {
	return o.store.ListLinks()
}

// RotateAndRetry rotates the gateway credential and automatically
// re-issues the last failed operation. It is the recovery action for
// quota-exhausted failures.
func (o *Orchestrator) RotateAndRetry(ctx context.Context) error {
	if err := o.keys.Rotate(); err != nil {
		return fmt.Errorf("credential rotation failed: %w", err)
	}

	o.mu.Lock()
	op := o.lastOp
	o.lastOp = nil
	o.mu.Unlock()

	if op == nil {
		return errors.New("no failed operation to retry")
	}
	logging.Orchestrator("credential rotated, re-issuing last failed operation")
	return op(ctx)
}
