// Package renderer produces platform-specific visual assets for a selected
// clip candidate. Per-aspect generation requests run concurrently and fail
// independently; already-rendered aspect ratios are memoized per candidate
// so repeated previews and deploys never regenerate (or re-bill) an asset.
package renderer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"clipforge/internal/gateway"
	"clipforge/internal/logging"
	"clipforge/internal/promo"
)

// Asset is one rendered image plus its stable reference.
type Asset struct {
	Ref      string
	MIMEType string
	Data     []byte
}

// Renderer fans generation requests out to the gateway and caches results
// for the lifetime of a candidate-selection session.
type Renderer struct {
	gw gateway.Client

	mu    sync.Mutex
	cache map[string]Asset // candidateID|aspect -> asset
}

// New creates a renderer over the given gateway client.
func New(gw gateway.Client) *Renderer {
	return &Renderer{
		gw:    gw,
		cache: make(map[string]Asset),
	}
}

func cacheKey(candidateID string, aspect promo.AspectRatio) string {
	return candidateID + "|" + string(aspect)
}

// buildPrompt describes the asset to generate from the candidate's copy.
func buildPrompt(c promo.ClipCandidate) string {
	return fmt.Sprintf(
		"Eye-catching social media cover image for a short video clip titled %q. %s. High contrast, thumb-stopping composition, cinematic lighting.",
		c.ViralTitle, c.ViralDescription,
	)
}

// Render produces assets for every requested aspect ratio concurrently.
// Each per-aspect failure is recorded as an absent key; the call never
// fails solely because one aspect ratio failed. The merged map is only
// returned once every request has settled.
func (r *Renderer) Render(ctx context.Context, candidate promo.ClipCandidate, overlayText string, aspects []promo.AspectRatio) map[promo.AspectRatio]Asset {
	results := make(map[promo.AspectRatio]Asset, len(aspects))
	var resultsMu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	seen := make(map[promo.AspectRatio]bool, len(aspects))
	for _, aspect := range aspects {
		if seen[aspect] {
			continue
		}
		seen[aspect] = true

		aspect := aspect
		g.Go(func() error {
			asset, err := r.RenderOne(ctx, candidate, overlayText, aspect)
			if err != nil {
				// Absent key, not a batch failure.
				logging.Get(logging.CategoryRender).Warn("aspect %s failed for candidate %s: %v", aspect, candidate.ID, err)
				return nil
			}
			resultsMu.Lock()
			results[aspect] = asset
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logging.Render("rendered %d/%d aspects for candidate %s", len(results), len(seen), candidate.ID)
	return results
}

// RenderOne returns the asset for one aspect ratio, reusing the memoized
// copy when present. At most one underlying generation request is issued
// per candidate+aspect until Invalidate.
func (r *Renderer) RenderOne(ctx context.Context, candidate promo.ClipCandidate, overlayText string, aspect promo.AspectRatio) (Asset, error) {
	key := cacheKey(candidate.ID, aspect)

	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		logging.RenderDebug("cache hit: %s", key)
		return cached, nil
	}
	r.mu.Unlock()

	img, err := r.gw.GenerateImage(ctx, gateway.ImageRequest{
		Prompt:      buildPrompt(candidate),
		Aspect:      aspect,
		OverlayText: overlayText,
	})
	if err != nil {
		return Asset{}, err
	}

	asset := Asset{
		Ref:      fmt.Sprintf("asset://%s/%s", candidate.ID, aspect),
		MIMEType: img.MIMEType,
		Data:     img.Data,
	}

	r.mu.Lock()
	// A concurrent render may have won the race; keep the first copy so the
	// ref observed by earlier callers stays valid.
	if cached, ok := r.cache[key]; ok {
		asset = cached
	} else {
		r.cache[key] = asset
	}
	r.mu.Unlock()

	return asset, nil
}

// Cached returns the memoized asset for candidateID+aspect, if any.
func (r *Renderer) Cached(candidateID string, aspect promo.AspectRatio) (Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.cache[cacheKey(candidateID, aspect)]
	return a, ok
}

// Adopt re-keys a candidate's memoized assets under a campaign id, so
// previews rendered before launch keep serving deploys afterwards.
func (r *Renderer) Adopt(candidateID, campaignID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := candidateID + "|"
	for key, asset := range r.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			r.cache[campaignID+"|"+key[len(prefix):]] = asset
			delete(r.cache, key)
		}
	}
}

// Invalidate drops every memoized asset for the candidate. Called when the
// owning campaign is deleted or a new selection session begins.
func (r *Renderer) Invalidate(candidateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if len(key) > len(candidateID) && key[:len(candidateID)] == candidateID && key[len(candidateID)] == '|' {
			delete(r.cache, key)
		}
	}
}
