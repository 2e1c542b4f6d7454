package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"clipforge/internal/auth"
	"clipforge/internal/gateway"
	"clipforge/internal/promo"
	"clipforge/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedGateway fails structured completions until quota recovers, the way
// a key rotation would fix an exhausted credential.
type scriptedGateway struct {
	mu            sync.Mutex
	schemaCalls   int
	imageCalls    int
	schemaBody    string
	quotaUntilKey string // fail CompleteWithSchema while the active key differs
	keys          *auth.KeyRing
}

func (g *scriptedGateway) Complete(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not implemented")
}

func (g *scriptedGateway) CompleteWithSchema(ctx context.Context, system, user string, schema map[string]interface{}, images []gateway.InlineImage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schemaCalls++
	if g.quotaUntilKey != "" && g.keys.Current() != g.quotaUntilKey {
		return "", fmt.Errorf("%w: simulated", gateway.ErrQuotaExhausted)
	}
	return g.schemaBody, nil
}

func (g *scriptedGateway) GenerateImage(ctx context.Context, req gateway.ImageRequest) (*gateway.ImageAsset, error) {
	g.mu.Lock()
	g.imageCalls++
	g.mu.Unlock()
	return &gateway.ImageAsset{MIMEType: "image/png", Data: []byte("img")}, nil
}

const suggestionBody = `[
	{"id":"c1","start":10,"end":40,"caption":"wait for it","viralTitle":"The Big Reveal","viralDescription":"A twist nobody saw coming.","reasoning":"strong hook"}
]`

func setup(t *testing.T, gw *scriptedGateway, keys *auth.KeyRing) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(gw, st, keys), st
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"nil wrapped quota", fmt.Errorf("op failed: %w", gateway.ErrQuotaExhausted), FailureQuotaExhausted},
		{"rate limited", &gateway.Error{Kind: gateway.KindRateLimited, Status: 429}, FailureQuotaExhausted},
		{"auth", &gateway.Error{Kind: gateway.KindAuth, Status: 401}, FailureOther},
		{"plain", errors.New("boom"), FailureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSuggestReturnsCandidates(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{schemaBody: suggestionBody, keys: keys}
	o, _ := setup(t, gw, keys)

	got, err := o.Suggest(context.Background(), "video://talk.mp4", "", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "c1", got[0].ID)
}

func TestSuggestEmptyIsNotAnError(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{schemaBody: "total garbage", keys: keys}
	o, _ := setup(t, gw, keys)

	got, err := o.Suggest(context.Background(), "video://talk.mp4", "", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestRotateAndRetryReissuesFailedSuggest(t *testing.T) {
	keys := auth.NewKeyRing([]string{"exhausted", "fresh"})
	gw := &scriptedGateway{schemaBody: suggestionBody, quotaUntilKey: "fresh", keys: keys}
	o, _ := setup(t, gw, keys)

	_, err := o.Suggest(context.Background(), "video://talk.mp4", "", nil)
	require.Error(t, err)
	require.Equal(t, FailureQuotaExhausted, Classify(err))
	require.Equal(t, 1, gw.schemaCalls)

	// Rotation lands on the fresh key and replays the suggest.
	require.NoError(t, o.RotateAndRetry(context.Background()))
	require.Equal(t, "fresh", keys.Current())
	require.Equal(t, 2, gw.schemaCalls)

	// The op is consumed: a second recovery has nothing to replay.
	err = o.RotateAndRetry(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no failed operation")
}

func TestRotateAndRetrySingleKey(t *testing.T) {
	keys := auth.NewKeyRing([]string{"only"})
	gw := &scriptedGateway{schemaBody: suggestionBody, keys: keys}
	o, _ := setup(t, gw, keys)

	err := o.RotateAndRetry(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "rotation failed")
}

func validCandidate() promo.ClipCandidate {
	return promo.ClipCandidate{
		ID:               promo.NewID(),
		Start:            10,
		End:              40,
		Caption:          "wait for it",
		ViralTitle:       "The Big Reveal",
		ViralDescription: "A twist nobody saw coming.",
	}
}

func TestLaunchCreatesCampaignAndLink(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{keys: keys}
	o, st := setup(t, gw, keys)

	c, err := o.Launch(context.Background(), validCandidate(), "video://talk.mp4", "https://shop.example/item", true)
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.Equal(t, promo.StatusDraft, c.Status)
	require.Len(t, c.Platforms, len(promo.AllPlatforms()))
	for _, e := range c.Platforms {
		require.Equal(t, promo.StatusDraft, e.Status)
	}

	stored, err := st.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, "video://talk.mp4", stored.VideoRef)
	require.True(t, stored.NSFW)

	link, err := st.GetLink(c.ID, promo.OriginPromo)
	require.NoError(t, err)
	require.True(t, link.Hero)
	require.True(t, link.Active)
	require.True(t, link.NSFW)
	require.Equal(t, "The Big Reveal", link.Title)
	require.Equal(t, "https://shop.example/item", link.URL)
}

func TestLaunchValidation(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{keys: keys}
	o, _ := setup(t, gw, keys)

	bad := validCandidate()
	bad.End = bad.Start
	_, err := o.Launch(context.Background(), bad, "video://x", "https://shop.example", false)
	require.Error(t, err)

	_, err = o.Launch(context.Background(), validCandidate(), "video://x", "   ", false)
	require.Error(t, err)
}

func TestLaunchAdoptsPreviewAssets(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{keys: keys}
	o, st := setup(t, gw, keys)

	candidate := validCandidate()
	previews := o.Preview(context.Background(), candidate, candidate.Caption)
	require.Len(t, previews, len(PreviewAspects))
	callsAfterPreview := gw.imageCalls

	c, err := o.Launch(context.Background(), candidate, "video://x", "https://shop.example", false)
	require.NoError(t, err)
	require.Len(t, c.Assets, len(PreviewAspects))

	link, err := st.GetLink(c.ID, promo.OriginPromo)
	require.NoError(t, err)
	require.NotEmpty(t, link.ThumbnailRef)

	// Deploys reuse the adopted previews instead of regenerating. The deploy
	// renders with the campaign caption overlay, which the preview already
	// used, so the memoized assets cover every platform aspect.
	require.NoError(t, o.DeployAll(context.Background(), c.ID))
	require.Equal(t, callsAfterPreview, gw.imageCalls, "deploy must reuse adopted preview assets")
}

func TestDeployAndDelete(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{keys: keys}
	o, st := setup(t, gw, keys)

	c, err := o.Launch(context.Background(), validCandidate(), "video://x", "https://shop.example", false)
	require.NoError(t, err)

	require.NoError(t, o.Deploy(context.Background(), c.ID, promo.PlatformTikTok))
	e, err := st.GetPlatform(c.ID, promo.PlatformTikTok)
	require.NoError(t, err)
	require.Equal(t, promo.StatusPublished, e.Status)

	require.NoError(t, o.Delete(context.Background(), c.ID))
	_, err = st.Get(c.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	links, err := o.Links()
	require.NoError(t, err)
	require.Empty(t, links)
}

func TestListNewestFirst(t *testing.T) {
	keys := auth.NewKeyRing([]string{"k1"})
	gw := &scriptedGateway{keys: keys}
	o, _ := setup(t, gw, keys)

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := o.Launch(context.Background(), validCandidate(), "video://x", "https://shop.example", false)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	got, err := o.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, ids[2], got[0].ID)
	require.Equal(t, ids[1], got[1].ID)
	require.Equal(t, ids[0], got[2].ID)
}
