package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clipforge/internal/promo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testCampaign(id string, createdAt time.Time) (promo.Campaign, promo.Link) {
	platforms := make([]promo.PlatformEntry, 0, len(promo.AllPlatforms()))
	for _, p := range promo.AllPlatforms() {
		platforms = append(platforms, promo.PlatformEntry{Platform: p, Status: promo.StatusDraft})
	}
	c := promo.Campaign{
		ID:               id,
		VideoRef:         "video://talk.mp4",
		ClipStart:        30,
		ClipEnd:          75,
		Caption:          "wait for it",
		ViralTitle:       "The Big Reveal",
		ViralDescription: "A twist nobody saw coming.",
		Assets:           map[promo.AspectRatio]string{promo.AspectVertical: "asset://" + id + "/9:16"},
		TargetURL:        "https://shop.example/item",
		NSFW:             false,
		Status:           promo.StatusDraft,
		CreatedAt:        createdAt,
		Platforms:        platforms,
	}
	l := promo.Link{
		ID:           id,
		Title:        c.ViralTitle,
		URL:          c.TargetURL,
		Active:       true,
		Hero:         true,
		ThumbnailRef: "asset://" + id + "/1:1",
		Origin:       promo.OriginPromo,
	}
	return c, l
}

func TestLaunchAndGetRoundtrip(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())

	require.NoError(t, s.Launch(c, l))

	got, err := s.Get("camp-1")
	require.NoError(t, err)
	require.Equal(t, c.VideoRef, got.VideoRef)
	require.Equal(t, c.ClipStart, got.ClipStart)
	require.Equal(t, c.ClipEnd, got.ClipEnd)
	require.Equal(t, c.Assets, got.Assets)
	require.Len(t, got.Platforms, len(promo.AllPlatforms()))
	for i, e := range got.Platforms {
		require.Equal(t, promo.AllPlatforms()[i], e.Platform, "platform order must be preserved")
		require.Equal(t, promo.StatusDraft, e.Status)
		require.Nil(t, e.PublishedAt)
	}

	link, err := s.GetLink("camp-1", promo.OriginPromo)
	require.NoError(t, err)
	require.True(t, link.Hero)
	require.True(t, link.Active)
	require.Equal(t, c.TargetURL, link.URL)
}

func TestLaunchDuplicateID(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())

	require.NoError(t, s.Launch(c, l))
	err := s.Launch(c, l)
	require.ErrorIs(t, err, ErrExists)

	// The failed launch must not leave a second link behind.
	links, err := s.ListLinks()
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestLaunchRejectsMismatchedLink(t *testing.T) {
	s := openTestStore(t)

	c, l := testCampaign("camp-1", time.Now().UTC())
	l.ID = "other"
	require.Error(t, s.Launch(c, l))

	c, l = testCampaign("camp-2", time.Now().UTC())
	l.Origin = promo.OriginManual
	require.Error(t, s.Launch(c, l))

	// Neither rejected launch persisted anything.
	_, err := s.Get("camp-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("camp-2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesCampaignAndLink(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	require.NoError(t, s.Delete("camp-1"))

	_, err := s.Get("camp-1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetLink("camp-1", promo.OriginPromo)
	require.Error(t, err)

	require.ErrorIs(t, s.Delete("camp-1"), ErrNotFound)
}

func TestDeleteLeavesManualLinkAlone(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("shared-id", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	// A hand-authored link that happens to share the campaign's id.
	manual := promo.Link{
		ID:     "shared-id",
		Title:  "My Portfolio",
		URL:    "https://example.com",
		Active: true,
		Origin: promo.OriginManual,
	}
	require.NoError(t, s.InsertLink(manual))

	require.NoError(t, s.Delete("shared-id"))

	got, err := s.GetLink("shared-id", promo.OriginManual)
	require.NoError(t, err)
	require.Equal(t, "My Portfolio", got.Title)
}

func TestDeleteMissingLinkAbortsWholeDelete(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	// Break the invariant underneath the store.
	_, err := s.db.Exec(`DELETE FROM links WHERE id = ? AND origin = ?`, "camp-1", string(promo.OriginPromo))
	require.NoError(t, err)

	err = s.Delete("camp-1")
	require.ErrorIs(t, err, ErrLinkMissing)

	// The delete rolled back: the campaign is still readable.
	got, err := s.Get("camp-1")
	require.NoError(t, err)
	require.Equal(t, "camp-1", got.ID)
	require.Len(t, got.Platforms, len(promo.AllPlatforms()))
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		c, l := testCampaign(id, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, s.Launch(c, l))
	}

	got, err := s.List()
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "new", got[0].ID)
	require.Equal(t, "mid", got[1].ID)
	require.Equal(t, "old", got[2].ID)
}

func TestSetAsset(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	require.NoError(t, s.SetAsset("camp-1", promo.AspectWidescreen, "asset://camp-1/16:9"))

	got, err := s.Get("camp-1")
	require.NoError(t, err)
	require.Equal(t, "asset://camp-1/16:9", got.Assets[promo.AspectWidescreen])
	// Existing entries survive the merge.
	require.Equal(t, "asset://camp-1/9:16", got.Assets[promo.AspectVertical])

	require.ErrorIs(t, s.SetAsset("absent", promo.AspectSquare, "x"), ErrNotFound)
}

func TestTransitionPlatformCAS(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	won, err := s.TransitionPlatform("camp-1", promo.PlatformTikTok, promo.StatusDraft, promo.StatusPublishing, nil)
	require.NoError(t, err)
	require.True(t, won)

	// Second CAS from draft loses without an error.
	won, err = s.TransitionPlatform("camp-1", promo.PlatformTikTok, promo.StatusDraft, promo.StatusPublishing, nil)
	require.NoError(t, err)
	require.False(t, won)

	now := time.Now().UTC()
	won, err = s.TransitionPlatform("camp-1", promo.PlatformTikTok, promo.StatusPublishing, promo.StatusPublished, &now)
	require.NoError(t, err)
	require.True(t, won)

	e, err := s.GetPlatform("camp-1", promo.PlatformTikTok)
	require.NoError(t, err)
	require.Equal(t, promo.StatusPublished, e.Status)
	require.NotNil(t, e.PublishedAt)
	require.Equal(t, now.UnixNano(), e.PublishedAt.UnixNano())

	// Absent entries are an error, not a lost race.
	_, err = s.TransitionPlatform("camp-1", promo.Platform("myspace"), promo.StatusDraft, promo.StatusPublishing, nil)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.TransitionPlatform("absent", promo.PlatformTikTok, promo.StatusDraft, promo.StatusPublishing, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRecomputesCampaignStatus(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	now := time.Now().UTC()
	platforms := promo.AllPlatforms()

	// One platform mid-publish: campaign is publishing.
	_, err := s.TransitionPlatform("camp-1", platforms[0], promo.StatusDraft, promo.StatusPublishing, nil)
	require.NoError(t, err)
	got, err := s.Get("camp-1")
	require.NoError(t, err)
	require.Equal(t, promo.StatusPublishing, got.Status)

	// Publish everything: campaign becomes published.
	_, err = s.TransitionPlatform("camp-1", platforms[0], promo.StatusPublishing, promo.StatusPublished, &now)
	require.NoError(t, err)
	for _, p := range platforms[1:] {
		_, err = s.TransitionPlatform("camp-1", p, promo.StatusDraft, promo.StatusPublishing, nil)
		require.NoError(t, err)
		_, err = s.TransitionPlatform("camp-1", p, promo.StatusPublishing, promo.StatusPublished, &now)
		require.NoError(t, err)
	}

	got, err = s.Get("camp-1")
	require.NoError(t, err)
	require.Equal(t, promo.StatusPublished, got.Status)
	require.Equal(t, promo.StatusPublished, got.OverallStatus())
}

func TestSetLinkActive(t *testing.T) {
	s := openTestStore(t)
	c, l := testCampaign("camp-1", time.Now().UTC())
	require.NoError(t, s.Launch(c, l))

	require.NoError(t, s.SetLinkActive("camp-1", false))
	got, err := s.GetLink("camp-1", promo.OriginPromo)
	require.NoError(t, err)
	require.False(t, got.Active)

	require.Error(t, s.SetLinkActive("absent", true))

	// Manual links are out of reach.
	require.NoError(t, s.InsertLink(promo.Link{ID: "m1", Title: "t", URL: "u", Active: true, Origin: promo.OriginManual}))
	require.Error(t, s.SetLinkActive("m1", false))
}

func TestInsertLinkValidation(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertLink(promo.Link{Origin: promo.OriginManual})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}
