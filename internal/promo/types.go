// Package promo defines the domain model for viral clip campaigns:
// AI-suggested clip candidates, persisted campaigns with per-platform
// publish state, and the mirrored public profile links they produce.
package promo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Platform identifies a target social network.
type Platform string

const (
	PlatformTikTok        Platform = "tiktok"
	PlatformInstagram     Platform = "instagram"
	PlatformYouTubeShorts Platform = "youtube_shorts"
	PlatformTwitter       Platform = "twitter"
	PlatformFacebook      Platform = "facebook"
	PlatformThreads       Platform = "threads"
)

// AllPlatforms lists every supported platform in deploy order.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformTikTok,
		PlatformInstagram,
		PlatformYouTubeShorts,
		PlatformTwitter,
		PlatformFacebook,
		PlatformThreads,
	}
}

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTubeShorts,
		PlatformTwitter, PlatformFacebook, PlatformThreads:
		return true
	}
	return false
}

// PlatformStatus is the publish state of one campaign on one platform.
type PlatformStatus string

const (
	StatusDraft      PlatformStatus = "draft"
	StatusPublishing PlatformStatus = "publishing"
	StatusPublished  PlatformStatus = "published"
)

// Valid reports whether s is a known status.
func (s PlatformStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublishing || s == StatusPublished
}

// AspectRatio enumerates the image generation aspect ratios the gateway
// accepts.
type AspectRatio string

const (
	AspectSquare     AspectRatio = "1:1"
	AspectPortrait   AspectRatio = "3:4"
	AspectNearSquare AspectRatio = "4:3"
	AspectVertical   AspectRatio = "9:16"
	AspectWidescreen AspectRatio = "16:9"
)

// AspectForPlatform returns the fixed aspect ratio each platform requires:
// vertical for short-video platforms, near-square for facebook, widescreen
// for twitter/threads.
func AspectForPlatform(p Platform) AspectRatio {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTubeShorts:
		return AspectVertical
	case PlatformFacebook:
		return AspectNearSquare
	default:
		return AspectWidescreen
	}
}

// ClipCandidate is an ephemeral AI-suggested clip. It is produced fresh per
// extraction call and never persisted or mutated.
type ClipCandidate struct {
	ID               string `json:"id"`
	Start            int    `json:"start"`
	End              int    `json:"end"`
	Caption          string `json:"caption"`
	ViralTitle       string `json:"viralTitle"`
	ViralDescription string `json:"viralDescription"`
	Reasoning        string `json:"reasoning"`
}

// Validate checks the candidate invariants.
func (c ClipCandidate) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("candidate missing id")
	}
	if c.Start < 0 || c.End <= c.Start {
		return fmt.Errorf("candidate %s: invalid clip window [%d,%d)", c.ID, c.Start, c.End)
	}
	if c.Caption == "" || c.ViralTitle == "" {
		return fmt.Errorf("candidate %s: missing copy", c.ID)
	}
	return nil
}

// PlatformEntry tracks one campaign's publish state on one platform. It is
// owned exclusively by its parent Campaign.
type PlatformEntry struct {
	Platform    Platform       `json:"platform"`
	Status      PlatformStatus `json:"status"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
}

// Campaign is the persisted record of one launched promotion.
type Campaign struct {
	ID               string                 `json:"id"`
	VideoRef         string                 `json:"videoRef"`
	ClipStart        int                    `json:"clipStart"`
	ClipEnd          int                    `json:"clipEnd"`
	Caption          string                 `json:"caption"`
	ViralTitle       string                 `json:"viralTitle"`
	ViralDescription string                 `json:"viralDescription"`
	Assets           map[AspectRatio]string `json:"assets"`
	TargetURL        string                 `json:"targetUrl"`
	NSFW             bool                   `json:"nsfw"`
	Status           PlatformStatus         `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
	Platforms        []PlatformEntry        `json:"platforms"`
}

// Entry returns the platform entry for p, or nil.
func (c *Campaign) Entry(p Platform) *PlatformEntry {
	for i := range c.Platforms {
		if c.Platforms[i].Platform == p {
			return &c.Platforms[i]
		}
	}
	return nil
}

// OverallStatus derives the campaign-level status from its platform
// entries: published once every platform is published, publishing while any
// is in flight, draft otherwise.
func (c *Campaign) OverallStatus() PlatformStatus {
	if len(c.Platforms) == 0 {
		return StatusDraft
	}
	published := 0
	for _, e := range c.Platforms {
		switch e.Status {
		case StatusPublishing:
			return StatusPublishing
		case StatusPublished:
			published++
		}
	}
	if published == len(c.Platforms) {
		return StatusPublished
	}
	return StatusDraft
}

// Validate checks campaign invariants: a non-empty platform list with at
// most one entry per platform name.
func (c *Campaign) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("campaign missing id")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("campaign %s: no platform entries", c.ID)
	}
	seen := make(map[Platform]bool, len(c.Platforms))
	for _, e := range c.Platforms {
		if !e.Platform.Valid() {
			return fmt.Errorf("campaign %s: unknown platform %q", c.ID, e.Platform)
		}
		if seen[e.Platform] {
			return fmt.Errorf("campaign %s: duplicate platform %q", c.ID, e.Platform)
		}
		seen[e.Platform] = true
	}
	return nil
}

// LinkOrigin distinguishes hand-authored links from campaign-derived ones.
type LinkOrigin string

const (
	OriginManual LinkOrigin = "manual"
	OriginPromo  LinkOrigin = "promo"
)

// Link is a public profile link. Promo links share their id with the owning
// campaign; that shared id is the cross-store join key.
type Link struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	URL          string     `json:"url"`
	Active       bool       `json:"active"`
	Hero         bool       `json:"isHeroVideo"`
	NSFW         bool       `json:"isNSFW"`
	ThumbnailRef string     `json:"thumbnailUrl,omitempty"`
	Origin       LinkOrigin `json:"origin"`
}

// NewID allocates a collision-resistant campaign/link id. The source design
// derived ids from a coarse timestamp, which allowed manual/promo
// collisions; UUIDs close that hole.
func NewID() string {
	return uuid.NewString()
}
