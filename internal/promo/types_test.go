package promo

import (
	"testing"
	"time"
)

func TestAspectForPlatform(t *testing.T) {
	tests := []struct {
		platform Platform
		want     AspectRatio
	}{
		{PlatformTikTok, AspectVertical},
		{PlatformInstagram, AspectVertical},
		{PlatformYouTubeShorts, AspectVertical},
		{PlatformFacebook, AspectNearSquare},
		{PlatformTwitter, AspectWidescreen},
		{PlatformThreads, AspectWidescreen},
	}
	for _, tt := range tests {
		if got := AspectForPlatform(tt.platform); got != tt.want {
			t.Errorf("AspectForPlatform(%s) = %s, want %s", tt.platform, got, tt.want)
		}
	}
}

func TestPlatformValid(t *testing.T) {
	for _, p := range AllPlatforms() {
		if !p.Valid() {
			t.Errorf("platform %s should be valid", p)
		}
	}
	if Platform("myspace").Valid() {
		t.Error("unknown platform should be invalid")
	}
	if Platform("").Valid() {
		t.Error("empty platform should be invalid")
	}
}

func TestClipCandidateValidate(t *testing.T) {
	valid := ClipCandidate{
		ID:         "c1",
		Start:      10,
		End:        40,
		Caption:    "watch this",
		ViralTitle: "The Moment Everything Changed",
	}

	tests := []struct {
		name    string
		mutate  func(*ClipCandidate)
		wantErr bool
	}{
		{"valid", func(c *ClipCandidate) {}, false},
		{"missing id", func(c *ClipCandidate) { c.ID = "" }, true},
		{"negative start", func(c *ClipCandidate) { c.Start = -1 }, true},
		{"end before start", func(c *ClipCandidate) { c.End = 5 }, true},
		{"zero-length window", func(c *ClipCandidate) { c.End = c.Start }, true},
		{"missing caption", func(c *ClipCandidate) { c.Caption = "" }, true},
		{"missing title", func(c *ClipCandidate) { c.ViralTitle = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCampaignOverallStatus(t *testing.T) {
	entries := func(statuses ...PlatformStatus) []PlatformEntry {
		platforms := AllPlatforms()
		out := make([]PlatformEntry, len(statuses))
		for i, s := range statuses {
			out[i] = PlatformEntry{Platform: platforms[i], Status: s}
		}
		return out
	}

	tests := []struct {
		name      string
		platforms []PlatformEntry
		want      PlatformStatus
	}{
		{"no entries", nil, StatusDraft},
		{"all draft", entries(StatusDraft, StatusDraft), StatusDraft},
		{"one publishing wins", entries(StatusPublished, StatusPublishing, StatusDraft), StatusPublishing},
		{"partially published", entries(StatusPublished, StatusDraft), StatusDraft},
		{"all published", entries(StatusPublished, StatusPublished, StatusPublished), StatusPublished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Campaign{ID: "x", Platforms: tt.platforms}
			if got := c.OverallStatus(); got != tt.want {
				t.Errorf("OverallStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCampaignValidate(t *testing.T) {
	base := func() Campaign {
		return Campaign{
			ID:        NewID(),
			CreatedAt: time.Now(),
			Platforms: []PlatformEntry{
				{Platform: PlatformTikTok, Status: StatusDraft},
				{Platform: PlatformTwitter, Status: StatusDraft},
			},
		}
	}

	c := base()
	if err := c.Validate(); err != nil {
		t.Fatalf("valid campaign rejected: %v", err)
	}

	c = base()
	c.ID = ""
	if err := c.Validate(); err == nil {
		t.Error("campaign without id accepted")
	}

	c = base()
	c.Platforms = nil
	if err := c.Validate(); err == nil {
		t.Error("campaign without platform entries accepted")
	}

	c = base()
	c.Platforms = append(c.Platforms, PlatformEntry{Platform: PlatformTikTok, Status: StatusDraft})
	if err := c.Validate(); err == nil {
		t.Error("duplicate platform entry accepted")
	}

	c = base()
	c.Platforms[0].Platform = "friendster"
	if err := c.Validate(); err == nil {
		t.Error("unknown platform accepted")
	}
}

func TestCampaignEntry(t *testing.T) {
	c := Campaign{Platforms: []PlatformEntry{
		{Platform: PlatformTikTok, Status: StatusDraft},
		{Platform: PlatformThreads, Status: StatusPublished},
	}}

	e := c.Entry(PlatformThreads)
	if e == nil || e.Status != StatusPublished {
		t.Fatalf("Entry(threads) = %+v", e)
	}
	if c.Entry(PlatformFacebook) != nil {
		t.Error("Entry for absent platform should be nil")
	}

	// Entry returns a pointer into the slice, not a copy.
	e.Status = StatusPublishing
	if c.Platforms[1].Status != StatusPublishing {
		t.Error("Entry should alias the underlying slice element")
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
