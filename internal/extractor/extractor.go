// Package extractor asks the generation gateway for viral clip candidates
// from a long-form video reference, via one structured JSON completion.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clipforge/internal/gateway"
	"clipforge/internal/logging"
	"clipforge/internal/promo"
)

// DefaultCandidateCount is how many ranked suggestions the request asks
// for. The response may still carry fewer (or more); callers must tolerate
// any count including zero.
const DefaultCandidateCount = 3

const systemPrompt = `You are a short-form video strategist. You identify the segments of long-form
content with the highest conversion potential for vertical social clips.`

// Extractor turns a video reference plus optional context into ranked clip
// candidates.
type Extractor struct {
	gw    gateway.Client
	count int
}

// New creates an extractor over the given gateway client.
func New(gw gateway.Client) *Extractor {
	return &Extractor{gw: gw, count: DefaultCandidateCount}
}

// candidateSchema is the response schema the service must match: an array
// of objects with every field required.
func candidateSchema(count int) map[string]interface{} {
	return map[string]interface{}{
		"type":     "array",
		"minItems": 1,
		"maxItems": count,
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":               map[string]interface{}{"type": "string"},
				"start":            map[string]interface{}{"type": "integer"},
				"end":              map[string]interface{}{"type": "integer"},
				"caption":          map[string]interface{}{"type": "string"},
				"viralTitle":       map[string]interface{}{"type": "string"},
				"viralDescription": map[string]interface{}{"type": "string"},
				"reasoning":        map[string]interface{}{"type": "string"},
			},
			"required": []string{"id", "start", "end", "caption", "viralTitle", "viralDescription", "reasoning"},
		},
	}
}

func (e *Extractor) buildPrompt(videoRef, contextText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Video: %s\n\n", videoRef)
	fmt.Fprintf(&b, "Find the %d segments between 15 and 60 seconds long with the highest viral conversion potential.\n", e.count)
	b.WriteString("Rank them best-first. For each segment return: a stable id, start and end offsets in whole seconds, ")
	b.WriteString("a punchy on-screen caption, a viral title, a one-sentence viral description, and your reasoning.\n")
	if contextText = strings.TrimSpace(contextText); contextText != "" {
		fmt.Fprintf(&b, "\nTranscript / notes from the creator:\n%s\n", contextText)
	}
	b.WriteString("\nAny attached images are auxiliary visual evidence from the video.")
	return b.String()
}

// Extract requests clip candidates for videoRef. Parse failures degrade to
// an empty slice so the caller shows "no suggestions" instead of an error;
// gateway failures (after retries) propagate.
func (e *Extractor) Extract(ctx context.Context, videoRef, contextText string, images []gateway.InlineImage) ([]promo.ClipCandidate, error) {
	if strings.TrimSpace(videoRef) == "" {
		return nil, fmt.Errorf("video reference required")
	}

	logging.Extract("extracting candidates: video=%s context_len=%d images=%d", videoRef, len(contextText), len(images))

	raw, err := e.gw.CompleteWithSchema(ctx, systemPrompt, e.buildPrompt(videoRef, contextText), candidateSchema(e.count), images)
	if err != nil {
		return nil, fmt.Errorf("candidate extraction failed: %w", err)
	}

	candidates := parseCandidates(raw)
	logging.Extract("extraction produced %d candidates", len(candidates))
	return candidates, nil
}

// parseCandidates decodes the structured response, dropping items that fail
// validation. A completely unusable body yields an empty slice.
func parseCandidates(raw string) []promo.ClipCandidate {
	cleaned := stripFences(raw)

	var items []promo.ClipCandidate
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		logging.Get(logging.CategoryExtract).Warn("unparseable candidate response (%d bytes): %v", len(raw), err)
		return []promo.ClipCandidate{}
	}

	out := make([]promo.ClipCandidate, 0, len(items))
	for _, c := range items {
		if err := c.Validate(); err != nil {
			logging.Get(logging.CategoryExtract).Warn("dropping invalid candidate: %v", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

// stripFences removes a markdown code fence wrapper if the model added one
// despite the JSON response mime type.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
