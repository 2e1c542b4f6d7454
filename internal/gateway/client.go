// Package gateway wraps all outbound calls to the generative service. It
// owns the retry policy for rate-limited failures, the error taxonomy, and
// the three call shapes the rest of the system consumes: free-text
// completion, structured JSON completion, and image generation.
package gateway

import (
	"context"

	"clipforge/internal/promo"
)

// InlineImage is auxiliary visual evidence attached to a multimodal
// structured completion.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// ImageRequest describes one asset generation call.
type ImageRequest struct {
	Prompt string
	Aspect promo.AspectRatio
	// OverlayText, when present, is rendered as bold legible text baked into
	// the image. When absent the request explicitly asks for no text, since
	// the model defaults to adding some otherwise.
	OverlayText string
}

// ImageAsset is inline binary image data returned by the service.
type ImageAsset struct {
	MIMEType string
	Data     []byte
}

// Client is the typed call surface over the generative service. Every
// method applies the shared retry policy to rate-limited failures and
// returns classified *Error values otherwise.
type Client interface {
	// Complete sends a free-text prompt and returns the completion.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// CompleteWithSchema enforces a JSON response schema and accepts
	// optional inline images as additional context.
	CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}, images []InlineImage) (string, error)

	// GenerateImage produces one image at the requested aspect ratio.
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageAsset, error)
}

// KeyProvider supplies the credential for each attempt. The active key is
// re-read per attempt so a rotation lands on the next retry, not the next
// call.
type KeyProvider interface {
	Current() string
	RecordSuccess()
	RecordRateLimit()
	RecordFailure()
}

// StaticKey is a single-credential KeyProvider for tests and simple setups.
type StaticKey string

func (k StaticKey) Current() string  { return string(k) }
func (StaticKey) RecordSuccess()     {}
func (StaticKey) RecordRateLimit()   {}
func (StaticKey) RecordFailure()     {}
