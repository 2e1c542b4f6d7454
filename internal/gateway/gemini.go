package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"clipforge/internal/logging"
	"clipforge/internal/promo"
)

// GeminiConfig configures the Gemini-backed gateway client.
type GeminiConfig struct {
	Keys       KeyProvider
	BaseURL    string
	Model      string
	ImageModel string
	Timeout    time.Duration
	Retry      RetryPolicy
}

// DefaultGeminiConfig returns sensible defaults around the given keys.
func DefaultGeminiConfig(keys KeyProvider) GeminiConfig {
	return GeminiConfig{
		Keys:       keys,
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-3-flash-preview",
		ImageModel: "imagen-3.0-generate-002",
		Timeout:    2 * time.Minute,
		Retry:      DefaultRetryPolicy(),
	}
}

// GeminiClient implements Client against the Gemini API. The client is
// stateless across attempts: each attempt builds a fresh http.Client and
// re-reads the API key, so a mid-flight credential rotation takes effect on
// the next attempt.
type GeminiClient struct {
	keys       KeyProvider
	baseURL    string
	model      string
	imageModel string
	timeout    time.Duration
	retry      RetryPolicy

	mu          sync.Mutex
	lastRequest time.Time
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a gateway client from config.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	imageModel := strings.TrimSpace(cfg.ImageModel)
	if imageModel == "" {
		imageModel = "imagen-3.0-generate-002"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	retry := cfg.Retry
	if retry.Retryable == nil {
		retry = DefaultRetryPolicy()
	}
	return &GeminiClient{
		keys:       cfg.Keys,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      model,
		imageModel: imageModel,
		timeout:    timeout,
		retry:      retry,
	}
}

// pace enforces a minimum interval between outbound requests.
func (c *GeminiClient) pace() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// doJSON posts body to path (relative to baseURL, key appended per attempt)
// and decodes the response into out, applying the retry policy.
func (c *GeminiClient) doJSON(ctx context.Context, path string, body, out interface{}) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	return c.retry.Do(ctx, func(ctx context.Context) error {
		key := c.keys.Current()
		if key == "" {
			return &Error{Kind: KindAuth, Msg: "API key not configured"}
		}

		c.pace()

		url := fmt.Sprintf("%s/%s?key=%s", c.baseURL, path, key)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return &Error{Kind: KindBadRequest, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		// Fresh client per attempt: no connection or credential reuse
		// assumptions survive a key rotation.
		httpClient := &http.Client{Timeout: c.timeout}
		resp, err := httpClient.Do(req)
		if err != nil {
			c.keys.RecordFailure()
			return networkError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			c.keys.RecordFailure()
			return networkError(err)
		}

		if resp.StatusCode != http.StatusOK {
			gerr := statusError(resp.StatusCode, string(raw))
			if gerr.Kind == KindRateLimited {
				c.keys.RecordRateLimit()
			} else {
				c.keys.RecordFailure()
			}
			return gerr
		}

		if err := json.Unmarshal(raw, out); err != nil {
			c.keys.RecordFailure()
			return malformedError("unparseable response body", err)
		}

		c.keys.RecordSuccess()
		return nil
	})
}

// Complete sends a free-text prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	logging.GatewayDebug("Complete: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	req := GeminiRequest{
		Contents: []GeminiContent{{
			Role:  "user",
			Parts: []GeminiPart{{Text: userPrompt}},
		}},
		GenerationConfig: GeminiGenerationConfig{
			Temperature: 0.7,
			TopP:        0.8,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: systemPrompt}}}
	}

	var resp GeminiResponse
	path := fmt.Sprintf("models/%s:generateContent", c.model)
	if err := c.doJSON(ctx, path, req, &resp); err != nil {
		logging.GatewayError("Complete failed after %v: %v", time.Since(start), err)
		return "", err
	}

	text, err := responseText(&resp)
	if err != nil {
		return "", err
	}
	logging.Gateway("Complete: done in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// CompleteWithSchema sends a prompt with a JSON response schema and optional
// inline images.
func (c *GeminiClient) CompleteWithSchema(ctx context.Context, systemPrompt, userPrompt string, schema map[string]interface{}, images []InlineImage) (string, error) {
	start := time.Now()
	logging.GatewayDebug("CompleteWithSchema: model=%s images=%d user_len=%d", c.model, len(images), len(userPrompt))

	if len(schema) == 0 {
		return "", &Error{Kind: KindBadRequest, Msg: "json schema is empty"}
	}

	parts := make([]GeminiPart, 0, len(images)+1)
	parts = append(parts, GeminiPart{Text: userPrompt})
	for _, img := range images {
		parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{
			MimeType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	req := GeminiRequest{
		Contents: []GeminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: GeminiGenerationConfig{
			Temperature:      1.0,
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: systemPrompt}}}
	}

	var resp GeminiResponse
	path := fmt.Sprintf("models/%s:generateContent", c.model)
	if err := c.doJSON(ctx, path, req, &resp); err != nil {
		logging.GatewayError("CompleteWithSchema failed after %v: %v", time.Since(start), err)
		return "", err
	}

	text, err := responseText(&resp)
	if err != nil {
		return "", err
	}
	logging.Gateway("CompleteWithSchema: done in %v response_len=%d", time.Since(start), len(text))
	return text, nil
}

// GenerateImage produces one image at the requested aspect ratio. Overlay
// text, when present, is demanded as bold legible typography; otherwise the
// prompt explicitly forbids text.
func (c *GeminiClient) GenerateImage(ctx context.Context, imgReq ImageRequest) (*ImageAsset, error) {
	start := time.Now()
	logging.GatewayDebug("GenerateImage: model=%s aspect=%s overlay=%t", c.imageModel, imgReq.Aspect, imgReq.OverlayText != "")

	aspect := imgReq.Aspect
	if aspect == "" {
		aspect = promo.AspectSquare
	}

	prompt := strings.TrimSpace(imgReq.Prompt)
	if imgReq.OverlayText != "" {
		prompt += fmt.Sprintf(". Render the exact text %q as bold, highly legible typography baked into the image.", imgReq.OverlayText)
	} else {
		prompt += ". Do not render any text, words, letters or captions in the image."
	}

	req := imagenRequest{
		Instances: []imagenInstance{{Prompt: prompt}},
		Parameters: imagenParameters{
			SampleCount: 1,
			AspectRatio: string(aspect),
		},
	}

	var resp imagenResponse
	path := fmt.Sprintf("models/%s:predict", c.imageModel)
	if err := c.doJSON(ctx, path, req, &resp); err != nil {
		logging.GatewayError("GenerateImage failed after %v: %v", time.Since(start), err)
		return nil, err
	}

	if resp.Error != nil {
		return nil, apiError(resp.Error)
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return nil, malformedError("no image returned", nil)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, malformedError("undecodable image payload", err)
	}

	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}

	logging.Gateway("GenerateImage: done in %v aspect=%s bytes=%d", time.Since(start), aspect, len(data))
	return &ImageAsset{MIMEType: mime, Data: data}, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *GeminiResponse) (string, error) {
	if resp.Error != nil {
		return "", apiError(resp.Error)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", malformedError("no completion returned", nil)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

// apiError classifies an in-body API error.
func apiError(e *GeminiAPIError) *Error {
	kind := classifyStatus(e.Code, e.Status+" "+e.Message)
	return &Error{Kind: kind, Status: e.Code, Msg: e.Message}
}
