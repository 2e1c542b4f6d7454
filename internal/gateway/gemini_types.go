package gateway

// Request/response shapes for the Gemini generateContent and Imagen predict
// endpoints. Only the fields this client reads or writes are modeled.

// GeminiRequest is the generateContent request body.
type GeminiRequest struct {
	Contents          []GeminiContent        `json:"contents"`
	SystemInstruction *GeminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  GeminiGenerationConfig `json:"generationConfig"`
}

// GeminiContent is one message in the conversation.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is a text or inline-data fragment of a message.
type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

// GeminiInlineData carries base64-encoded media.
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiGenerationConfig controls sampling and structured output.
type GeminiGenerationConfig struct {
	Temperature      float64                `json:"temperature"`
	TopP             float64                `json:"topP,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseJsonSchema,omitempty"`
}

// GeminiResponse is the generateContent response body.
type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
	Error      *GeminiAPIError   `json:"error,omitempty"`
}

// GeminiCandidate is one generated completion.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

// GeminiAPIError is an in-body API error.
type GeminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// imagenRequest is the :predict request body for image generation.
type imagenRequest struct {
	Instances  []imagenInstance `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio"`
}

// imagenResponse is the :predict response body.
type imagenResponse struct {
	Predictions []imagenPrediction `json:"predictions"`
	Error       *GeminiAPIError    `json:"error,omitempty"`
}

type imagenPrediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}
