package llm

import (
	"context"

	"github.com/joseph-ayodele/doc-digitizer/constants"
)

// ImageAnalysis is the normalized shape we want back for every image.
type ImageAnalysis struct {
	Category    constants.Category `json:"category"`
	Description string             `json:"description"`
	Entities    []string           `json:"entities,omitempty"`
}

type ImageRequest struct {
	Filename string
	MIMEType string
	Data     []byte
	System   string
	Prompt   string
}

type TextRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Usage is token accounting as reported by the provider. Reported is false
// when the provider returned no usage block.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Reported     bool
}

// VisionModel analyzes one image and returns the raw model text.
type VisionModel interface {
	AnalyzeImage(ctx context.Context, req ImageRequest) (string, Usage, error)
}

// TextModel is used for chunk cleanup and final synthesis.
type TextModel interface {
	Complete(ctx context.Context, req TextRequest) (string, Usage, error)
}

// Provider is implemented by clients that serve both roles.
type Provider interface {
	VisionModel
	TextModel
	Name() string
}
