package model

// Task types used by the gateway's model routing policy. Classification calls
// favor small, fast models; generation calls favor capable ones.
const (
	TaskClassification = "classification"
	TaskGeneration     = "generation"
)

// ModelRequest describes a single call to an external language model. The
// gateway treats the call as an opaque, fallible, latency-bearing operation.
type ModelRequest struct {
	TaskType  string `json:"task_type"`
	System    string `json:"system,omitempty"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ModelResponse is the result of a successful model invocation.
type ModelResponse struct {
	Text       string `json:"text"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	LatencyMs  int64  `json:"latency_ms"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}
