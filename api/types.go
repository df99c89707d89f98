// Package api holds the wire types shared between the server frontend and
// its callers: the JSON request/response bodies of /infer and
// /infer_stream, and the StatusError used to carry an HTTP status code
// alongside an error message through the rest of the server.
package api

import (
	"fmt"
	"time"
)

// StatusError is an error with an attached HTTP status code, so the
// frontend can map an error to a response in one place instead of every
// handler deciding a status code for itself.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		return "something went wrong, please see the server logs for details"
	}
}

// Priority is the strict scheduling class of a request: HIGH > NORMAL > LOW.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String renders the priority the way it appears on the wire.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

// ParsePriority parses the wire representation. An empty string yields
// NORMAL; an unrecognized string yields an error.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q: must be one of HIGH, NORMAL, LOW", s)
	}
}

// CompletionReason is why a stream or non-streaming response terminated.
type CompletionReason string

const (
	ReasonDone         CompletionReason = "done"
	ReasonTimeout      CompletionReason = "timeout"
	ReasonError        CompletionReason = "error"
	ReasonIdle         CompletionReason = "idle"
	ReasonSlowConsumer CompletionReason = "slow-consumer"
	ReasonCancelled    CompletionReason = "cancelled"
)

// GenerateRequest is the JSON body of POST /infer and POST /infer_stream.
type GenerateRequest struct {
	Model       string         `json:"model" binding:"required"`
	Prompt      string         `json:"prompt"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	ClientID    string         `json:"client_id,omitempty"`
	TimeoutS    *float64       `json:"timeout_s,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TokenJSON is a single token as it appears on the wire, in both the
// non-streaming token list and each line of the streaming body.
type TokenJSON struct {
	Token   string   `json:"token"`
	TokenID int      `json:"token_id"`
	Logprob *float64 `json:"logprob,omitempty"`
	Special bool     `json:"special,omitempty"`
}

// StreamTerminal is the last line of a /infer_stream body: exactly one
// object with end=true, carrying why the stream finished.
type StreamTerminal struct {
	End              bool             `json:"end"`
	CompletionReason CompletionReason `json:"completion_reason"`
	Error            string           `json:"error,omitempty"`
}

// LoadModelRequest is the JSON body of POST /models/load.
type LoadModelRequest struct {
	Name         string            `json:"name" binding:"required"`
	Version      string            `json:"version" binding:"required"`
	LoadPath     string            `json:"load_path,omitempty"`
	DeviceHint   string            `json:"device_hint,omitempty"`
	Precision    string            `json:"precision,omitempty"`
	MaxSeqLength int               `json:"max_seq_length,omitempty"`
	WarmupTokens int               `json:"warmup_tokens,omitempty"`
	Activate     bool              `json:"activate,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ActivateModelRequest is the JSON body of POST /models/activate.
type ActivateModelRequest struct {
	Name    string `json:"name" binding:"required"`
	Version string `json:"version" binding:"required"`
}

// GenerateResponse is the JSON body returned by non-streaming /infer.
type GenerateResponse struct {
	RequestID        string           `json:"request_id"`
	Tokens           []TokenJSON      `json:"tokens"`
	CompletionReason CompletionReason `json:"completion_reason"`
	TotalDuration    time.Duration    `json:"total_duration_ns"`
}
