// handlers_infer.go - /infer und /infer_stream
//
// admitRequest buendelt den gemeinsamen Eingangspfad beider Endpunkte:
// JSON-Validierung, Per-Caller-Rate-Limit (erst nach dem Parsen moeglich,
// weil client_id im Body steht), Model-Aufloesung und Enqueue. Die
// Handler unterscheiden sich nur im Abtransport des TokenStreams.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infermesh/infermesh/api"
	"github.com/infermesh/infermesh/envconfig"
)

const defaultMaxTokens = 100

const defaultTemperature = 1.0

// admitRequest validates the incoming GenerateRequest, applies the
// per-caller rate limit, resolves priority and per-request deadline,
// and enqueues a Slot. It writes an error response itself on any
// failure and returns ok=false.
func (s *Server) admitRequest(c *gin.Context) (*Slot, bool) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return nil, false
	}

	priority, err := api.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tokens must be positive"})
		return nil, false
	}

	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	if temperature < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be >= 0"})
		return nil, false
	}

	timeout := envconfig.RequestTimeout()
	if req.TimeoutS != nil {
		if *req.TimeoutS <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_s must be positive"})
			return nil, false
		}
		timeout = time.Duration(*req.TimeoutS * float64(time.Second))
	}

	caller := callerID(c, req.ClientID)
	if ok, retryAfter := s.Limiter.Allow(caller); !ok {
		s.Audit.Warn("rate limited",
			zap.String("client_id", caller),
			zap.String("model", req.Model),
		)
		c.Header("Retry-After", formatRetryAfterSeconds(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": ErrRateLimited.Error()})
		return nil, false
	}

	lm, err := s.Registry.Lookup(req.Model)
	if err != nil {
		if errors.Is(err, ErrUnknownModel) {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrUnknownModel.Error()})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	maxSeq := lm.Config.MaxSeqLength
	s.Registry.Release(lm)

	if maxSeq > 0 && maxTokens > maxSeq {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("max_tokens %d exceeds model max_seq_length %d", maxTokens, maxSeq),
		})
		return nil, false
	}

	requestID, _ := c.Get("request_id")
	rid, _ := requestID.(string)

	stream := s.Streams.Create(rid)
	slot := &Slot{
		RequestID: stream.RequestID,
		ModelName: req.Model,
		ClientID:  req.ClientID,
		Priority:  priority,
		Input: GenerateInput{
			Prompt:      req.Prompt,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Stream:     stream,
		EnqueuedAt: time.Now(),
		ctx:        c.Request.Context(),
		Deadline:   time.Now().Add(timeout),
	}

	if s.Scheduler.Enqueue(req.Model, slot) == EnqueueQueueFull {
		stream.Close(CloseCancelled, "")
		c.Header("Retry-After", formatRetryAfterSeconds(envconfig.MaxBatchWait()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrQueueFull.Error()})
		return nil, false
	}

	return slot, true
}

// drainStream consumes tokens until each() declines, the stream closes,
// or ctx is cancelled. After a close, tokens still buffered are taken
// before returning so a terminal close never swallows delivered tokens.
func drainStream(ctx context.Context, s *TokenStream, each func(StreamToken) bool) {
	for {
		select {
		case tok := <-s.Drain():
			if !each(tok) {
				return
			}
		case <-s.Done():
			for {
				select {
				case tok := <-s.Drain():
					if !each(tok) {
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// awaitTerminal blocks until the stream carries a terminal reason,
// closing it as cancelled if the client went away first.
func awaitTerminal(ctx context.Context, s *TokenStream) {
	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Close(CloseCancelled, "")
	}
}

// handleInfer collects every token for a request and returns one
// GenerateResponse.
func (s *Server) handleInfer(c *gin.Context) {
	slot, ok := s.admitRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	var tokens []api.TokenJSON

	drainStream(c.Request.Context(), slot.Stream, func(tok StreamToken) bool {
		tokens = append(tokens, toTokenJSON(tok))
		return !tok.End
	})
	awaitTerminal(c.Request.Context(), slot.Stream)

	reason, errMsg := slot.Stream.Reason()
	latency := time.Since(start)
	LogInferenceOutcome(s.Audit, slot.RequestID, slot.ClientID, slot.ModelName,
		slot.Priority.String(), len(tokens), reason, latency)

	resp := api.GenerateResponse{
		RequestID:        slot.RequestID,
		Tokens:           tokens,
		CompletionReason: toCompletionReason(reason),
		TotalDuration:    latency,
	}

	if reason == CloseInferenceErr {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errMsg, "response": resp})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleInferStream streams NDJSON tokens, terminated by one object
// with end:true carrying the completion reason.
func (s *Server) handleInferStream(c *gin.Context) {
	slot, ok := s.admitRequest(c)
	if !ok {
		return
	}

	start := time.Now()
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	count := 0
	drainStream(c.Request.Context(), slot.Stream, func(tok StreamToken) bool {
		if !writeNDJSON(c.Writer, toTokenJSON(tok)) {
			return false
		}
		c.Writer.Flush()
		count++
		return !tok.End
	})
	awaitTerminal(c.Request.Context(), slot.Stream)

	reason, errMsg := slot.Stream.Reason()
	LogInferenceOutcome(s.Audit, slot.RequestID, slot.ClientID, slot.ModelName,
		slot.Priority.String(), count, reason, time.Since(start))

	writeNDJSON(c.Writer, api.StreamTerminal{
		End:              true,
		CompletionReason: toCompletionReason(reason),
		Error:            errMsg,
	})
	c.Writer.Flush()
}

func writeNDJSON(w io.Writer, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err == nil
}

func toTokenJSON(tok StreamToken) api.TokenJSON {
	return api.TokenJSON{
		Token:   tok.Token,
		TokenID: tok.TokenID,
		Logprob: tok.Logprob,
		Special: tok.Special,
	}
}

func toCompletionReason(r CloseReason) api.CompletionReason {
	switch r {
	case CloseEndOfStream:
		return api.ReasonDone
	case CloseTimeout:
		return api.ReasonTimeout
	case CloseInferenceErr:
		return api.ReasonError
	case CloseIdle:
		return api.ReasonIdle
	case CloseSlowConsumer:
		return api.ReasonSlowConsumer
	case CloseCancelled, CloseShutdown:
		return api.ReasonCancelled
	default:
		return api.ReasonDone
	}
}
