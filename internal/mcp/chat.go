package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bull/docchat/internal/chain"
)

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// StreamCitations is the first event of an answer stream.
type StreamCitations struct {
	SessionID       string           `json:"session_id"`
	StandaloneQuery string           `json:"standalone_query"`
	Grounded        bool             `json:"grounded"`
	Citations       []chain.Citation `json:"citations"`
}

// StreamToken carries one piece of the answer.
type StreamToken struct {
	Text string `json:"text"`
}

// StreamDone ends a successful answer stream.
type StreamDone struct {
	Answer    string `json:"answer"`
	Seq       int64  `json:"seq"`
	Truncated bool   `json:"truncated,omitempty"`
}

// StreamError ends a failed answer stream.
type StreamError struct {
	Error     string `json:"error"`
	Transient bool   `json:"transient"`
}

// NewAskHandler streams an answer as server-sent events: one citations
// event, a token event per piece of text, then done or error. A client that
// disconnects cancels generation and the partial answer is recorded.
func NewAskHandler(c *chain.Chain, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		resp, err := c.Ask(r.Context(), req.SessionID, req.Question)
		if err != nil {
			writeJSONError(w, statusFor(err), err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		send := func(event string, v any) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = chain.DefaultSession
		}
		if err := send("citations", StreamCitations{
			SessionID:       sessionID,
			StandaloneQuery: resp.StandaloneQuery(),
			Grounded:        resp.Grounded(),
			Citations:       resp.Citations(),
		}); err != nil {
			resp.Cancel()
		}

		for tok := range resp.Tokens() {
			if err := send("token", StreamToken{Text: tok}); err != nil {
				resp.Cancel()
			}
		}

		result, err := resp.Wait()
		if result == nil {
			send("error", StreamError{Error: err.Error(), Transient: chain.IsTransient(err)}) //nolint:errcheck
			logger.Warn("Streamed answer failed", "session_id", sessionID, "error", err)
			return
		}

		done := StreamDone{Answer: result.Answer, Truncated: result.Truncated}
		if result.Turn != nil {
			done.Seq = result.Turn.Seq
		}
		send("done", done) //nolint:errcheck
		logger.Info("Streamed answer",
			"session_id", sessionID,
			"truncated", result.Truncated,
			"latency_ms", time.Since(start).Milliseconds())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chain.ErrEmptyQuery):
		return http.StatusBadRequest
	case chain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(StreamError{Error: err.Error(), Transient: chain.IsTransient(err)})
}
