package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/llm/llmtest"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()

	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func postAsk(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/ask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskHandler_StreamsEvents(t *testing.T) {
	cfg := newTestConfig(t, llmtest.Answer("Annual plans are refundable for thirty days [1]."))
	ts := httptest.NewServer(NewMux(NewServer(cfg), nil))
	defer ts.Close()

	resp := postAsk(t, ts.URL, `{"question":"refund policy for annual plans","session_id":"web"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.GreaterOrEqual(t, len(events), 3)

	assert.Equal(t, "citations", events[0].name)
	var cites StreamCitations
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &cites))
	assert.Equal(t, "web", cites.SessionID)
	assert.True(t, cites.Grounded)
	require.NotEmpty(t, cites.Citations)
	assert.Equal(t, "handbook.txt", cites.Citations[0].Source)
	assert.Equal(t, 0, cites.Citations[0].Position, "handbook.txt fits in one chunk")
	assert.Contains(t, events[0].data, `"chunk_position":0`)

	var sb strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		require.Equal(t, "token", ev.name)
		var tok StreamToken
		require.NoError(t, json.Unmarshal([]byte(ev.data), &tok))
		sb.WriteString(tok.Text)
	}
	assert.Equal(t, "Annual plans are refundable for thirty days [1].", sb.String())

	last := events[len(events)-1]
	assert.Equal(t, "done", last.name)
	var done StreamDone
	require.NoError(t, json.Unmarshal([]byte(last.data), &done))
	assert.Equal(t, sb.String(), done.Answer)
	assert.Equal(t, int64(1), done.Seq)
	assert.False(t, done.Truncated)
}

func TestAskHandler_RejectsBadRequests(t *testing.T) {
	cfg := newTestConfig(t, llmtest.Answer("ok"))
	ts := httptest.NewServer(NewMux(NewServer(cfg), nil))
	defer ts.Close()

	t.Run("empty question", func(t *testing.T) {
		resp := postAsk(t, ts.URL, `{"question":"   "}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body StreamError
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.False(t, body.Transient)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp := postAsk(t, ts.URL, `{`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/ask")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestAskHandler_ClientDisconnectRecordsPartialTurn(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	gen := &llmtest.Scripted{Tokens: []string{"Thirty ", "days ", "[1]."}, Hold: hold, HoldAfter: 1}
	cfg := newTestConfig(t, gen)
	ts := httptest.NewServer(NewMux(NewServer(cfg), nil))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/ask",
		strings.NewReader(`{"question":"refund policy for annual plans","session_id":"gone"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: token") {
			break
		}
	}
	cancel()

	require.Eventually(t, func() bool {
		turns, err := cfg.Memory.LongTerm(context.Background(), "gone")
		return err == nil && len(turns) == 1
	}, 2*time.Second, 10*time.Millisecond)

	turns, err := cfg.Memory.LongTerm(context.Background(), "gone")
	require.NoError(t, err)
	assert.True(t, turns[0].Truncated)
	assert.Equal(t, "Thirty ", turns[0].Answer)
}
