package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/testpilot/pkg/intervention"
	"github.com/entrhq/testpilot/pkg/types"
)

type outcome struct {
	decision types.InterventionDecision
	err      error
}

func setup(t *testing.T) (*intervention.Gateway, *Server, *httptest.Server) {
	t.Helper()
	g := intervention.NewGateway(intervention.Options{Enabled: true})
	s := New(g, nil)
	g.SetEvents(s.Hub())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return g, s, ts
}

func request(t *testing.T, g *intervention.Gateway, ctx context.Context) (<-chan outcome, string) {
	t.Helper()
	out := make(chan outcome, 1)
	go func() {
		d, err := g.Request(ctx, &types.InterventionRequest{
			RunID: "run-1", TestName: "login", StepNumber: 2, StepTitle: "log in", Reason: "expectation_mismatch needs a human decision",
		})
		out <- outcome{d, err}
	}()

	var id string
	require.Eventually(t, func() bool {
		pending := g.Pending()
		if len(pending) == 1 {
			id = pending[0].ID
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)
	return out, id
}

func postDecision(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, ts := setup(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestResolveOverHTTP(t *testing.T) {
	g, _, ts := setup(t)
	done, id := request(t, g, context.Background())

	resp, err := http.Get(ts.URL + "/interventions")
	require.NoError(t, err)
	var list struct {
		Interventions []*types.InterventionRequest `json:"interventions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Interventions, 1)
	assert.Equal(t, id, list.Interventions[0].ID)

	resp, err = http.Get(ts.URL + "/interventions/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postDecision(t, ts.URL+"/interventions/"+id, `{"action":"retry","additional_instructions":"use the SMS tab","source":"policy"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, types.InterventionRetry, res.decision.Action)
	assert.Equal(t, types.SourceHuman, res.decision.Source)
	assert.Equal(t, "use the SMS tab", res.decision.AdditionalInstructions)

	resp = postDecision(t, ts.URL+"/interventions/"+id, `{"action":"skip-step"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/interventions/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResolveErrors(t *testing.T) {
	_, _, ts := setup(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown id", `{"action":"skip-step"}`, http.StatusNotFound},
		{"invalid action", `{"action":"explode"}`, http.StatusBadRequest},
		{"malformed body", `{"action":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postDecision(t, ts.URL+"/interventions/nope", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestResolveOverWebSocket(t *testing.T) {
	g, s, ts := setup(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	done, id := request(t, g, context.Background())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, types.EventTypeInterventionPending, msg.Event.Type)
	assert.Equal(t, id, msg.Event.Intervention.ID)

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Action:   "resolve",
		ID:       id,
		Decision: types.NewOverrideDecision(true, "looks right"),
	}))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, types.InterventionOverride, res.decision.Action)
	assert.True(t, res.decision.Passed)

	sawAck := false
	for i := 0; i < 3 && !sawAck; i++ {
		var reply ServerMessage
		require.NoError(t, conn.ReadJSON(&reply))
		if reply.Type == "resolved" {
			sawAck = true
			assert.Equal(t, id, reply.ID)
		}
	}
	assert.True(t, sawAck)
}

func TestWebSocketLateJoinerSeesPending(t *testing.T) {
	g, _, ts := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, id := request(t, g, ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Event)
	assert.Equal(t, id, msg.Event.Intervention.ID)
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	g := intervention.NewGateway(intervention.Options{Enabled: true})
	s := New(g, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errc := make(chan error, 1)
	go func() { errc <- s.ListenAndServe(ctx, "127.0.0.1:0", ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
