package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/chatflow/conversation"
	"github.com/BaSui01/chatflow/llm"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedAdapter struct {
	name  string
	model string
	reply string
}

func (a cannedAdapter) Name() string  { return a.name }
func (a cannedAdapter) Model() string { return a.model }
func (a cannedAdapter) GenerateResponse(context.Context, []llm.Message) (string, error) {
	return a.reply, nil
}

func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	orch := conversation.NewOrchestrator(conversation.DefaultConfig(), nil)
	s := NewServer(Config{}, orch, hub, nil)

	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		State   string `json:"state"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "idle", payload.State)
	assert.Zero(t, payload.Clients)
}

func TestNewServerDefaults(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{}, nil, nil, nil)
	assert.Equal(t, 15*time.Second, s.cfg.ShutdownTimeout)
	assert.Equal(t, float64(1), s.cfg.MessageRate)
	assert.Equal(t, 5, s.cfg.MessageBurst)
}

func TestWebSocketRoundTrip(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	orch := conversation.NewOrchestrator(
		conversation.Config{MaxTurns: 1, Timeout: time.Minute},
		nil,
		conversation.WithTurnListener(TurnBroadcaster(hub)),
	)
	orch.AddParticipant(cannedAdapter{name: "alpha", model: "m1", reply: "the reply"})

	s := NewServer(Config{
		WriteTimeout: time.Second,
		MessageRate:  100,
		MessageBurst: 100,
	}, orch, hub, nil)

	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"content":"hello room"}`)))

	var (
		contents []string
		ended    bool
	)
	for !ended {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		switch ev.Type {
		case EventMessage:
			contents = append(contents, ev.Content)
		case EventNotice:
			if strings.Contains(ev.Content, "Conversation ended") {
				ended = true
			}
		}
	}

	assert.Equal(t, []string{"hello room", "the reply"}, contents)
}
