package notify

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, hub *Hub, tournamentID uuid.UUID) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, tournamentID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHubDeliversToTournamentRoom(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tournamentID := uuid.New()

	conn := dial(t, hub, tournamentID)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(tournamentID) == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish(Event{Type: MatchUpdated, TournamentID: uuid.New()})
	hub.Publish(Event{Type: ScheduleUpdated, TournamentID: tournamentID, Payload: map[string]int{"moved": 2}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type         EventType      `json:"type"`
		TournamentID uuid.UUID      `json:"tournament_id"`
		Payload      map[string]int `json:"payload"`
		At           time.Time      `json:"at"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, ScheduleUpdated, got.Type)
	assert.Equal(t, tournamentID, got.TournamentID)
	assert.Equal(t, 2, got.Payload["moved"])
	assert.False(t, got.At.IsZero())
}

func TestHubDropsClosedSubscribers(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	tournamentID := uuid.New()

	conn := dial(t, hub, tournamentID)
	require.Eventually(t, func() bool { return hub.Subscribers(tournamentID) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(tournamentID) == 0 }, 2*time.Second, 10*time.Millisecond)

	// publishing to an empty room is a no-op
	hub.Publish(Event{Type: BracketUpdated, TournamentID: tournamentID})
}
