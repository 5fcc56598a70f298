package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplab/internal/domain"
	"triplab/internal/service"
)

type liveFrame struct {
	Type  string              `json:"type"`
	Trip  *TripResponse       `json:"trip"`
	Dates []domain.Date       `json:"dates"`
	Event *service.Event      `json:"event"`
	Lock  *service.LockResult `json:"lock"`
	Error *liveError          `json:"error"`
}

func (s *testServer) dialLive(t *testing.T, tripID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/trips/" + tripID + "/live?access_token=" + token
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	return ws, resp, err
}

// readUntil skips frames until one of type typ satisfies match.
func readUntil(t *testing.T, ws *websocket.Conn, typ string, match func(liveFrame) bool) liveFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f liveFrame
		require.NoError(t, ws.ReadJSON(&f), "waiting for %q", typ)
		if f.Type == typ && (match == nil || match(f)) {
			return f
		}
	}
}

func TestLiveHandler_SessionRoundTrip(t *testing.T) {
	s := newTestServer(t)
	adaTok, ada := s.signIn(t, "Ada")
	boTok, _ := s.signIn(t, "Bo")
	tripID, _ := s.newTripFor(t, adaTok, boTok)

	ws, _, err := s.dialLive(t, tripID, adaTok)
	require.NoError(t, err)

	first := readUntil(t, ws, msgTrip, nil)
	assert.Equal(t, tripID, first.Trip.ID)
	assert.Len(t, first.Trip.Users, 2)

	date := domain.DateOf(time.Now().AddDate(0, 1, 0))
	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdToggle, Date: string(date)}))
	readUntil(t, ws, msgSelection, func(f liveFrame) bool {
		return len(f.Dates) == 1 && f.Dates[0] == date
	})

	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdFlush}))
	require.Eventually(t, func() bool {
		trip, err := s.trips.Get(context.Background(), tripID)
		return err == nil && domain.SameDates(trip.Member(ada.UserID).SelectedDates, []domain.Date{date})
	}, 3*time.Second, 10*time.Millisecond)

	// Another traveler's lock arrives as an event.
	resp := s.do(t, http.MethodPut, "/api/trips/"+tripID+"/lock", boTok, map[string]bool{"locked": true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev := readUntil(t, ws, msgEvent, func(f liveFrame) bool { return f.Event.Type == service.EventUserLocked })
	assert.Equal(t, "Bo locked their dates", ev.Event.Message)

	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdLock, Locked: true}))
	lock := readUntil(t, ws, msgLock, nil)
	assert.True(t, lock.Lock.Locked)
	assert.True(t, lock.Lock.AllUsersLocked)

	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdToggle, Date: string(date)}))
	locked := readUntil(t, ws, msgError, nil)
	assert.Equal(t, "validation", string(locked.Error.Type), "locked dates cannot be toggled")
}

func TestLiveHandler_BadCommands(t *testing.T) {
	s := newTestServer(t)
	tok, _ := s.signIn(t, "Ada")
	tripID, _ := s.newTripFor(t, tok)

	ws, _, err := s.dialLive(t, tripID, tok)
	require.NoError(t, err)
	readUntil(t, ws, msgTrip, nil)

	tests := []struct {
		name  string
		frame string
	}{
		{"unknown command", `{"type":"teleport"}`},
		{"bad date", `{"type":"toggle","date":"soon"}`},
		{"bad month", `{"type":"view","month":"July"}`},
		{"malformed json", `{"type":`},
		{"wrong field type", `{"type":"toggle","date":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			f := readUntil(t, ws, msgError, nil)
			assert.Equal(t, "validation", string(f.Error.Type))
		})
	}

	// The connection survives bad frames.
	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdView, Month: time.Now().Format("2006-01"), Grid: &gridGeometry{CellWidth: 10, CellHeight: 10}}))
	require.NoError(t, ws.WriteJSON(liveCommand{Type: cmdSetDates, Dates: []string{string(domain.DateOf(time.Now().AddDate(0, 0, 40)))}}))
	readUntil(t, ws, msgSelection, func(f liveFrame) bool { return len(f.Dates) == 1 })
}

func TestLiveHandler_RejectsStrangers(t *testing.T) {
	s := newTestServer(t)
	adaTok, _ := s.signIn(t, "Ada")
	cyTok, _ := s.signIn(t, "Cy")
	tripID, _ := s.newTripFor(t, adaTok)

	_, resp, err := s.dialLive(t, tripID, cyTok)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = s.dialLive(t, tripID, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
