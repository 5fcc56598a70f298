package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/middleware"
	"triplab/internal/service"
	"triplab/internal/service/auth"
	"triplab/internal/store"
	"triplab/pkg/logger"
)

type fakeChat struct {
	mu       sync.Mutex
	requests []*domain.ChatRequest
	answer   string
	err      error
}

func (f *fakeChat) Complete(_ context.Context, req *domain.ChatRequest) (*openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletionResponse{
		ID:    "cmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.answer},
		}},
	}, nil
}

func (f *fakeChat) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeChat) last() *domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type testServer struct {
	*httptest.Server
	auth  service.AuthService
	trips *service.TripService
	chat  *fakeChat
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()
	st := store.New(store.NewMemoryBackend(), zap.NewNop(), nil)
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService("test-secret", time.Hour, log)
	trips := service.NewTripService(st, zap.NewNop())
	locks := service.NewLockCoordinator(st, zap.NewNop(), nil)
	activities := service.NewActivityBoard(st, zap.NewNop())
	sessions := service.NewSessionFactory(st, trips, locks, zap.NewNop(), nil, service.SyncOptions{
		Debounce:     5 * time.Millisecond,
		WriteTimeout: time.Second,
	})
	chat := &fakeChat{answer: "Try the tram."}

	r := chi.NewRouter()
	r.Use(middleware.RequestID(log))
	r.Route("/api", func(r chi.Router) {
		NewAuthHandler(authService, log).RegisterRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authService, log))
			NewTripHandler(trips, locks, log).RegisterRoutes(r)
			NewActivityHandler(trips, activities, log).RegisterRoutes(r)
			NewChatHandler(chat, trips, log).RegisterRoutes(r)
			NewLiveHandler(sessions, nil, log).RegisterRoutes(r)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: authService, trips: trips, chat: chat}
}

// signIn returns a bearer token and the identity behind it.
func (s *testServer) signIn(t *testing.T, name string) (string, domain.Identity) {
	t.Helper()
	resp, err := s.auth.SignInAnonymously(context.Background(), name)
	require.NoError(t, err)
	return resp.Token, domain.Identity{UserID: resp.UserID, Name: resp.Name}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type errorBody struct {
	Error struct {
		Type      string                 `json:"type"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details"`
		RequestID string                 `json:"request_id"`
		Timestamp string                 `json:"timestamp"`
	} `json:"error"`
}

// newTripFor creates a trip owned by token's identity and joins the others.
func (s *testServer) newTripFor(t *testing.T, owner string, others ...string) (tripID, code string) {
	t.Helper()
	var created domain.CreateTripResponse
	resp := s.do(t, http.MethodPost, "/api/trips", owner, map[string]string{"destination": "Lisbon"}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	for _, tok := range others {
		resp := s.do(t, http.MethodPost, "/api/trips/join", tok, map[string]string{"code": created.ShareableCode}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	return created.TripID, created.ShareableCode
}
