package service

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"triplab/internal/domain"
)

// AuthService issues and validates the tokens that identify travelers
type AuthService interface {
	// SignInAnonymously creates a fresh identity under a display name
	SignInAnonymously(ctx context.Context, name string) (*domain.AuthTokenResponse, error)

	// ValidateToken checks a bearer token and returns the identity behind it
	ValidateToken(ctx context.Context, token string) (*domain.Identity, error)
}

// ChatService forwards a conversation to the hosted assistant
type ChatService interface {
	// Complete returns the upstream completion for req
	Complete(ctx context.Context, req *domain.ChatRequest) (*openai.ChatCompletionResponse, error)
}

// Services aggregates everything the HTTP layer depends on
type Services struct {
	Auth       AuthService
	Chat       ChatService
	Trips      *TripService
	Locks      *LockCoordinator
	Activities *ActivityBoard
	Sessions   *SessionFactory
}
