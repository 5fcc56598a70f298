package domain

// Identity is the authenticated actor behind a request or live session.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// AnonymousSignInRequest asks for a token under a display name
type AnonymousSignInRequest struct {
	Name string `json:"name" validate:"required,min=1,max=60"`
}

// CreateTripRequest represents a new trip submission
type CreateTripRequest struct {
	Destination string `json:"destination" validate:"required,min=1,max=200"`
}

// JoinTripRequest represents a join by shareable code
type JoinTripRequest struct {
	Code string `json:"code" validate:"required,shareable_code"`
}

// SetDatesRequest replaces the caller's selected dates
type SetDatesRequest struct {
	Dates []string `json:"dates" validate:"dive,iso_date"`
}

// SetLockRequest sets the caller's lock flag
type SetLockRequest struct {
	Locked bool `json:"locked"`
}

// ActivityRequest is used for both creating and editing an activity
type ActivityRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

// VoteRequest carries a vote direction (-1, 0 or 1)
type VoteRequest struct {
	Direction int `json:"direction" validate:"min=-1,max=1"`
}

// CreateTripResponse is returned after a trip is created
type CreateTripResponse struct {
	TripID        string `json:"trip_id"`
	ShareableCode string `json:"shareable_code"`
}

// JoinTripResponse is returned after a join
type JoinTripResponse struct {
	TripID        string `json:"trip_id"`
	AlreadyJoined bool   `json:"already_joined"`
}

// AuthTokenResponse is issued by anonymous sign-in
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	ExpiresAt Timestamp `json:"expires_at"`
}

// ChatMessage is one turn of an assistant conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ChatRequest is proxied to the hosted assistant
type ChatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages" validate:"required,dive"`
}

// AssistantRequest asks the planning assistant about one trip
type AssistantRequest struct {
	Question string        `json:"question" validate:"required,max=4000"`
	History  []ChatMessage `json:"history" validate:"dive"`
}

// AssistantResponse carries the assistant's plain text answer
type AssistantResponse struct {
	Answer string `json:"answer"`
}
