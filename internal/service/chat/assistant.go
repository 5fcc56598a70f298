package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"triplab/internal/domain"
	"triplab/internal/planning"
	apperrors "triplab/pkg/errors"
)

// Completer is what Assistant needs from the proxy.
type Completer interface {
	Complete(ctx context.Context, req *domain.ChatRequest) (*openai.ChatCompletionResponse, error)
}

// Assistant asks trip-planning questions and returns plain text answers.
type Assistant struct {
	chat  Completer
	model string
}

func NewAssistant(chat Completer, model string) *Assistant {
	return &Assistant{chat: chat, model: model}
}

// Ask sends history followed by question and returns the first choice.
func (a *Assistant) Ask(ctx context.Context, history []domain.ChatMessage, question string) (string, error) {
	messages := append(append([]domain.ChatMessage{}, history...), domain.ChatMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})
	resp, err := a.chat.Complete(ctx, &domain.ChatRequest{Model: a.model, Messages: messages})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewUpstreamError(0, "Assistant returned no answer", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// TripContext describes a trip for the system prompt: destination and the
// agreed dates, if any.
func TripContext(trip *domain.Trip) domain.ChatMessage {
	var b strings.Builder
	b.WriteString("You are a helpful travel planning assistant.")
	if trip != nil {
		fmt.Fprintf(&b, " The group is planning a trip to %s.", trip.Destination)
		if planning.CanPlan(trip) {
			fmt.Fprintf(&b, " Everyone is available on %s.", planning.DateRangeDescription(trip.OverlappedDates))
		}
		fmt.Fprintf(&b, " There are %d travelers.", len(trip.Users))
	}
	return domain.ChatMessage{Role: openai.ChatMessageRoleSystem, Content: b.String()}
}
