// Package protocol defines the named-event wire format spoken between the
// authority process and board clients.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gosuda/appexplorer/internal/domain"
)

// Event names carried in Frame.Event.
const (
	EventQuery       = "query"
	EventQueryResult = "queryResult"
	EventNavigateTo  = "navigateTo"
	EventCard        = "card"
	EventHoverCard   = "hoverCard"
	EventSelectCard  = "selectCard"
	EventCardStatus  = "cardStatus"
)

// Frame is one websocket text message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame for event.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol.NewFrame(%s): %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// QueryRequest is the authority->client RPC envelope.
type QueryRequest struct {
	Name      QueryName       `json:"name"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

// QueryResponse is the client->authority reply, correlated by RequestID.
type QueryResponse struct {
	RequestID string          `json:"requestId"`
	Response  json.RawMessage `json:"response"`
}

// CardUpdate is sent by a board when a card is created, edited or removed.
// A nil Card means the card at URL was deleted.
type CardUpdate struct {
	URL  string       `json:"url"`
	Card *domain.Card `json:"card"`
}

// CardStatusUpdate is broadcast after reconciliation changes a card's status.
type CardStatusUpdate struct {
	MiroLink string            `json:"miroLink"`
	Status   domain.CardStatus `json:"status"`
	CodeLink string            `json:"codeLink,omitempty"`
}
