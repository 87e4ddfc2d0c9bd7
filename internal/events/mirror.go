package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Publisher abstracts the pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// TypeStoreChanged tags feed envelopes that carry no event, only a notice
// that the card store changed.
const TypeStoreChanged = "storeChanged"

// Envelope is the JSON shape of a mirrored or streamed event.
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data,omitempty"`
}

// Encode wraps ev in an Envelope and marshals it.
func Encode(ev Event) ([]byte, error) {
	raw, err := json.Marshal(Envelope{Type: ev.Type(), Data: ev})
	if err != nil {
		return nil, fmt.Errorf("events.Encode: %w", err)
	}
	return raw, nil
}

// Mirror forwards every bus event to a pub/sub channel so out-of-process
// collaborators can follow board lifecycle. Publishing is best-effort.
func Mirror(bus *Bus, pub Publisher, channel string) (stop func()) {
	return bus.Subscribe(func(ev Event) {
		payload, err := Encode(ev)
		if err != nil {
			log.Error().Err(err).Str("event", ev.Type()).Msg("events: encode for mirror")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, channel, payload); err != nil {
			log.Warn().Err(err).Str("event", ev.Type()).Str("channel", channel).Msg("events: mirror publish")
		}
	})
}
