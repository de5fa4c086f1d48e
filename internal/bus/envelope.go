// Package bus carries coordination lines between agents. Delivery is asynchronous,
// at-least-once and unordered; receivers must treat every envelope idempotently.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/protocol"
)

// Envelope wraps one coordination line. An empty To broadcasts to every agent.
type Envelope struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

func NewEnvelope(clk clock.Clock, from, to string, m protocol.Message) Envelope {
	return Envelope{
		ID:     uuid.NewString(),
		From:   from,
		To:     to,
		Text:   protocol.Format(m),
		SentAt: clk.Now().UTC(),
	}
}

// ValidateBasic checks the fields every envelope must carry.
func (e *Envelope) ValidateBasic() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.From == "" {
		return fmt.Errorf("from is required")
	}
	if e.Text == "" {
		return fmt.Errorf("text is required")
	}
	if e.SentAt.IsZero() {
		return fmt.Errorf("sent_at is required")
	}
	return nil
}

// For reports whether agentID should process the envelope.
func (e Envelope) For(agentID string) bool {
	return e.From != agentID && (e.To == "" || e.To == agentID)
}

func (e Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope validates raw against the envelope schema and decodes it.
func UnmarshalEnvelope(raw []byte) (Envelope, error) {
	if err := protocol.ValidateEnvelopeJSON(raw); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Endpoint is one agent's attachment to the channel. Poll never blocks waiting for
// traffic; it returns whatever arrived since the previous call.
type Endpoint interface {
	Publish(ctx context.Context, env Envelope) error
	Poll(ctx context.Context) ([]Envelope, error)
	Close() error
}
