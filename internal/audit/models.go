package audit

import (
	"time"

	id "dukcapil/pkg/domain"
)

// Action names what happened.
type Action string

const (
	ActionApplicationSubmitted Action = "application_submitted"
	ActionApplicationDecided   Action = "application_transitioned"
	ActionMutationCommitted    Action = "mutation_committed"
	ActionCardsSeeded          Action = "cards_seeded"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out. It never carries NIKs or other
// personal data; those stay inside sealed documents.
type Event struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Action        Action           `json:"action"`
	Actor         id.ActorID       `json:"actor,omitempty"`
	RequestID     string           `json:"request_id,omitempty"`
	ApplicationID id.ApplicationID `json:"application_id,omitempty"`
	EventType     string           `json:"event_type,omitempty"`
	From          string           `json:"from,omitempty"`
	To            string           `json:"to,omitempty"`
	Decision      string           `json:"decision,omitempty"`
	Reason        string           `json:"reason,omitempty"`

	// Cards and IndexContentID are set for committed mutations.
	Cards          []id.CardNumber `json:"cards,omitempty"`
	IndexContentID id.ContentID    `json:"index_content_id,omitempty"`
}
