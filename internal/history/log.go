// Package history keeps the bounded, per-card-lineage log of mutations.
//
// A lineage is keyed by card number, which survives every mutation even
// though each mutation writes the card under a new ContentID. Each log
// version is itself an immutable blob; the ledger tracks the latest one.
package history

import (
	"context"
	"time"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// DefaultCap is the number of entries retained per lineage.
const DefaultCap = 50

// Action records whether a member joined or left the card.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// MemberDelta is one membership change.
type MemberDelta struct {
	NIK    id.NIK `json:"nik"`
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Entry describes one version step of a card.
type Entry struct {
	Timestamp         time.Time         `json:"timestamp"`
	EventType         event.Type        `json:"event_type"`
	MoveSubtype       event.MoveSubtype `json:"move_subtype,omitempty"`
	ApplicationID     id.ApplicationID  `json:"application_id,omitempty"`
	PriorContentID    id.ContentID      `json:"prior_content_id,omitempty"`
	NewContentID      id.ContentID      `json:"new_content_id,omitempty"`
	MemberDelta       []MemberDelta     `json:"member_delta,omitempty"`
	AddressBefore     *models.Address   `json:"address_before,omitempty"`
	AddressAfter      *models.Address   `json:"address_after,omitempty"`
	MemberCountBefore int               `json:"member_count_before"`
	MemberCountAfter  int               `json:"member_count_after"`

	// Retired marks the last entry of a lineage whose card lost all members.
	Retired bool `json:"retired,omitempty"`
}

// Log is the retained history of one card lineage, oldest first.
type Log struct {
	CardNumber id.CardNumber `json:"card_number"`
	Entries    []Entry       `json:"entries"`
}

// Append returns a copy of l with e added, evicting the oldest entries beyond
// limit. A non-positive limit means DefaultCap.
func (l Log) Append(e Entry, limit int) Log {
	if limit <= 0 {
		limit = DefaultCap
	}
	entries := make([]Entry, 0, len(l.Entries)+1)
	entries = append(entries, l.Entries...)
	entries = append(entries, e)
	if over := len(entries) - limit; over > 0 {
		entries = entries[over:]
	}
	return Log{CardNumber: l.CardNumber, Entries: entries}
}

// Latest returns the most recent entry.
func (l Log) Latest() (Entry, bool) {
	if len(l.Entries) == 0 {
		return Entry{}, false
	}
	return l.Entries[len(l.Entries)-1], true
}

// Documents persists logs as content-store blobs.
type Documents interface {
	Put(ctx context.Context, v any) (id.ContentID, error)
	Get(ctx context.Context, cid id.ContentID, v any) error
}

// Repository reads and writes log versions.
type Repository struct {
	docs  Documents
	limit int
}

func NewRepository(docs Documents, limit int) *Repository {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Repository{docs: docs, limit: limit}
}

// Load returns the log stored at ptr, or an empty log for card when ptr is empty.
func (r *Repository) Load(ctx context.Context, card id.CardNumber, ptr id.ContentID) (Log, error) {
	if ptr.IsNil() {
		return Log{CardNumber: card}, nil
	}
	var l Log
	if err := r.docs.Get(ctx, ptr, &l); err != nil {
		return Log{}, err
	}
	return l, nil
}

// Append loads the log at ptr, appends e and persists the new version.
func (r *Repository) Append(ctx context.Context, card id.CardNumber, ptr id.ContentID, e Entry) (id.ContentID, error) {
	l, err := r.Load(ctx, card, ptr)
	if err != nil {
		return "", err
	}
	return r.docs.Put(ctx, l.Append(e, r.limit))
}
