package mutation

import (
	"time"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	"dukcapil/internal/nikindex"
	id "dukcapil/pkg/domain"
)

// Role names a produced document's part in the mutation.
type Role string

const (
	RoleOrigin      Role = "origin"
	RoleDestination Role = "destination"
	RoleNew         Role = "new"
)

// Document is one card version produced by a mutation.
type Document struct {
	Role       Role
	CardNumber id.CardNumber
	// PriorID is empty for a brand-new card.
	PriorID id.ContentID
	Before  *models.FamilyCard
	// Card is nil when the mutation emptied the card; nothing is written
	// for a retired card.
	Card  *models.FamilyCard
	Delta []history.MemberDelta
}

// Retired reports whether the card lost all its members.
func (d Document) Retired() bool { return d.Card == nil }

// Entry builds the history entry for d once its new ContentID is known.
func (d Document) Entry(newID id.ContentID, at time.Time, app id.ApplicationID, t event.Type, sub event.MoveSubtype) history.Entry {
	e := history.Entry{
		Timestamp:      at.UTC(),
		EventType:      t,
		MoveSubtype:    sub,
		ApplicationID:  app,
		PriorContentID: d.PriorID,
		NewContentID:   newID,
		MemberDelta:    d.Delta,
		Retired:        d.Retired(),
	}
	if d.Before != nil {
		e.MemberCountBefore = len(d.Before.Members)
	}
	if d.Card != nil {
		e.MemberCountAfter = len(d.Card.Members)
	}
	switch {
	case d.Before == nil && d.Card != nil:
		after := d.Card.Address
		e.AddressAfter = &after
	case d.Before != nil && d.Card != nil && d.Before.Address != d.Card.Address:
		before, after := d.Before.Address, d.Card.Address
		e.AddressBefore, e.AddressAfter = &before, &after
	}
	return e
}

// Result is the outcome of a successful mutation.
type Result struct {
	Validation validation.Result
	Docs       []Document
	// Removed lists NIKs that no current card holds any more.
	Removed []id.NIK
}

// Written returns the documents that must be persisted.
func (r Result) Written() []Document {
	out := make([]Document, 0, len(r.Docs))
	for _, d := range r.Docs {
		if !d.Retired() {
			out = append(out, d)
		}
	}
	return out
}

// Issued returns the numbers of the brand-new cards.
func (r Result) Issued() []id.CardNumber {
	var out []id.CardNumber
	for _, d := range r.Written() {
		if d.Role == RoleNew {
			out = append(out, d.CardNumber)
		}
	}
	return out
}

// IndexChanges derives the index patch once every written document has a
// ContentID. written is keyed by card number.
func (r Result) IndexChanges(written map[id.CardNumber]id.ContentID) []nikindex.Change {
	changes := make([]nikindex.Change, 0, len(r.Removed))
	for _, nik := range r.Removed {
		changes = append(changes, nikindex.Remove(nik))
	}
	for _, d := range r.Written() {
		cid := written[d.CardNumber]
		for _, m := range d.Card.Members {
			changes = append(changes, nikindex.Set(m.NIK, cid))
		}
	}
	return changes
}
