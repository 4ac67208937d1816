// Package models holds the ledger's application record and the transition
// table that governs it.
package models

import (
	"time"

	"dukcapil/internal/familycard/event"
	id "dukcapil/pkg/domain"
)

// Verification records one actor's decision.
type Verification struct {
	Actor    id.ActorID `json:"actor"`
	Approved bool       `json:"approved"`
	At       time.Time  `json:"at"`
}

// Verifiers collects the decision of every step that has run.
type Verifiers struct {
	Village       *Verification `json:"village,omitempty"`
	OriginVillage *Verification `json:"origin_village,omitempty"`
	DestVillage   *Verification `json:"dest_village,omitempty"`
	DestHead      *Verification `json:"dest_head,omitempty"`
	Registry      *Verification `json:"registry,omitempty"`
}

// TrailEntry is one applied transition.
type TrailEntry struct {
	From   Status     `json:"from"`
	To     Status     `json:"to"`
	Action Action     `json:"action"`
	Actor  id.ActorID `json:"actor"`
	At     time.Time  `json:"at"`
	Reason string     `json:"reason,omitempty"`
}

// Application is a life-event request (permohonan). It is created on
// submission, changes only through guarded transitions and is never deleted.
type Application struct {
	ID                 id.ApplicationID  `json:"id"`
	Applicant          id.ActorID        `json:"applicant"`
	EventType          event.Type        `json:"event_type"`
	MoveSubtype        event.MoveSubtype `json:"move_subtype,omitempty"`
	PayloadContentID   id.ContentID      `json:"payload_content_id"`
	OriginVillageID    id.VillageID      `json:"origin_village_id"`
	DestVillageID      id.VillageID      `json:"dest_village_id,omitempty"`
	Status             Status            `json:"status"`
	RejectionReason    string            `json:"rejection_reason,omitempty"`
	Verifiers          Verifiers         `json:"verifiers"`
	OfficialDocumentID id.ContentID      `json:"official_document_id,omitempty"`
	Trail              []TrailEntry      `json:"trail"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// IsMove reports whether the application is a residence change.
func (a *Application) IsMove() bool { return a.EventType == event.TypeMove }

// Clone returns a copy that shares no mutable state with a.
func (a *Application) Clone() *Application {
	out := *a
	out.Trail = append([]TrailEntry(nil), a.Trail...)
	out.Verifiers = a.Verifiers.clone()
	return &out
}

func (v Verifiers) clone() Verifiers {
	cp := func(x *Verification) *Verification {
		if x == nil {
			return nil
		}
		y := *x
		return &y
	}
	return Verifiers{
		Village:       cp(v.Village),
		OriginVillage: cp(v.OriginVillage),
		DestVillage:   cp(v.DestVillage),
		DestHead:      cp(v.DestHead),
		Registry:      cp(v.Registry),
	}
}

// Record applies a transition decided by the state machine: it moves the
// status, stamps the verifier slot for action and appends to the trail.
func (a *Application) Record(action Action, to Status, actor id.ActorID, approved bool, reason string, at time.Time) {
	v := &Verification{Actor: actor, Approved: approved, At: at}
	switch action {
	case ActionVerifyByVillage:
		a.Verifiers.Village = v
	case ActionVerifyByOriginVillage:
		a.Verifiers.OriginVillage = v
	case ActionVerifyByDestVillage:
		a.Verifiers.DestVillage = v
	case ActionConfirmByDestHead:
		a.Verifiers.DestHead = v
	case ActionVerifyByRegistry:
		a.Verifiers.Registry = v
	}
	a.Trail = append(a.Trail, TrailEntry{From: a.Status, To: to, Action: action, Actor: actor, At: at, Reason: reason})
	if !approved {
		a.RejectionReason = reason
	}
	a.Status = to
	a.UpdatedAt = at
}
