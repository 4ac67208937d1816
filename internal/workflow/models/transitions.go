package models

import (
	"fmt"

	"dukcapil/internal/familycard/event"
)

// Action is a requested transition.
type Action string

const (
	ActionVerifyByVillage       Action = "verify_by_village"
	ActionVerifyByOriginVillage Action = "verify_by_origin_village"
	ActionVerifyByDestVillage   Action = "verify_by_dest_village"
	ActionRequestDestHead       Action = "request_dest_head_confirmation"
	ActionConfirmByDestHead     Action = "confirm_by_dest_head"
	ActionVerifyByRegistry      Action = "verify_by_registry"
	ActionCancel                Action = "cancel"
)

// Actor names who may perform an edge.
type Actor string

const (
	ActorOriginVillage  Actor = "origin_village"
	ActorDestVillage    Actor = "dest_village"
	ActorDestHead       Actor = "dest_head"
	ActorRegistryOffice Actor = "registry_office"
	ActorApplicant      Actor = "applicant"
)

// MergeGate selects which step must precede registry approval of a
// merge-into-existing move.
type MergeGate string

const (
	// GateHead requires the destination head of family's confirmation.
	GateHead MergeGate = "head"
	// GateVillage requires destination village approval.
	GateVillage MergeGate = "village"
	// GateEither accepts whichever happened.
	GateEither MergeGate = "either"
)

func ParseMergeGate(s string) (MergeGate, error) {
	switch g := MergeGate(s); g {
	case GateHead, GateVillage, GateEither:
		return g, nil
	}
	return "", fmt.Errorf("unknown merge gate %q", s)
}

func (g MergeGate) allowsHead() bool    { return g == GateHead || g == GateEither }
func (g MergeGate) allowsVillage() bool { return g == GateVillage || g == GateEither }

// Edge is one permitted transition. OnReject is meaningful only when
// Rejectable is set.
type Edge struct {
	Action     Action
	Actor      Actor
	From       Status
	OnApprove  Status
	OnReject   Status
	Rejectable bool
}

// To returns the target status for a decision.
func (e Edge) To(approved bool) Status {
	if approved || !e.Rejectable {
		return e.OnApprove
	}
	return e.OnReject
}

// Edges lists every transition available to an application of the given
// kind. Anything not listed is a state-guard violation.
func Edges(t event.Type, sub event.MoveSubtype, gate MergeGate) []Edge {
	cancel := Edge{Action: ActionCancel, Actor: ActorApplicant, From: StatusSubmitted, OnApprove: StatusCancelledByApplicant}
	if t != event.TypeMove {
		return []Edge{
			cancel,
			{ActionVerifyByVillage, ActorOriginVillage, StatusSubmitted, StatusApprovedByVillage, StatusRejectedByVillage, true},
			{ActionVerifyByRegistry, ActorRegistryOffice, StatusApprovedByVillage, StatusApprovedByRegistry, StatusRejectedByRegistry, true},
		}
	}

	edges := []Edge{
		cancel,
		{ActionVerifyByOriginVillage, ActorOriginVillage, StatusSubmitted, StatusApprovedByOriginVillage, StatusRejectedByOriginVillage, true},
	}
	viaVillage := sub != event.MoveMergeExisting || gate.allowsVillage()
	viaHead := sub == event.MoveMergeExisting && gate.allowsHead()
	if viaVillage {
		edges = append(edges,
			Edge{ActionVerifyByDestVillage, ActorDestVillage, StatusApprovedByOriginVillage, StatusApprovedByDestVillage, StatusRejectedByDestVillage, true},
			Edge{ActionVerifyByRegistry, ActorRegistryOffice, StatusApprovedByDestVillage, StatusApprovedByRegistry, StatusRejectedByRegistry, true},
		)
	}
	if viaHead {
		edges = append(edges,
			Edge{Action: ActionRequestDestHead, Actor: ActorApplicant, From: StatusApprovedByOriginVillage, OnApprove: StatusAwaitingDestHeadConfirmation},
			Edge{ActionConfirmByDestHead, ActorDestHead, StatusAwaitingDestHeadConfirmation, StatusConfirmedByDestHead, StatusRejectedByDestHead, true},
			Edge{ActionVerifyByRegistry, ActorRegistryOffice, StatusConfirmedByDestHead, StatusApprovedByRegistry, StatusRejectedByRegistry, true},
		)
	}
	return edges
}

// EdgeFor finds the edge for action leaving from. ok is false when the
// action exists for this kind of application but not from this status, or
// does not exist at all.
func EdgeFor(t event.Type, sub event.MoveSubtype, gate MergeGate, action Action, from Status) (Edge, bool) {
	for _, e := range Edges(t, sub, gate) {
		if e.Action == action && e.From == from {
			return e, true
		}
	}
	return Edge{}, false
}

// ExpectedSources lists the statuses from which action is allowed.
func ExpectedSources(t event.Type, sub event.MoveSubtype, gate MergeGate, action Action) []Status {
	var out []Status
	for _, e := range Edges(t, sub, gate) {
		if e.Action == action {
			out = append(out, e.From)
		}
	}
	return out
}
