// Package event defines the life-event payloads carried inside an
// application's encrypted payload blob.
//
// Payload is a closed sum type: only the types in this package implement it,
// so switches over a Payload can be checked for exhaustiveness by reviewers
// and by the exhaustive linter.
package event

import (
	"fmt"

	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// Type tags the event carried by an application.
type Type string

const (
	TypeBirth    Type = "birth"
	TypeDeath    Type = "death"
	TypeMarriage Type = "marriage"
	TypeDivorce  Type = "divorce"
	TypeMove     Type = "move"
)

// ParseType validates an event tag.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeBirth, TypeDeath, TypeMarriage, TypeDivorce, TypeMove:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

func (t Type) String() string { return string(t) }

// MoveSubtype selects the residence-change variant.
type MoveSubtype string

const (
	MoveNone          MoveSubtype = ""
	MoveWholeFamily   MoveSubtype = "whole_family"
	MoveIndependent   MoveSubtype = "independent"
	MoveMergeExisting MoveSubtype = "merge_existing"
)

// ParseMoveSubtype validates a move subtype. The empty string is accepted and
// means "not a move".
func ParseMoveSubtype(s string) (MoveSubtype, error) {
	switch m := MoveSubtype(s); m {
	case MoveNone, MoveWholeFamily, MoveIndependent, MoveMergeExisting:
		return m, nil
	}
	return "", fmt.Errorf("unknown move subtype %q", s)
}

func (m MoveSubtype) String() string { return string(m) }

// Payload is implemented by every event-specific payload.
type Payload interface {
	Type() Type
	// Subjects lists the NIKs whose current cards must be loaded before the
	// event can be validated or applied.
	Subjects() []id.NIK
	// References lists optional NIKs (reporters, witnesses) that should
	// resolve through the index but are not mutated.
	References() []id.NIK
	isPayload()
}

// BirthPayload registers a newborn onto the parents' card.
type BirthPayload struct {
	ChildNIK    id.NIK       `json:"child_nik,omitempty"`
	Name        string       `json:"name"`
	BirthPlace  string       `json:"birth_place"`
	BirthDate   models.Date  `json:"birth_date"`
	Sex         models.Sex   `json:"sex"`
	Religion    string       `json:"religion"`
	Nationality string       `json:"nationality"`
	FatherNIK   id.NIK       `json:"father_nik"`
	MotherNIK   id.NIK       `json:"mother_nik"`
	ReporterNIK id.NIK       `json:"reporter_nik,omitempty"`
	WitnessNIKs []id.NIK     `json:"witness_niks,omitempty"`
	Certificate id.ContentID `json:"birth_certificate,omitempty"`
}

// DeathPayload removes a deceased member.
type DeathPayload struct {
	DeceasedNIK id.NIK       `json:"deceased_nik"`
	DeathDate   models.Date  `json:"death_date"`
	DeathPlace  string       `json:"death_place"`
	Cause       string       `json:"cause,omitempty"`
	ReporterNIK id.NIK       `json:"reporter_nik,omitempty"`
	WitnessNIKs []id.NIK     `json:"witness_niks,omitempty"`
	Certificate id.ContentID `json:"death_certificate,omitempty"`
}

// MarriagePayload moves both spouses onto a new card.
// When Address is zero the husband's current address is used.
type MarriagePayload struct {
	HusbandNIK   id.NIK         `json:"husband_nik"`
	WifeNIK      id.NIK         `json:"wife_nik"`
	MarriageDate models.Date    `json:"marriage_date"`
	Address      models.Address `json:"address"`
	WitnessNIKs  []id.NIK       `json:"witness_niks,omitempty"`
	Certificate  id.ContentID   `json:"marriage_certificate,omitempty"`
}

// DivorcePayload splits the wife onto her own card.
// When WifeAddress is zero the shared card's address is used.
type DivorcePayload struct {
	HusbandNIK    id.NIK         `json:"husband_nik"`
	WifeNIK       id.NIK         `json:"wife_nik"`
	DivorceDate   models.Date    `json:"divorce_date"`
	WifeAddress   models.Address `json:"wife_address"`
	CourtDecision id.ContentID   `json:"court_decision,omitempty"`
}

// MovePayload changes residence.
//
//   - WholeFamily: OriginNIK identifies the card; DestAddress replaces its address.
//   - Independent: MemberNIKs leave the origin card for a new card at
//     DestAddress headed by NewHeadNIK.
//   - MergeExisting: MemberNIKs leave the origin card and join the card
//     currently headed by DestHeadNIK.
type MovePayload struct {
	Subtype     MoveSubtype    `json:"subtype"`
	OriginNIK   id.NIK         `json:"origin_nik"`
	MemberNIKs  []id.NIK       `json:"member_niks,omitempty"`
	NewHeadNIK  id.NIK         `json:"new_head_nik,omitempty"`
	DestHeadNIK id.NIK         `json:"dest_head_nik,omitempty"`
	DestAddress models.Address `json:"dest_address"`
	Reason      string         `json:"reason,omitempty"`
	Supporting  id.ContentID   `json:"supporting_document,omitempty"`
}

func (BirthPayload) Type() Type    { return TypeBirth }
func (DeathPayload) Type() Type    { return TypeDeath }
func (MarriagePayload) Type() Type { return TypeMarriage }
func (DivorcePayload) Type() Type  { return TypeDivorce }
func (MovePayload) Type() Type     { return TypeMove }

func (BirthPayload) isPayload()    {}
func (DeathPayload) isPayload()    {}
func (MarriagePayload) isPayload() {}
func (DivorcePayload) isPayload()  {}
func (MovePayload) isPayload()     {}

func (p BirthPayload) Subjects() []id.NIK    { return nonEmpty(p.FatherNIK, p.MotherNIK) }
func (p DeathPayload) Subjects() []id.NIK    { return nonEmpty(p.DeceasedNIK) }
func (p MarriagePayload) Subjects() []id.NIK { return nonEmpty(p.HusbandNIK, p.WifeNIK) }
func (p DivorcePayload) Subjects() []id.NIK  { return nonEmpty(p.HusbandNIK, p.WifeNIK) }

func (p MovePayload) Subjects() []id.NIK {
	out := nonEmpty(p.OriginNIK)
	out = append(out, nonEmpty(p.MemberNIKs...)...)
	if p.Subtype == MoveMergeExisting {
		out = append(out, nonEmpty(p.DestHeadNIK)...)
	}
	return out
}

func (p BirthPayload) References() []id.NIK {
	return append(nonEmpty(p.ReporterNIK), nonEmpty(p.WitnessNIKs...)...)
}

func (p DeathPayload) References() []id.NIK {
	return append(nonEmpty(p.ReporterNIK), nonEmpty(p.WitnessNIKs...)...)
}

func (p MarriagePayload) References() []id.NIK { return nonEmpty(p.WitnessNIKs...) }
func (DivorcePayload) References() []id.NIK    { return nil }
func (MovePayload) References() []id.NIK       { return nil }

func nonEmpty(niks ...id.NIK) []id.NIK {
	out := make([]id.NIK, 0, len(niks))
	for _, n := range niks {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
