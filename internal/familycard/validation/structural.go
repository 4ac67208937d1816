package validation

import (
	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// Structural checks required fields of the payload and the shape of every
// loaded card.
func Structural(in Input) Result {
	var r Result
	if in.Payload == nil {
		r.failf("payload is required")
		return r.done()
	}
	structuralPayload(&r, in.Payload)
	for _, lc := range in.Cards.Distinct() {
		r.Errors = append(r.Errors, CheckCard(lc.Card)...)
	}
	return r.done()
}

// CheckCard returns the structural violations of a single card.
func CheckCard(c *models.FamilyCard) []string {
	var r Result
	if c == nil {
		r.failf("card is missing")
		return r.Errors
	}
	if _, err := id.ParseCardNumber(string(c.CardNumber)); err != nil {
		r.failf("card %q: invalid card number", c.CardNumber)
	}
	for _, f := range c.Address.MissingFields() {
		r.failf("card %s: address %s is required", c.CardNumber, f)
	}
	if len(c.Members) == 0 {
		r.failf("card %s: has no members", c.CardNumber)
		return r.Errors
	}
	seen := make(map[id.NIK]struct{}, len(c.Members))
	heads := 0
	for _, m := range c.Members {
		if _, err := id.ParseNIK(string(m.NIK)); err != nil {
			r.failf("card %s: member %q has an invalid nik", c.CardNumber, m.NIK)
		}
		if _, dup := seen[m.NIK]; dup {
			r.failf("card %s: nik %s appears more than once", c.CardNumber, m.NIK)
		}
		seen[m.NIK] = struct{}{}
		if m.Name == "" {
			r.failf("card %s: member %s has no name", c.CardNumber, m.NIK)
		}
		if m.BirthDate.IsZero() {
			r.failf("card %s: member %s has no birth date", c.CardNumber, m.NIK)
		}
		if m.Sex != models.SexMale && m.Sex != models.SexFemale {
			r.failf("card %s: member %s has invalid sex %q", c.CardNumber, m.NIK, m.Sex)
		}
		if m.FamilyRole == models.RoleHeadOfFamily {
			heads++
		}
	}
	if heads != 1 {
		r.failf("card %s: must have exactly one head of family, found %d", c.CardNumber, heads)
	}
	return r.Errors
}

func structuralPayload(r *Result, p event.Payload) {
	switch p := p.(type) {
	case event.BirthPayload:
		requireText(r, "birth: name", p.Name)
		requireText(r, "birth: birth place", p.BirthPlace)
		requireDate(r, "birth: birth date", p.BirthDate)
		if p.Sex != models.SexMale && p.Sex != models.SexFemale {
			r.failf("birth: sex %q is invalid", p.Sex)
		}
		requireNIK(r, "birth: father nik", p.FatherNIK)
		requireNIK(r, "birth: mother nik", p.MotherNIK)
		optionalNIK(r, "birth: child nik", p.ChildNIK)
		optionalNIK(r, "birth: reporter nik", p.ReporterNIK)
	case event.DeathPayload:
		requireNIK(r, "death: deceased nik", p.DeceasedNIK)
		requireDate(r, "death: death date", p.DeathDate)
		optionalNIK(r, "death: reporter nik", p.ReporterNIK)
	case event.MarriagePayload:
		requireNIK(r, "marriage: husband nik", p.HusbandNIK)
		requireNIK(r, "marriage: wife nik", p.WifeNIK)
		requireDate(r, "marriage: marriage date", p.MarriageDate)
		if p.Address != (models.Address{}) {
			requireAddress(r, "marriage", p.Address)
		}
	case event.DivorcePayload:
		requireNIK(r, "divorce: husband nik", p.HusbandNIK)
		requireNIK(r, "divorce: wife nik", p.WifeNIK)
		requireDate(r, "divorce: divorce date", p.DivorceDate)
		if p.WifeAddress != (models.Address{}) {
			requireAddress(r, "divorce", p.WifeAddress)
		}
	case event.MovePayload:
		structuralMove(r, p)
	default:
		r.failf("unsupported payload %T", p)
	}
}

func structuralMove(r *Result, p event.MovePayload) {
	requireNIK(r, "move: origin nik", p.OriginNIK)
	switch p.Subtype {
	case event.MoveWholeFamily:
		requireAddress(r, "move", p.DestAddress)
	case event.MoveIndependent:
		requireAddress(r, "move", p.DestAddress)
		requireMembers(r, p.MemberNIKs)
		requireNIK(r, "move: new head nik", p.NewHeadNIK)
	case event.MoveMergeExisting:
		requireMembers(r, p.MemberNIKs)
		requireNIK(r, "move: destination head nik", p.DestHeadNIK)
	default:
		r.failf("move: subtype %q is invalid", p.Subtype)
	}
}

func requireMembers(r *Result, niks []id.NIK) {
	if len(niks) == 0 {
		r.failf("move: at least one member must be selected")
		return
	}
	seen := make(map[id.NIK]struct{}, len(niks))
	for _, n := range niks {
		requireNIK(r, "move: member nik", n)
		if _, dup := seen[n]; dup {
			r.failf("move: member %s selected more than once", n)
		}
		seen[n] = struct{}{}
	}
}

func requireText(r *Result, field, v string) {
	if v == "" {
		r.failf("%s is required", field)
	}
}

func requireDate(r *Result, field string, d models.Date) {
	if d.IsZero() {
		r.failf("%s is required", field)
	}
}

func requireNIK(r *Result, field string, n id.NIK) {
	if n == "" {
		r.failf("%s is required", field)
		return
	}
	optionalNIK(r, field, n)
}

func optionalNIK(r *Result, field string, n id.NIK) {
	if n == "" {
		return
	}
	if _, err := id.ParseNIK(string(n)); err != nil {
		r.failf("%s %q is not a 16-digit nik", field, n)
	}
}

func requireAddress(r *Result, what string, a models.Address) {
	for _, f := range a.MissingFields() {
		r.failf("%s: address %s is required", what, f)
	}
}
