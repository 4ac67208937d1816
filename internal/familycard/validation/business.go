package validation

import (
	"slices"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// BusinessRules applies the per-event preconditions of the mutation engine.
func BusinessRules(in Input, rules Rules) Result {
	var r Result
	switch p := in.Payload.(type) {
	case event.BirthPayload:
		birthRules(&r, in, rules, p)
	case event.DeathPayload:
		deathRules(&r, in, rules, p)
	case event.MarriagePayload:
		marriageRules(&r, in, p)
	case event.DivorcePayload:
		divorceRules(&r, in, p)
	case event.MovePayload:
		moveRules(&r, in, p)
	}
	return r.done()
}

func member(r *Result, in Input, what string, nik id.NIK) (models.LoadedCard, models.FamilyMember, bool) {
	if nik == "" {
		return models.LoadedCard{}, models.FamilyMember{}, false
	}
	lc, ok := in.Cards.Of(nik)
	if !ok {
		r.failf("%s %s is not registered on any family card", what, nik)
		return models.LoadedCard{}, models.FamilyMember{}, false
	}
	m, ok := lc.Card.Member(nik)
	if !ok {
		r.failf("%s %s is not a member of card %s", what, nik, lc.Card.CardNumber)
		return models.LoadedCard{}, models.FamilyMember{}, false
	}
	if m.Deceased {
		r.failf("%s %s is recorded as deceased", what, nik)
		return models.LoadedCard{}, models.FamilyMember{}, false
	}
	return lc, m, true
}

func birthRules(r *Result, in Input, rules Rules, p event.BirthPayload) {
	fatherCard, father, okF := member(r, in, "birth: father", p.FatherNIK)
	motherCard, mother, okM := member(r, in, "birth: mother", p.MotherNIK)
	if okF && okM {
		if fatherCard.ContentID != motherCard.ContentID {
			r.failf("birth: father and mother must be on the same family card")
		}
		if father.Sex != models.SexMale {
			r.failf("birth: father %s is not recorded as male", father.NIK)
		}
		if mother.Sex != models.SexFemale {
			r.failf("birth: mother %s is not recorded as female", mother.NIK)
		}
		if father.MaritalStatus != models.MaritalMarried || mother.MaritalStatus != models.MaritalMarried {
			r.failf("birth: father and mother must both be married")
		}
		if p.ChildNIK != "" && fatherCard.Card.HasMember(p.ChildNIK) {
			r.failf("birth: child nik %s is already on card %s", p.ChildNIK, fatherCard.Card.CardNumber)
		}
	}
	if !p.BirthDate.IsZero() {
		if !p.BirthDate.Before(in.Now) {
			r.failf("birth: birth date %s must be in the past", p.BirthDate)
		} else if age := p.BirthDate.AgeAt(in.Now); rules.AdulthoodYears > 0 && age >= rules.AdulthoodYears {
			r.failf("birth: computed age %d reaches the adulthood threshold of %d", age, rules.AdulthoodYears)
		}
	}
	if p.ChildNIK != "" && in.Index != nil {
		if _, taken := in.Index.Lookup(p.ChildNIK); taken {
			r.failf("birth: child nik %s is already registered", p.ChildNIK)
		}
	}
}

func deathRules(r *Result, in Input, rules Rules, p event.DeathPayload) {
	lc, m, ok := member(r, in, "death: deceased", p.DeceasedNIK)
	if !ok {
		return
	}
	if m.FamilyRole == models.RoleHeadOfFamily && len(lc.Card.Members) > 1 && rules.HeadDeathPolicy != HeadDeathPromote {
		r.failf("death: head of family %s cannot be removed while %d other members remain on card %s",
			m.NIK, len(lc.Card.Members)-1, lc.Card.CardNumber)
	}
}

func marriageRules(r *Result, in Input, p event.MarriagePayload) {
	if p.HusbandNIK != "" && p.HusbandNIK == p.WifeNIK {
		r.failf("marriage: husband and wife must be different people")
		return
	}
	hCard, husband, okH := member(r, in, "marriage: husband", p.HusbandNIK)
	wCard, wife, okW := member(r, in, "marriage: wife", p.WifeNIK)
	if okH {
		headLeaves(r, hCard, husband)
		if !husband.MaritalStatus.IsUnmarried() {
			r.failf("marriage: husband %s is %s", husband.NIK, husband.MaritalStatus)
		}
		if husband.Sex != models.SexMale {
			r.failf("marriage: husband %s is not recorded as male", husband.NIK)
		}
	}
	if okW {
		headLeaves(r, wCard, wife)
		if !wife.MaritalStatus.IsUnmarried() {
			r.failf("marriage: wife %s is %s", wife.NIK, wife.MaritalStatus)
		}
		if wife.Sex != models.SexFemale {
			r.failf("marriage: wife %s is not recorded as female", wife.NIK)
		}
	}
}

func divorceRules(r *Result, in Input, p event.DivorcePayload) {
	hCard, husband, okH := member(r, in, "divorce: husband", p.HusbandNIK)
	wCard, wife, okW := member(r, in, "divorce: wife", p.WifeNIK)
	if !okH || !okW {
		return
	}
	if hCard.ContentID != wCard.ContentID {
		r.failf("divorce: husband and wife must be on the same family card")
		return
	}
	if husband.MaritalStatus != models.MaritalMarried || wife.MaritalStatus != models.MaritalMarried {
		r.failf("divorce: husband and wife must both be married")
	}
	if husband.FamilyRole != models.RoleHeadOfFamily || husband.Sex != models.SexMale {
		r.failf("divorce: husband %s must be the male head of family", husband.NIK)
	}
	if wife.FamilyRole != models.RoleSpouse || wife.Sex != models.SexFemale {
		r.failf("divorce: wife %s must be the female spouse", wife.NIK)
	}
	if children := hCard.Card.ChildrenOf(p.HusbandNIK, p.WifeNIK); len(children) > 0 {
		r.failf("divorce: custody of %d children must be resolved before the card can be split", len(children))
	}
}

func moveRules(r *Result, in Input, p event.MovePayload) {
	origin, _, ok := member(r, in, "move: origin", p.OriginNIK)
	if !ok {
		return
	}
	switch p.Subtype {
	case event.MoveWholeFamily:
		if p.DestAddress == origin.Card.Address {
			r.warnf("move: destination address equals the current address of card %s", origin.Card.CardNumber)
		}
	case event.MoveIndependent:
		movingMembers(r, origin, p.MemberNIKs)
		if !slices.Contains(p.MemberNIKs, p.NewHeadNIK) {
			r.failf("move: new head %s must be one of the moving members", p.NewHeadNIK)
		}
	case event.MoveMergeExisting:
		movingMembers(r, origin, p.MemberNIKs)
		dest, head, ok := member(r, in, "move: destination head", p.DestHeadNIK)
		if !ok {
			return
		}
		if head.FamilyRole != models.RoleHeadOfFamily {
			r.failf("move: %s is not the head of card %s", head.NIK, dest.Card.CardNumber)
		}
		if dest.ContentID == origin.ContentID {
			r.failf("move: destination card must differ from the origin card")
		}
	}
}

// movingMembers checks the selection belongs to the origin card and does not
// strand the remaining members without a head.
func movingMembers(r *Result, origin models.LoadedCard, niks []id.NIK) {
	headMoving := false
	for _, n := range niks {
		m, ok := origin.Card.Member(n)
		if !ok {
			r.failf("move: member %s is not on origin card %s", n, origin.Card.CardNumber)
			continue
		}
		if m.FamilyRole == models.RoleHeadOfFamily {
			headMoving = true
		}
	}
	if headMoving && len(niks) < len(origin.Card.Members) {
		r.failf("move: head of family cannot leave card %s while other members remain", origin.Card.CardNumber)
	}
}

func headLeaves(r *Result, lc models.LoadedCard, m models.FamilyMember) {
	if m.FamilyRole == models.RoleHeadOfFamily && len(lc.Card.Members) > 1 {
		r.failf("marriage: head of family %s cannot leave card %s while other members remain", m.NIK, lc.Card.CardNumber)
	}
}
