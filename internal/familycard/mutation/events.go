package mutation

import (
	"sort"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	id "dukcapil/pkg/domain"
)

func (e *Engine) birth(in validation.Input, p event.BirthPayload) (Result, error) {
	lc, _ := in.Cards.Of(p.FatherNIK)
	father, _ := lc.Card.Member(p.FatherNIK)

	nik := p.ChildNIK
	if nik == "" {
		var err error
		nik, err = e.gen.NIK(lc.Card.CardNumber.RegionCode(), p.BirthDate, p.Sex, takenNIK(in))
		if err != nil {
			return Result{}, err
		}
	}
	child := models.FamilyMember{
		NIK:           nik,
		Name:          p.Name,
		BirthPlace:    p.BirthPlace,
		BirthDate:     p.BirthDate,
		Sex:           p.Sex,
		Religion:      firstNonEmpty(p.Religion, father.Religion),
		MaritalStatus: models.MaritalSingle,
		FamilyRole:    models.RoleChild,
		Nationality:   firstNonEmpty(p.Nationality, father.Nationality),
		FatherNIK:     p.FatherNIK,
		MotherNIK:     p.MotherNIK,
	}

	w := newWorkset()
	w.edit(lc, RoleOrigin).add(child, "birth")
	return Result{Docs: w.docs()}, nil
}

func (e *Engine) death(in validation.Input, p event.DeathPayload) (Result, error) {
	lc, _ := in.Cards.Of(p.DeceasedNIK)
	w := newWorkset()
	d := w.edit(lc, RoleOrigin)
	removed := d.remove("death", p.DeceasedNIK)
	deceased := removed[0]

	if len(d.Card.Members) > 0 {
		spouse := survivingSpouse(d.Card, deceased)
		if spouse != "" {
			d.Card.Update(spouse, func(m *models.FamilyMember) {
				if m.MaritalStatus == models.MaritalMarried {
					m.MaritalStatus = models.MaritalWidowed
				}
			})
		}
		if deceased.FamilyRole == models.RoleHeadOfFamily {
			successor := spouse
			if successor == "" {
				successor = eldest(d.Card)
			}
			d.Card.Update(successor, func(m *models.FamilyMember) { m.FamilyRole = models.RoleHeadOfFamily })
			e.logger.Info("head of family promoted", "card_number", d.CardNumber, "nik", successor)
		}
	}
	return Result{Docs: w.docs(), Removed: []id.NIK{p.DeceasedNIK}}, nil
}

// survivingSpouse returns the head or spouse paired with a deceased spouse
// or head, when both were recorded as married.
func survivingSpouse(c *models.FamilyCard, deceased models.FamilyMember) id.NIK {
	if deceased.MaritalStatus != models.MaritalMarried {
		return ""
	}
	var want models.FamilyRole
	switch deceased.FamilyRole {
	case models.RoleHeadOfFamily:
		want = models.RoleSpouse
	case models.RoleSpouse:
		want = models.RoleHeadOfFamily
	default:
		return ""
	}
	for _, m := range c.Members {
		if m.FamilyRole == want && m.MaritalStatus == models.MaritalMarried {
			return m.NIK
		}
	}
	return ""
}

func eldest(c *models.FamilyCard) id.NIK {
	members := append([]models.FamilyMember(nil), c.Members...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].BirthDate.Before(members[j].BirthDate.Time) })
	return members[0].NIK
}

func (e *Engine) marriage(in validation.Input, p event.MarriagePayload) (Result, error) {
	hCard, _ := in.Cards.Of(p.HusbandNIK)
	wCard, _ := in.Cards.Of(p.WifeNIK)

	w := newWorkset()
	husband := w.edit(hCard, RoleOrigin).remove("marriage", p.HusbandNIK)[0]
	wife := w.edit(wCard, RoleOrigin).remove("marriage", p.WifeNIK)[0]

	addr := p.Address
	if addr == (models.Address{}) {
		addr = hCard.Card.Address
	}
	card, err := e.newCard(in, hCard.Card.CardNumber.RegionCode(), addr)
	if err != nil {
		return Result{}, err
	}
	husband.FamilyRole, husband.MaritalStatus = models.RoleHeadOfFamily, models.MaritalMarried
	wife.FamilyRole, wife.MaritalStatus = models.RoleSpouse, models.MaritalMarried
	nd := w.create(card)
	nd.add(husband, "marriage")
	nd.add(wife, "marriage")
	return Result{Docs: w.docs()}, nil
}

func (e *Engine) divorce(in validation.Input, p event.DivorcePayload) (Result, error) {
	lc, _ := in.Cards.Of(p.HusbandNIK)

	w := newWorkset()
	origin := w.edit(lc, RoleOrigin)
	wife := origin.remove("divorce", p.WifeNIK)[0]
	origin.Card.Update(p.HusbandNIK, func(m *models.FamilyMember) { m.MaritalStatus = models.MaritalDivorced })

	addr := p.WifeAddress
	if addr == (models.Address{}) {
		addr = lc.Card.Address
	}
	card, err := e.newCard(in, lc.Card.CardNumber.RegionCode(), addr)
	if err != nil {
		return Result{}, err
	}
	wife.FamilyRole, wife.MaritalStatus = models.RoleHeadOfFamily, models.MaritalDivorced
	w.create(card).add(wife, "divorce")
	return Result{Docs: w.docs()}, nil
}

func (e *Engine) move(in validation.Input, p event.MovePayload) (Result, error) {
	origin, _ := in.Cards.Of(p.OriginNIK)
	w := newWorkset()

	switch p.Subtype {
	case event.MoveWholeFamily:
		w.edit(origin, RoleOrigin).Card.Address = p.DestAddress

	case event.MoveIndependent:
		moving := w.edit(origin, RoleOrigin).remove("move: independent", p.MemberNIKs...)
		card, err := e.newCard(in, origin.Card.CardNumber.RegionCode(), p.DestAddress)
		if err != nil {
			return Result{}, err
		}
		nd := w.create(card)
		for _, m := range moving {
			switch {
			case m.NIK == p.NewHeadNIK:
				m.FamilyRole = models.RoleHeadOfFamily
			case m.FamilyRole == models.RoleHeadOfFamily:
				m.FamilyRole = models.RoleOther
			}
			nd.add(m, "move: independent")
		}

	case event.MoveMergeExisting:
		moving := w.edit(origin, RoleOrigin).remove("move: merge", p.MemberNIKs...)
		dest, _ := in.Cards.Of(p.DestHeadNIK)
		dd := w.edit(dest, RoleDestination)
		for _, m := range moving {
			if m.FamilyRole == models.RoleHeadOfFamily || m.FamilyRole == models.RoleSpouse {
				m.FamilyRole = models.RoleOther
			}
			dd.add(m, "move: merge")
		}
	}
	return Result{Docs: w.docs()}, nil
}

func (e *Engine) newCard(in validation.Input, region string, addr models.Address) (*models.FamilyCard, error) {
	number, err := e.gen.CardNumber(region, in.Now, takenCard(in))
	if err != nil {
		return nil, err
	}
	return &models.FamilyCard{CardNumber: number, Address: addr, IssuedAt: in.Now.UTC()}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
