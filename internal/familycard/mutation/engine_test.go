package mutation

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dukcapil/internal/familycard/cardtest"
	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	"dukcapil/internal/nikindex"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

const (
	pratamaCard id.CardNumber = "3404020303030003"
	yosefNIK    id.NIK        = "3404020101650008"
	jokoNIK     id.NIK        = "3404021111990009"
)

func pratama() *models.FamilyCard {
	yosef := cardtest.As(cardtest.Person(yosefNIK, "Yosef Pratama", models.SexMale, models.NewDate(1965, time.January, 1)), models.RoleHeadOfFamily, models.MaritalWidowed)
	joko := cardtest.ChildOf(cardtest.Person(jokoNIK, "Joko Pratama", models.SexMale, models.NewDate(1999, time.November, 11)), yosefNIK, "")
	return cardtest.Card(pratamaCard, cardtest.Sleman, yosef, joko)
}

type EngineSuite struct {
	suite.Suite
	engine  *Engine
	cards   []models.LoadedCard
	index   nikindex.Index
	rules   validation.Rules
	santoso models.LoadedCard
	wijaya  models.LoadedCard
	pratama models.LoadedCard
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.rules = validation.DefaultRules()
	s.engine = NewEngine(s.rules, WithGenerator(NewGenerator(rand.NewPCG(1, 2))))
	s.santoso = models.LoadedCard{ContentID: "sha256-santoso", Card: cardtest.Santoso()}
	s.wijaya = models.LoadedCard{ContentID: "sha256-wijaya", Card: cardtest.Wijaya()}
	s.pratama = models.LoadedCard{ContentID: "sha256-pratama", Card: pratama()}
	s.cards = []models.LoadedCard{s.santoso, s.wijaya, s.pratama}
	s.index = nikindex.FromMap(cardtest.IndexOf(s.cards...))
}

func (s *EngineSuite) input(p event.Payload) validation.Input {
	return validation.Input{Payload: p, Cards: cardtest.Set(s.cards...), Index: s.index, Now: cardtest.Now}
}

// commit fakes persistence: every written card gets a ContentID derived from
// its card number, and the index is patched accordingly.
func (s *EngineSuite) commit(res Result) (nikindex.Index, map[id.CardNumber]*models.FamilyCard) {
	written := make(map[id.CardNumber]id.ContentID)
	cards := make(map[id.CardNumber]*models.FamilyCard)
	for _, d := range res.Written() {
		written[d.CardNumber] = id.ContentID("sha256-new-" + string(d.CardNumber))
		cards[d.CardNumber] = d.Card
	}
	return s.index.Patch(res.IndexChanges(written)), cards
}

// assertConsistent checks every member of every written card resolves to
// that card and that nobody resolves to a card they are no longer on.
func (s *EngineSuite) assertConsistent(idx nikindex.Index, written map[id.CardNumber]*models.FamilyCard, res Result) {
	for number, card := range written {
		for _, m := range card.Members {
			cid, ok := idx.Lookup(m.NIK)
			s.True(ok, "nik %s missing from index", m.NIK)
			s.Equal(id.ContentID("sha256-new-"+string(number)), cid)
		}
	}
	for _, d := range res.Docs {
		for _, delta := range d.Delta {
			if delta.Action != history.ActionRemove {
				continue
			}
			cid, ok := idx.Lookup(delta.NIK)
			if ok {
				s.NotEqual(d.PriorID, cid, "nik %s still points at its old card", delta.NIK)
			}
		}
	}
	for _, nik := range res.Removed {
		_, ok := idx.Lookup(nik)
		s.False(ok)
	}
}

func (s *EngineSuite) TestBirthAppendsChild() {
	p := event.BirthPayload{
		Name: "Putri Santoso", BirthPlace: "Sleman", BirthDate: models.NewDate(2026, time.May, 20),
		Sex: models.SexFemale, FatherNIK: cardtest.BudiNIK, MotherNIK: cardtest.SitiNIK,
	}
	res, err := s.engine.Apply(s.input(p))
	s.Require().NoError(err)
	s.Require().Len(res.Docs, 1)

	doc := res.Docs[0]
	s.Equal(RoleOrigin, doc.Role)
	s.Equal(s.santoso.ContentID, doc.PriorID)
	s.Len(doc.Card.Members, 5)
	s.Len(s.santoso.Card.Members, 4, "input card must not change")

	child := doc.Card.Members[4]
	s.Equal(models.RoleChild, child.FamilyRole)
	s.Equal("Islam", child.Religion)
	s.Equal("340401600526", string(child.NIK)[:12], "region, day+40, month, year")
	s.Equal([]history.MemberDelta{{NIK: child.NIK, Action: history.ActionAdd, Reason: "birth"}}, doc.Delta)

	idx, written := s.commit(res)
	s.assertConsistent(idx, written, res)
	cid, _ := idx.Lookup(child.NIK)
	s.Equal(id.ContentID("sha256-new-"+string(cardtest.SantosoCard)), cid)
}

func (s *EngineSuite) TestBirthUsesSuppliedNIK() {
	p := event.BirthPayload{
		ChildNIK: "3404010101260099", Name: "Bayu", BirthPlace: "Sleman", BirthDate: models.NewDate(2026, time.January, 1),
		Sex: models.SexMale, FatherNIK: cardtest.BudiNIK, MotherNIK: cardtest.SitiNIK,
	}
	res, err := s.engine.Apply(s.input(p))
	s.Require().NoError(err)
	s.True(res.Docs[0].Card.HasMember("3404010101260099"))
}

func (s *EngineSuite) TestValidationGating() {
	p := event.DeathPayload{DeceasedNIK: cardtest.BudiNIK, DeathDate: models.NewDate(2026, time.May, 1)}
	res, err := s.engine.Apply(s.input(p))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Empty(res.Docs)
	s.Empty(res.IndexChanges(nil))
	s.False(res.Validation.Valid)
}

func (s *EngineSuite) TestDeath() {
	s.Run("member death removes nik from the index", func() {
		p := event.DeathPayload{DeceasedNIK: cardtest.HendraNIK, DeathDate: models.NewDate(2026, time.May, 1)}
		res, err := s.engine.Apply(s.input(p))
		s.Require().NoError(err)
		s.Equal([]id.NIK{cardtest.HendraNIK}, res.Removed)
		s.Len(res.Docs[0].Card.Members, 2)

		idx, written := s.commit(res)
		s.assertConsistent(idx, written, res)
	})

	s.Run("sole member retires the card", func() {
		solo := models.LoadedCard{ContentID: "sha256-solo", Card: cardtest.Card("3404010101200077", cardtest.Sleman,
			cardtest.As(cardtest.Person("3404010101500077", "Mbah Karto", models.SexMale, models.NewDate(1950, time.January, 1)), models.RoleHeadOfFamily, models.MaritalWidowed))}
		in := s.input(event.DeathPayload{DeceasedNIK: "3404010101500077", DeathDate: models.NewDate(2026, time.May, 1)})
		in.Cards = cardtest.Set(solo)

		res, err := s.engine.Apply(in)
		s.Require().NoError(err)
		s.Require().Len(res.Docs, 1)
		s.True(res.Docs[0].Retired())
		s.Empty(res.Written())
		s.Equal([]nikindex.Change{nikindex.Remove("3404010101500077")}, res.IndexChanges(nil))

		entry := res.Docs[0].Entry("", cardtest.Now, 7, event.TypeDeath, event.MoveNone)
		s.True(entry.Retired)
		s.Equal(1, entry.MemberCountBefore)
		s.Equal(0, entry.MemberCountAfter)
	})

	s.Run("promote policy widows the spouse and makes her head", func() {
		rules := s.rules
		rules.HeadDeathPolicy = validation.HeadDeathPromote
		engine := NewEngine(rules)
		p := event.DeathPayload{DeceasedNIK: cardtest.BudiNIK, DeathDate: models.NewDate(2026, time.May, 1)}

		res, err := engine.Apply(s.input(p))
		s.Require().NoError(err)
		head, ok := res.Docs[0].Card.Head()
		s.Require().True(ok)
		s.Equal(cardtest.SitiNIK, head.NIK)
		s.Equal(models.MaritalWidowed, head.MaritalStatus)
	})

	s.Run("death of spouse widows the head", func() {
		p := event.DeathPayload{DeceasedNIK: cardtest.SitiNIK, DeathDate: models.NewDate(2026, time.May, 1)}
		res, err := s.engine.Apply(s.input(p))
		s.Require().NoError(err)
		budi, _ := res.Docs[0].Card.Member(cardtest.BudiNIK)
		s.Equal(models.MaritalWidowed, budi.MaritalStatus)
		s.Equal(models.RoleHeadOfFamily, budi.FamilyRole)
	})
}

func (s *EngineSuite) TestMarriageProducesThreeDocuments() {
	p := event.MarriagePayload{HusbandNIK: jokoNIK, WifeNIK: cardtest.RatnaNIK, MarriageDate: models.NewDate(2026, time.May, 1)}
	res, err := s.engine.Apply(s.input(p))
	s.Require().NoError(err)
	s.Require().Len(res.Docs, 3)

	s.Equal(pratamaCard, res.Docs[0].CardNumber)
	s.Equal(cardtest.WijayaCard, res.Docs[1].CardNumber)
	newDoc := res.Docs[2]
	s.Equal(RoleNew, newDoc.Role)
	s.Empty(newDoc.PriorID)
	s.Equal(cardtest.Sleman, newDoc.Card.Address)
	s.Equal("340402010626", string(newDoc.CardNumber)[:12])

	head, _ := newDoc.Card.Head()
	s.Equal(jokoNIK, head.NIK)
	wife, _ := newDoc.Card.Member(cardtest.RatnaNIK)
	s.Equal(models.RoleSpouse, wife.FamilyRole)
	s.Equal(models.MaritalMarried, wife.MaritalStatus)

	idx, written := s.commit(res)
	s.assertConsistent(idx, written, res)
	s.Equal(s.index.Len(), idx.Len())

	entry := newDoc.Entry("sha256-x", cardtest.Now, 1, event.TypeMarriage, event.MoveNone)
	s.Nil(entry.AddressBefore)
	s.Equal(cardtest.Sleman, *entry.AddressAfter)
}

func (s *EngineSuite) TestDivorceWithoutChildren() {
	rahmat := cardtest.As(cardtest.Person(cardtest.RahmatNIK, "Rahmat", models.SexMale, models.NewDate(1995, time.July, 7)), models.RoleHeadOfFamily, models.MaritalMarried)
	lina := cardtest.As(cardtest.Person("3404015505960010", "Lina", models.SexFemale, models.NewDate(1996, time.May, 15)), models.RoleSpouse, models.MaritalMarried)
	couple := models.LoadedCard{ContentID: "sha256-couple", Card: cardtest.Card("3404010505200010", cardtest.Sleman, rahmat, lina)}

	in := s.input(event.DivorcePayload{HusbandNIK: rahmat.NIK, WifeNIK: lina.NIK, DivorceDate: models.NewDate(2026, time.April, 1), WifeAddress: cardtest.Bantul})
	in.Cards = cardtest.Set(couple)

	res, err := s.engine.Apply(in)
	s.Require().NoError(err)
	s.Require().Len(res.Docs, 2)

	origin := res.Docs[0]
	husband, _ := origin.Card.Member(rahmat.NIK)
	s.Equal(models.MaritalDivorced, husband.MaritalStatus)
	s.Len(origin.Card.Members, 1)

	own := res.Docs[1].Card
	s.Equal(cardtest.Bantul, own.Address)
	head, _ := own.Head()
	s.Equal(lina.NIK, head.NIK)
	s.Equal(models.MaritalDivorced, head.MaritalStatus)
}

func (s *EngineSuite) TestMove() {
	s.Run("whole family keeps membership and changes address", func() {
		p := event.MovePayload{Subtype: event.MoveWholeFamily, OriginNIK: cardtest.BudiNIK, DestAddress: cardtest.Bantul}
		res, err := s.engine.Apply(s.input(p))
		s.Require().NoError(err)
		s.Require().Len(res.Docs, 1)
		s.Equal(cardtest.Bantul, res.Docs[0].Card.Address)
		s.Len(res.Docs[0].Card.Members, 4)
		s.Len(res.IndexChanges(map[id.CardNumber]id.ContentID{cardtest.SantosoCard: "sha256-moved"}), 4)

		entry := res.Docs[0].Entry("sha256-moved", cardtest.Now, 1, event.TypeMove, event.MoveWholeFamily)
		s.Equal(cardtest.Sleman, *entry.AddressBefore)
		s.Equal(cardtest.Bantul, *entry.AddressAfter)
	})

	s.Run("independent splits two of four members onto a new card", func() {
		p := event.MovePayload{
			Subtype: event.MoveIndependent, OriginNIK: cardtest.BudiNIK,
			MemberNIKs: []id.NIK{cardtest.AgusNIK, cardtest.DewiNIK}, NewHeadNIK: cardtest.AgusNIK,
			DestAddress: cardtest.Bantul,
		}
		res, err := s.engine.Apply(s.input(p))
		s.Require().NoError(err)
		s.Require().Len(res.Docs, 2)
		s.Equal([]id.NIK{cardtest.BudiNIK, cardtest.SitiNIK}, res.Docs[0].Card.NIKs())
		s.Equal([]id.NIK{cardtest.AgusNIK, cardtest.DewiNIK}, res.Docs[1].Card.NIKs())
		head, _ := res.Docs[1].Card.Head()
		s.Equal(cardtest.AgusNIK, head.NIK)

		idx, written := s.commit(res)
		s.assertConsistent(idx, written, res)
		budi, _ := idx.Lookup(cardtest.BudiNIK)
		agus, _ := idx.Lookup(cardtest.AgusNIK)
		s.NotEqual(budi, agus)
	})

	s.Run("merge appends to the destination card", func() {
		p := event.MovePayload{
			Subtype: event.MoveMergeExisting, OriginNIK: cardtest.RahmatNIK,
			MemberNIKs: []id.NIK{cardtest.HendraNIK}, DestHeadNIK: yosefNIK,
		}
		res, err := s.engine.Apply(s.input(p))
		s.Require().NoError(err)
		s.Require().Len(res.Docs, 2)
		s.Equal(RoleOrigin, res.Docs[0].Role)
		s.Equal(RoleDestination, res.Docs[1].Role)
		s.Equal(s.pratama.ContentID, res.Docs[1].PriorID)
		s.True(res.Docs[1].Card.HasMember(cardtest.HendraNIK))
		s.False(res.Docs[0].Card.HasMember(cardtest.HendraNIK))

		idx, written := s.commit(res)
		s.assertConsistent(idx, written, res)
	})
}

func (s *EngineSuite) TestNewCardSkipsIssuedNumbers() {
	p := event.MovePayload{
		Subtype: event.MoveIndependent, OriginNIK: cardtest.BudiNIK,
		MemberNIKs: []id.NIK{cardtest.AgusNIK, cardtest.DewiNIK}, NewHeadNIK: cardtest.AgusNIK,
		DestAddress: cardtest.Bantul,
	}
	twin := NewGenerator(rand.NewPCG(1, 2))
	next, err := twin.CardNumber(cardtest.SantosoCard.RegionCode(), cardtest.Now, func(id.CardNumber) bool { return false })
	s.Require().NoError(err)

	in := s.input(p)
	var asked []id.CardNumber
	in.CardIssued = func(n id.CardNumber) bool {
		asked = append(asked, n)
		return n == next
	}
	res, err := s.engine.Apply(in)
	s.Require().NoError(err)
	s.Require().Len(res.Docs, 2)
	s.Equal(RoleNew, res.Docs[1].Role)
	s.NotEqual(next, res.Docs[1].CardNumber)
	s.Equal([]id.CardNumber{next, res.Docs[1].CardNumber}, asked)
	s.Equal([]id.CardNumber{res.Docs[1].CardNumber}, res.Issued())
}

func TestGeneratorAvoidsTakenNumbers(t *testing.T) {
	g := NewGenerator(rand.NewPCG(3, 4))
	first, err := g.NIK("340401", models.NewDate(2020, time.December, 31), models.SexMale, func(id.NIK) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if got := string(first)[:12]; got != "340401311220" {
		t.Fatalf("prefix = %s", got)
	}

	calls := 0
	_, err = g.NIK("340401", models.NewDate(2020, time.December, 31), models.SexMale, func(id.NIK) bool {
		calls++
		return calls < 3
	})
	if err != nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}

	_, err = g.CardNumber("340401", time.Now(), func(id.CardNumber) bool { return true })
	if !dErrors.HasCode(err, dErrors.CodeConflict) {
		t.Fatalf("err = %v", err)
	}
}
