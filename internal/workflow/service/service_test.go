package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks dukcapil/internal/workflow/service AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"

	"dukcapil/internal/audit"
	"dukcapil/internal/contentstore/memory"
	"dukcapil/internal/document"
	"dukcapil/internal/familycard/cardtest"
	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/mutation"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/service/mocks"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/seal"
	"dukcapil/pkg/requestcontext"
)

const (
	registry id.ActorID = "0xregistry"
	sleman   id.ActorID = "0xsleman"
	bantul   id.ActorID = "0xbantul"
	budi     id.ActorID = "0xbudi"
	siti     id.ActorID = "0xsiti"
	rahmat   id.ActorID = "0xrahmat"
	yosef    id.ActorID = "0xyosef"
	stranger id.ActorID = "0xstranger"

	slemanVillage id.VillageID = 1
	bantulVillage id.VillageID = 2

	pratamaCard id.CardNumber = "3404020303030003"
	yosefNIK    id.NIK        = "3404020101650008"
	jokoNIK     id.NIK        = "3404021111990009"
)

func pratama() *familymodels.FamilyCard {
	head := cardtest.As(cardtest.Person(yosefNIK, "Yosef Pratama", familymodels.SexMale, familymodels.NewDate(1965, time.January, 1)), familymodels.RoleHeadOfFamily, familymodels.MaritalWidowed)
	joko := cardtest.ChildOf(cardtest.Person(jokoNIK, "Joko Pratama", familymodels.SexMale, familymodels.NewDate(1999, time.November, 11)), yosefNIK, "")
	return cardtest.Card(pratamaCard, cardtest.Sleman, head, joko)
}

// racingLedger runs beforeCommit once, ahead of the first Commit, to let a
// competing approval land in between a snapshot read and its swap. failNext
// makes the next Commit fail without touching the ledger.
type racingLedger struct {
	*store.InMemory
	beforeCommit func()
	failNext     error
	commits      int
	attempted    []store.Commit
}

func (r *racingLedger) Commit(ctx context.Context, c store.Commit) error {
	if hook := r.beforeCommit; hook != nil {
		r.beforeCommit = nil
		hook()
	}
	r.commits++
	r.attempted = append(r.attempted, c)
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	return r.InMemory.Commit(ctx, c)
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	auditor  *mocks.MockAuditPublisher
	blobs    *memory.Store
	docs     *document.Adapter
	ledger   *racingLedger
	identity *identity.Service
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), cardtest.Now)
	s.ctrl = gomock.NewController(s.T())
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	sealer, err := seal.NewKey(make([]byte, 32))
	s.Require().NoError(err)
	s.blobs = memory.New()
	s.docs = document.New(s.blobs, sealer)
	s.ledger = &racingLedger{InMemory: store.NewInMemory()}
	s.identity = identity.NewService(identity.NewInMemory())
	s.service = s.newService(s.auditor)

	s.register()
	_, err = s.service.SeedCards(s.as(registry), []*familymodels.FamilyCard{cardtest.Santoso(), cardtest.Wijaya(), pratama()})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) newService(auditor AuditPublisher, opts ...Option) *Service {
	engine := mutation.NewEngine(validation.DefaultRules(), mutation.WithGenerator(mutation.NewGenerator(rand.NewPCG(7, 11))))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{
		WithLogger(logger),
		WithAuditPublisher(auditor),
		WithTracer(noop.NewTracerProvider().Tracer("test")),
	}, opts...)
	svc, err := New(s.ledger, s.docs, s.identity, engine, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) register() {
	s.Require().NoError(s.identity.RegisterRegistryOffice(s.ctx, registry))
	_, err := s.identity.RegisterVillage(s.ctx, identity.Village{ID: slemanVillage, Name: "Sardonoharjo", Address: "Jl. Kaliurang KM 9", Office: sleman})
	s.Require().NoError(err)
	_, err = s.identity.RegisterVillage(s.ctx, identity.Village{ID: bantulVillage, Name: "Sewon", Address: "Jl. Parangtritis KM 5", Office: bantul})
	s.Require().NoError(err)
	for wallet, nik := range map[id.ActorID]id.NIK{
		budi:     cardtest.BudiNIK,
		siti:     cardtest.SitiNIK,
		rahmat:   cardtest.RahmatNIK,
		yosef:    yosefNIK,
		stranger: "3404011111110099",
	} {
		_, err := s.identity.RegisterCitizen(s.ctx, nik, wallet)
		s.Require().NoError(err)
	}
}

func (s *ServiceSuite) as(actor id.ActorID) context.Context {
	return requestcontext.WithActor(s.ctx, actor)
}

func (s *ServiceSuite) submit(actor id.ActorID, p event.Payload, origin, dest id.VillageID) *models.Application {
	cid, err := s.service.UploadPayload(s.as(actor), p)
	s.Require().NoError(err)
	req := SubmitRequest{EventType: p.Type(), PayloadContentID: cid, OriginVillageID: origin, DestVillageID: dest}
	if mv, ok := p.(event.MovePayload); ok {
		req.MoveSubtype = mv.Subtype
	}
	app, err := s.service.Submit(s.as(actor), req)
	s.Require().NoError(err)
	return app
}

func (s *ServiceSuite) officialDocument() id.ContentID {
	cid, err := s.service.UploadDocument(s.as(registry), []byte("signed official document"))
	s.Require().NoError(err)
	return cid
}

func (s *ServiceSuite) status(appID id.ApplicationID) models.Status {
	app, err := s.ledger.FindByID(s.ctx, appID)
	s.Require().NoError(err)
	return app.Status
}

func (s *ServiceSuite) cardOf(nik id.NIK) (id.ContentID, *familymodels.FamilyCard) {
	snap, err := s.service.index.Load(s.ctx)
	s.Require().NoError(err)
	cid, ok := snap.Index.Lookup(nik)
	s.Require().True(ok, "nik %s not indexed", nik)
	card, err := s.docs.GetCard(s.ctx, cid)
	s.Require().NoError(err)
	return cid, card
}

func (s *ServiceSuite) indexed(nik id.NIK) bool {
	snap, err := s.service.index.Load(s.ctx)
	s.Require().NoError(err)
	_, ok := snap.Index.Lookup(nik)
	return ok
}

func birthOfPutri() event.BirthPayload {
	return event.BirthPayload{
		Name: "Putri Santoso", BirthPlace: "Sleman", BirthDate: familymodels.NewDate(2026, time.May, 20),
		Sex: familymodels.SexFemale, Religion: "Islam", Nationality: "WNI",
		FatherNIK: cardtest.BudiNIK, MotherNIK: cardtest.SitiNIK,
	}
}

func (s *ServiceSuite) TestBirthApprovedEndToEnd() {
	_, before := s.cardOf(cardtest.BudiNIK)
	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)
	s.Equal(models.StatusSubmitted, app.Status)

	app, err := s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByVillage, app.Status)

	doc := s.officialDocument()
	app, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", doc)
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByRegistry, app.Status)
	s.Equal(doc, app.OfficialDocumentID)

	cid, card := s.cardOf(cardtest.BudiNIK)
	s.Require().Len(card.Members, len(before.Members)+1)
	child := card.Members[len(card.Members)-1]
	s.Equal(familymodels.RoleChild, child.FamilyRole)
	s.Equal("Putri Santoso", child.Name)
	childCID, _ := s.cardOf(child.NIK)
	s.Equal(cid, childCID)

	log, err := s.service.GetHistory(s.as(sleman), cardtest.SantosoCard)
	s.Require().NoError(err)
	entry, ok := log.Latest()
	s.Require().True(ok)
	s.Equal(event.TypeBirth, entry.EventType)
	s.Equal(app.ID, entry.ApplicationID)
	s.Equal(cid, entry.NewContentID)
	s.Equal(4, entry.MemberCountBefore)
	s.Equal(5, entry.MemberCountAfter)

	s.Require().Len(app.Trail, 2)
	s.Equal(models.StatusApprovedByVillage, app.Trail[1].From)
	s.Equal(models.StatusApprovedByRegistry, app.Trail[1].To)
}

func (s *ServiceSuite) TestHeadDeathWithDependentsIsRejected() {
	pointer, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)

	app := s.submit(siti, event.DeathPayload{DeceasedNIK: cardtest.BudiNIK, DeathDate: familymodels.NewDate(2026, time.May, 1)}, slemanVillage, 0)
	_, err = s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)

	preview, err := s.service.Preview(s.as(registry), app.ID)
	s.Require().NoError(err)
	s.False(preview.Validation.Valid)
	s.NotEmpty(preview.Validation.Errors)
	s.Empty(preview.Documents)

	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	var verr *validation.Error
	s.ErrorAs(err, &verr)

	s.Equal(models.StatusApprovedByVillage, s.status(app.ID))
	after, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)
	s.Equal(pointer, after)
	s.True(s.indexed(cardtest.BudiNIK))
}

func (s *ServiceSuite) TestIndependentMoveSplitsCard() {
	_, origin := s.cardOf(cardtest.BudiNIK)
	s.Require().Len(origin.Members, 4)

	app := s.submit(budi, event.MovePayload{
		Subtype: event.MoveIndependent, OriginNIK: cardtest.BudiNIK,
		MemberNIKs: []id.NIK{cardtest.AgusNIK, cardtest.DewiNIK}, NewHeadNIK: cardtest.AgusNIK,
		DestAddress: cardtest.Bantul, Reason: "school",
	}, slemanVillage, 0)

	app, err := s.service.VerifyByOriginVillage(s.as(sleman), app.ID, true, "", bantulVillage)
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByOriginVillage, app.Status)
	s.Equal(bantulVillage, app.DestVillageID)

	app, err = s.service.VerifyByDestVillage(s.as(bantul), app.ID, true, "")
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByDestVillage, app.Status)

	app, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByRegistry, app.Status)

	trimmedID, trimmed := s.cardOf(cardtest.BudiNIK)
	sitiID, _ := s.cardOf(cardtest.SitiNIK)
	newID, created := s.cardOf(cardtest.AgusNIK)
	dewiID, _ := s.cardOf(cardtest.DewiNIK)

	s.Equal(trimmedID, sitiID)
	s.Equal(newID, dewiID)
	s.NotEqual(trimmedID, newID)
	s.Len(trimmed.Members, 2)
	s.Len(created.Members, 2)
	head, ok := created.Head()
	s.Require().True(ok)
	s.Equal(cardtest.AgusNIK, head.NIK)
	s.Equal(cardtest.Bantul, created.Address)

	log, err := s.service.GetHistory(s.as(registry), created.CardNumber)
	s.Require().NoError(err)
	s.Len(log.Entries, 1)
}

func (s *ServiceSuite) TestNewCardNumberSkipsSeededCard() {
	next, err := mutation.NewGenerator(rand.NewPCG(7, 11)).CardNumber(cardtest.SantosoCard.RegionCode(), cardtest.Now, func(id.CardNumber) bool { return false })
	s.Require().NoError(err)
	loner := cardtest.As(cardtest.Person("3404011212800010", "Slamet Riyadi", familymodels.SexMale, familymodels.NewDate(1980, time.December, 12)), familymodels.RoleHeadOfFamily, familymodels.MaritalSingle)
	_, err = s.service.SeedCards(s.as(registry), []*familymodels.FamilyCard{cardtest.Card(next, cardtest.Bantul, loner)})
	s.Require().NoError(err)
	seeded, err := s.ledger.HistoryPointer(s.ctx, next)
	s.Require().NoError(err)

	app := s.submit(budi, event.MovePayload{
		Subtype: event.MoveIndependent, OriginNIK: cardtest.BudiNIK,
		MemberNIKs: []id.NIK{cardtest.AgusNIK, cardtest.DewiNIK}, NewHeadNIK: cardtest.AgusNIK,
		DestAddress: cardtest.Bantul,
	}, slemanVillage, 0)
	_, err = s.service.VerifyByOriginVillage(s.as(sleman), app.ID, true, "", bantulVillage)
	s.Require().NoError(err)
	_, err = s.service.VerifyByDestVillage(s.as(bantul), app.ID, true, "")
	s.Require().NoError(err)
	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.Require().NoError(err)

	_, created := s.cardOf(cardtest.AgusNIK)
	s.NotEqual(next, created.CardNumber)
	_, kept := s.cardOf("3404011212800010")
	s.Equal(next, kept.CardNumber)
	after, err := s.ledger.HistoryPointer(s.ctx, next)
	s.Require().NoError(err)
	s.Equal(seeded, after)
	log, err := s.service.GetHistory(s.as(registry), created.CardNumber)
	s.Require().NoError(err)
	s.Len(log.Entries, 1)
}

func (s *ServiceSuite) TestSeedRejectsIssuedCardNumber() {
	pointer, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)

	other := cardtest.As(cardtest.Person("3404011212800010", "Slamet Riyadi", familymodels.SexMale, familymodels.NewDate(1980, time.December, 12)), familymodels.RoleHeadOfFamily, familymodels.MaritalSingle)
	_, err = s.service.SeedCards(s.as(registry), []*familymodels.FamilyCard{cardtest.Card(cardtest.SantosoCard, cardtest.Sleman, other)})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	after, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)
	s.Equal(pointer, after)
	s.False(s.indexed("3404011212800010"))
}

func (s *ServiceSuite) TestApprovalRetryAfterFailedCommit() {
	app := s.submit(rahmat, event.DeathPayload{DeceasedNIK: cardtest.HendraNIK, DeathDate: familymodels.NewDate(2026, time.May, 1)}, slemanVillage, 0)
	_, err := s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)
	pointer, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)
	_, before := s.cardOf(cardtest.RahmatNIK)

	doc := s.officialDocument()
	s.ledger.failNext = errors.New("ledger unavailable")
	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", doc)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeStorage))
	s.Equal(models.StatusApprovedByVillage, s.status(app.ID))
	unchanged, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)
	s.Equal(pointer, unchanged)
	s.True(s.indexed(cardtest.HendraNIK))
	s.Require().Len(s.ledger.attempted, 1)
	failed := s.ledger.attempted[0]

	app, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", doc)
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByRegistry, app.Status)
	s.Require().Len(s.ledger.attempted, 2)
	committed := s.ledger.attempted[1]

	current, err := s.service.IndexPointer(s.ctx)
	s.Require().NoError(err)
	s.Equal(committed.NewIndex, current)
	s.NotEqual(failed.NewIndex, current)

	rahmatID, card := s.cardOf(cardtest.RahmatNIK)
	ratnaID, _ := s.cardOf(cardtest.RatnaNIK)
	s.Equal(rahmatID, ratnaID)
	s.False(s.indexed(cardtest.HendraNIK))
	s.Len(card.Members, len(before.Members)-1)

	// The first attempt wrote the same card under its own sealed blob. It
	// stays in the content store but nothing on the ledger reaches it.
	orphan, err := s.service.index.LoadAt(s.ctx, failed.NewIndex)
	s.Require().NoError(err)
	orphanID, ok := orphan.Index.Lookup(cardtest.RahmatNIK)
	s.Require().True(ok)
	s.NotEqual(rahmatID, orphanID)
	orphanCard, err := s.docs.GetCard(s.ctx, orphanID)
	s.Require().NoError(err)
	s.Equal(card, orphanCard)
	snap, err := s.service.index.Load(s.ctx)
	s.Require().NoError(err)
	for nik, cid := range snap.Index.Map() {
		s.NotEqual(orphanID, cid, "nik %s resolves to an uncommitted card", nik)
	}

	log, err := s.service.GetHistory(s.as(registry), cardtest.WijayaCard)
	s.Require().NoError(err)
	s.Require().Len(log.Entries, 1)
	s.Equal(rahmatID, log.Entries[0].NewContentID)
	head, err := s.ledger.HistoryPointer(s.ctx, cardtest.WijayaCard)
	s.Require().NoError(err)
	s.Equal(committed.History[cardtest.WijayaCard], head)
}

func (s *ServiceSuite) TestConcurrentApprovalsBothLand() {
	birth := s.submit(budi, birthOfPutri(), slemanVillage, 0)
	death := s.submit(rahmat, event.DeathPayload{DeceasedNIK: cardtest.HendraNIK, DeathDate: familymodels.NewDate(2026, time.May, 1)}, slemanVillage, 0)
	for _, appID := range []id.ApplicationID{birth.ID, death.ID} {
		_, err := s.service.VerifyByVillage(s.as(sleman), appID, true, "")
		s.Require().NoError(err)
	}

	doc := s.officialDocument()
	raced := false
	s.ledger.beforeCommit = func() {
		_, err := s.service.VerifyByRegistry(s.as(registry), death.ID, true, "", doc)
		s.Require().NoError(err)
		raced = true
	}
	commitsBefore := s.ledger.commits

	_, err := s.service.VerifyByRegistry(s.as(registry), birth.ID, true, "", doc)
	s.Require().NoError(err)
	s.True(raced)
	// Competing commit, the lost swap, and the retry.
	s.Equal(commitsBefore+3, s.ledger.commits)

	s.Equal(models.StatusApprovedByRegistry, s.status(birth.ID))
	s.Equal(models.StatusApprovedByRegistry, s.status(death.ID))
	s.False(s.indexed(cardtest.HendraNIK))
	_, santoso := s.cardOf(cardtest.BudiNIK)
	s.Len(santoso.Members, 5)
	s.True(s.indexed(santoso.Members[4].NIK))
	_, wijaya := s.cardOf(cardtest.RahmatNIK)
	s.Len(wijaya.Members, 2)
}

func (s *ServiceSuite) TestStateGuards() {
	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)

	s.Run("registry cannot act on a submitted application", func() {
		_, err := s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
		s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))
		s.Equal(models.StatusSubmitted, s.status(app.ID))
	})

	s.Run("move-only actions are unavailable", func() {
		_, err := s.service.VerifyByDestVillage(s.as(sleman), app.ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))
		_, err = s.service.RequestDestHeadConfirmation(s.as(budi), app.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))
	})

	s.Run("terminal status accepts nothing", func() {
		_, err := s.service.VerifyByVillage(s.as(sleman), app.ID, false, "documents incomplete")
		s.Require().NoError(err)
		s.Equal(models.StatusRejectedByVillage, s.status(app.ID))

		_, err = s.service.Cancel(s.as(budi), app.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))
		_, err = s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))
		s.Equal(models.StatusRejectedByVillage, s.status(app.ID))

		got, err := s.service.GetApplication(s.as(budi), app.ID)
		s.Require().NoError(err)
		s.Equal("documents incomplete", got.RejectionReason)
	})
}

func (s *ServiceSuite) TestRoleGuards() {
	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)

	s.Run("wrong village office", func() {
		_, err := s.service.VerifyByVillage(s.as(bantul), app.ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("citizen cannot verify", func() {
		_, err := s.service.VerifyByVillage(s.as(budi), app.ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("only the applicant cancels", func() {
		_, err := s.service.Cancel(s.as(siti), app.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
	s.Run("anonymous caller", func() {
		_, err := s.service.VerifyByVillage(s.ctx, app.ID, true, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
	s.Run("rejection needs a reason", func() {
		_, err := s.service.VerifyByVillage(s.as(sleman), app.ID, false, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
	s.Equal(models.StatusSubmitted, s.status(app.ID))

	s.Run("applicant cancels while submitted", func() {
		got, err := s.service.Cancel(s.as(budi), app.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelledByApplicant, got.Status)
	})
}

func (s *ServiceSuite) TestSubmitGuards() {
	cid, err := s.service.UploadPayload(s.as(budi), birthOfPutri())
	s.Require().NoError(err)

	cases := []struct {
		name  string
		actor id.ActorID
		req   SubmitRequest
		code  dErrors.Code
	}{
		{"office cannot submit", sleman, SubmitRequest{EventType: event.TypeBirth, PayloadContentID: cid, OriginVillageID: slemanVillage}, dErrors.CodeForbidden},
		{"empty payload", budi, SubmitRequest{EventType: event.TypeBirth, OriginVillageID: slemanVillage}, dErrors.CodeEmptyContentID},
		{"unknown origin", budi, SubmitRequest{EventType: event.TypeBirth, PayloadContentID: cid, OriginVillageID: 9}, dErrors.CodeNotFound},
		{"payload of another type", budi, SubmitRequest{EventType: event.TypeDeath, PayloadContentID: cid, OriginVillageID: slemanVillage}, dErrors.CodeInvalidInput},
		{"destination on a non-move", budi, SubmitRequest{EventType: event.TypeBirth, PayloadContentID: cid, OriginVillageID: slemanVillage, DestVillageID: bantulVillage}, dErrors.CodeBadRequest},
		{"move without subtype", budi, SubmitRequest{EventType: event.TypeMove, PayloadContentID: cid, OriginVillageID: slemanVillage}, dErrors.CodeBadRequest},
		{"unknown destination", budi, SubmitRequest{EventType: event.TypeMove, MoveSubtype: event.MoveWholeFamily, PayloadContentID: cid, OriginVillageID: slemanVillage, DestVillageID: 9}, dErrors.CodeUnknownDestVillage},
		{"unknown payload blob", budi, SubmitRequest{EventType: event.TypeBirth, PayloadContentID: "sha256-missing", OriginVillageID: slemanVillage}, dErrors.CodeNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Submit(s.as(tc.actor), tc.req)
			s.Require().Error(err)
			s.Equal(tc.code, dErrors.CodeOf(err), err.Error())
		})
	}
}

func (s *ServiceSuite) TestMoveDestinationGuards() {
	app := s.submit(budi, event.MovePayload{Subtype: event.MoveWholeFamily, OriginNIK: cardtest.BudiNIK, DestAddress: cardtest.Bantul}, slemanVillage, 0)

	_, err := s.service.VerifyByOriginVillage(s.as(sleman), app.ID, true, "", 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidDestination))
	_, err = s.service.VerifyByOriginVillage(s.as(sleman), app.ID, true, "", 42)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownDestVillage))
	s.Equal(models.StatusSubmitted, s.status(app.ID))

	_, err = s.service.VerifyByOriginVillage(s.as(sleman), app.ID, false, "not resident", 0)
	s.Require().NoError(err)
	s.Equal(models.StatusRejectedByOriginVillage, s.status(app.ID))
}

func (s *ServiceSuite) mergeHendra() *models.Application {
	app := s.submit(rahmat, event.MovePayload{
		Subtype: event.MoveMergeExisting, OriginNIK: cardtest.RahmatNIK,
		MemberNIKs: []id.NIK{cardtest.HendraNIK}, DestHeadNIK: yosefNIK,
	}, bantulVillage, slemanVillage)
	app, err := s.service.VerifyByOriginVillage(s.as(bantul), app.ID, true, "", 0)
	s.Require().NoError(err)
	s.Equal(slemanVillage, app.DestVillageID)
	return app
}

func (s *ServiceSuite) TestMergeGatedByDestinationHead() {
	app := s.mergeHendra()

	_, err := s.service.VerifyByDestVillage(s.as(sleman), app.ID, true, "")
	s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))

	_, err = s.service.RequestDestHeadConfirmation(s.as(rahmat), app.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAwaitingDestHeadConfirmation, s.status(app.ID))

	_, err = s.service.GetApplication(s.as(yosef), app.ID)
	s.Require().NoError(err)

	_, err = s.service.ConfirmByDestHead(s.as(budi), app.ID, true, "", cardtest.BudiNIK)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	_, err = s.service.ConfirmByDestHead(s.as(yosef), app.ID, true, "", cardtest.BudiNIK)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.ConfirmByDestHead(s.as(yosef), app.ID, true, "", yosefNIK)
	s.Require().NoError(err)
	s.Equal(models.StatusConfirmedByDestHead, s.status(app.ID))

	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.Require().NoError(err)

	destID, dest := s.cardOf(yosefNIK)
	hendraID, _ := s.cardOf(cardtest.HendraNIK)
	s.Equal(destID, hendraID)
	s.Len(dest.Members, 3)
	_, origin := s.cardOf(cardtest.RahmatNIK)
	s.Len(origin.Members, 2)
}

func (s *ServiceSuite) TestMergeGatedByDestinationVillage() {
	s.service = s.newService(s.auditor, WithMergeGate(models.GateVillage))
	app := s.mergeHendra()

	_, err := s.service.RequestDestHeadConfirmation(s.as(rahmat), app.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotInExpectedState))

	_, err = s.service.VerifyByDestVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)
	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.Require().NoError(err)
	s.Equal(models.StatusApprovedByRegistry, s.status(app.ID))
}

func (s *ServiceSuite) TestOfficialDocumentAccess() {
	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)

	_, err := s.service.GetOfficialDocument(s.as(budi), app.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeDocumentAccess))

	_, err = s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)
	doc := s.officialDocument()

	s.Run("approval requires the document", func() {
		_, err := s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeEmptyContentID))
	})

	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", doc)
	s.Require().NoError(err)

	for _, actor := range []id.ActorID{budi, sleman, registry} {
		got, err := s.service.GetOfficialDocument(s.as(actor), app.ID)
		s.Require().NoError(err)
		s.Equal(doc, got)
	}
	_, err = s.service.GetOfficialDocument(s.as(stranger), app.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeDocumentAccess))
	_, err = s.service.GetOfficialDocument(s.as(bantul), app.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeDocumentAccess))
}

func (s *ServiceSuite) TestCorruptPayloadIsNotTreatedAsMissing() {
	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)
	_, err := s.service.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)

	s.blobs.Corrupt(app.PayloadContentID, []byte("not a sealed blob at all, just noise"))

	_, err = s.service.VerifyByRegistry(s.as(registry), app.ID, true, "", s.officialDocument())
	s.True(dErrors.HasCode(err, dErrors.CodeDecryptionFailed))
	s.Equal(models.StatusApprovedByVillage, s.status(app.ID))
}

func (s *ServiceSuite) TestListQueries() {
	birth := s.submit(budi, birthOfPutri(), slemanVillage, 0)
	move := s.submit(rahmat, event.MovePayload{Subtype: event.MoveWholeFamily, OriginNIK: cardtest.RahmatNIK, DestAddress: cardtest.Sleman}, bantulVillage, slemanVillage)

	mine, err := s.service.ListMine(s.as(budi))
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(birth.ID, mine[0].ID)

	origin, err := s.service.ListByOriginVillage(s.as(sleman))
	s.Require().NoError(err)
	s.Require().Len(origin, 1)
	s.Equal(birth.ID, origin[0].ID)

	dest, err := s.service.ListByDestVillage(s.as(sleman))
	s.Require().NoError(err)
	s.Require().Len(dest, 1)
	s.Equal(move.ID, dest[0].ID)

	_, err = s.service.ListByOriginVillage(s.as(budi))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	all, err := s.service.ListByStatus(s.as(registry), models.StatusSubmitted)
	s.Require().NoError(err)
	s.Len(all, 2)
	bantulOnly, err := s.service.ListByStatus(s.as(bantul), models.StatusSubmitted)
	s.Require().NoError(err)
	s.Require().Len(bantulOnly, 1)
	s.Equal(move.ID, bantulOnly[0].ID)

	_, err = s.service.GetApplication(s.as(stranger), birth.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestSeedRejectsKnownNIKs() {
	_, err := s.service.SeedCards(s.as(registry), []*familymodels.FamilyCard{cardtest.Santoso()})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.SeedCards(s.as(sleman), []*familymodels.FamilyCard{pratama()})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestRegisterCitizenThroughOffice() {
	_, err := s.service.RegisterCitizen(s.as("0xnewcomer"), jokoNIK, "0xnewcomer")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.RegisterCitizen(s.as(yosef), jokoNIK, "0xjoko")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.RegisterCitizen(s.as(registry), "3404019999990099", "0xghost")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.RegisterCitizen(s.as(sleman), cardtest.BudiNIK, "0xthief")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	c, err := s.service.RegisterCitizen(s.as(sleman), jokoNIK, "0xjoko")
	s.Require().NoError(err)
	s.Equal(jokoNIK, c.NIK)
	p, err := s.identity.Resolve(s.ctx, "0xjoko")
	s.Require().NoError(err)
	s.Equal(identity.RoleCitizen, p.Role)
	s.Equal(jokoNIK, p.NIK)
}

func (s *ServiceSuite) TestAuditTrailOfApproval() {
	ctrl := gomock.NewController(s.T())
	auditor := mocks.NewMockAuditPublisher(ctrl)
	svc := s.newService(auditor)
	s.service = svc

	actions := func(action audit.Action, to string) gomock.Matcher {
		return gomock.Cond(func(e audit.Event) bool { return e.Action == action && e.To == to })
	}
	gomock.InOrder(
		auditor.EXPECT().Emit(gomock.Any(), actions(audit.ActionApplicationSubmitted, "submitted")).Return(nil),
		auditor.EXPECT().Emit(gomock.Any(), actions(audit.ActionApplicationDecided, "approved_by_village")).Return(nil),
		auditor.EXPECT().Emit(gomock.Any(), actions(audit.ActionApplicationDecided, "approved_by_registry")).Return(nil),
		auditor.EXPECT().Emit(gomock.Any(), gomock.Cond(func(e audit.Event) bool {
			return e.Action == audit.ActionMutationCommitted && len(e.Cards) == 1 && e.Cards[0] == cardtest.SantosoCard && e.IndexContentID != ""
		})).Return(nil),
	)

	app := s.submit(budi, birthOfPutri(), slemanVillage, 0)
	_, err := svc.VerifyByVillage(s.as(sleman), app.ID, true, "")
	s.Require().NoError(err)
	doc := s.officialDocument()
	_, err = svc.VerifyByRegistry(s.as(registry), app.ID, true, "", doc)
	s.Require().NoError(err)
	ctrl.Finish()
}
