package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"dukcapil/internal/contentstore/memory"
	"dukcapil/internal/document"
	"dukcapil/internal/familycard/cardtest"
	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/mutation"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	"dukcapil/internal/identity"
	jwttoken "dukcapil/internal/jwt_token"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/service"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/middleware/auth"
	"dukcapil/pkg/platform/middleware/request"
	"dukcapil/pkg/platform/middleware/requesttime"
	"dukcapil/pkg/platform/seal"
	"dukcapil/pkg/requestcontext"
	"dukcapil/pkg/testutil"
)

const (
	registry id.ActorID = "0xregistry"
	sleman   id.ActorID = "0xsleman"
	budi     id.ActorID = "0xbudi"
	siti     id.ActorID = "0xsiti"
)

type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	handler *Handler
	tokens  *jwttoken.JWTService
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sealer, err := seal.NewKey(make([]byte, 32))
	s.Require().NoError(err)
	docs := document.New(memory.New(), sealer)
	ident := identity.NewService(identity.NewInMemory())
	svc, err := service.New(store.NewInMemory(), docs, ident, mutation.NewEngine(validation.DefaultRules()), service.WithLogger(logger))
	s.Require().NoError(err)

	ctx := requestcontext.WithTime(context.Background(), cardtest.Now)
	s.Require().NoError(ident.RegisterRegistryOffice(ctx, registry))

	s.tokens = jwttoken.NewJWTService("handler-test-key", "dukcapil-test")
	h := New(svc, ident, logger)
	s.handler = h
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware(func() time.Time { return cardtest.Now }))
	h.RegisterPublic(r)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor(s.tokens, logger))
		h.Register(r)
	})
	s.router = r
}

func (s *HandlerSuite) do(actor id.ActorID, method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if actor != "" {
		token, err := s.tokens.GenerateAccessToken(actor, time.Hour)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder, status int, v any) {
	s.Require().Equal(status, rec.Code, rec.Body.String())
	if v != nil {
		s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
	}
}

func (s *HandlerSuite) bootstrap() {
	s.decode(s.do(registry, http.MethodPost, "/identity/villages", VillageRequest{ID: 1, Name: "Sardonoharjo", Address: "Jl. Kaliurang KM 9", Office: string(sleman)}), http.StatusCreated, nil)

	var seeded SeedResponse
	s.decode(s.do(registry, http.MethodPost, "/cards/seed", SeedRequest{Cards: []*familymodels.FamilyCard{cardtest.Santoso()}}), http.StatusCreated, &seeded)
	s.Require().Len(seeded.Cards, 1)
	s.Equal(4, seeded.Cards[0].Members)

	s.decode(s.do(registry, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.BudiNIK), Wallet: string(budi)}), http.StatusCreated, nil)
	s.decode(s.do(sleman, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.SitiNIK), Wallet: string(siti)}), http.StatusCreated, nil)
}

func (s *HandlerSuite) submitBirth() *models.Application {
	data, err := json.Marshal(event.BirthPayload{
		Name: "Putri Santoso", BirthPlace: "Sleman", BirthDate: familymodels.NewDate(2026, time.May, 20),
		Sex: familymodels.SexFemale, Religion: "Islam", Nationality: "WNI",
		FatherNIK: cardtest.BudiNIK, MotherNIK: cardtest.SitiNIK,
	})
	s.Require().NoError(err)
	var payload ContentResponse
	s.decode(s.do(budi, http.MethodPost, "/payloads", PayloadRequest{EventType: "birth", Data: data}), http.StatusCreated, &payload)

	var app models.Application
	s.decode(s.do(budi, http.MethodPost, "/applications", SubmitRequest{
		EventType: "birth", PayloadContentID: string(payload.ContentID), OriginVillageID: 1,
	}), http.StatusCreated, &app)
	s.Equal(models.StatusSubmitted, app.Status)
	return &app
}

func (s *HandlerSuite) TestBirthLifecycle() {
	s.bootstrap()
	var before PointerResponse
	s.decode(s.do("", http.MethodGet, "/index/pointer", nil), http.StatusOK, &before)
	s.NotEmpty(before.IndexContentID)

	app := s.submitBirth()
	path := "/applications/" + app.ID.String()

	var got models.Application
	s.decode(s.do(sleman, http.MethodPost, path+"/village-verification", DecisionRequest{Approved: true}), http.StatusOK, &got)
	s.Equal(models.StatusApprovedByVillage, got.Status)

	var preview PreviewResponse
	s.decode(s.do(registry, http.MethodGet, path+"/preview", nil), http.StatusOK, &preview)
	s.True(preview.Valid)
	s.Len(preview.Documents, 1)

	var doc ContentResponse
	s.decode(s.do(registry, http.MethodPost, "/documents", []byte("%PDF-1.7 akta kelahiran")), http.StatusCreated, &doc)

	s.decode(s.do(budi, http.MethodGet, path+"/official-document", nil), http.StatusForbidden, nil)

	s.decode(s.do(registry, http.MethodPost, path+"/registry-verification", DecisionRequest{Approved: true, OfficialDocumentID: string(doc.ContentID)}), http.StatusOK, &got)
	s.Equal(models.StatusApprovedByRegistry, got.Status)

	var official ContentResponse
	s.decode(s.do(budi, http.MethodGet, path+"/official-document", nil), http.StatusOK, &official)
	s.Equal(doc.ContentID, official.ContentID)

	var after PointerResponse
	s.decode(s.do("", http.MethodGet, "/index/pointer", nil), http.StatusOK, &after)
	s.NotEqual(before.IndexContentID, after.IndexContentID)

	var log history.Log
	s.decode(s.do(sleman, http.MethodGet, "/cards/"+string(cardtest.SantosoCard)+"/history", nil), http.StatusOK, &log)
	s.Require().Len(log.Entries, 1)
	s.Equal(5, log.Entries[0].MemberCountAfter)

	var mine ApplicationsResponse
	s.decode(s.do(budi, http.MethodGet, "/applications/mine", nil), http.StatusOK, &mine)
	s.Equal(1, mine.Count)

	var approved ApplicationsResponse
	s.decode(s.do(registry, http.MethodGet, "/applications?status=approved_by_registry", nil), http.StatusOK, &approved)
	s.Equal(1, approved.Count)
}

func (s *HandlerSuite) TestErrorMapping() {
	s.bootstrap()
	app := s.submitBirth()
	path := "/applications/" + app.ID.String()

	s.Run("missing token", func() {
		s.decode(s.do("", http.MethodGet, path, nil), http.StatusUnauthorized, nil)
	})
	s.Run("wrong role", func() {
		s.decode(s.do(siti, http.MethodPost, path+"/village-verification", DecisionRequest{Approved: true}), http.StatusForbidden, nil)
	})
	s.Run("wrong state", func() {
		var body map[string]string
		s.decode(s.do(registry, http.MethodPost, path+"/registry-verification", DecisionRequest{Approved: true, OfficialDocumentID: "sha256-x"}), http.StatusPreconditionFailed, &body)
		s.Equal("not_in_expected_state", body["error"])
	})
	s.Run("unknown application", func() {
		s.decode(s.do(budi, http.MethodGet, "/applications/999", nil), http.StatusNotFound, nil)
	})
	s.Run("malformed id", func() {
		s.decode(s.do(budi, http.MethodGet, "/applications/abc", nil), http.StatusBadRequest, nil)
	})
	s.Run("unknown status filter", func() {
		s.decode(s.do(registry, http.MethodGet, "/applications?status=pending", nil), http.StatusBadRequest, nil)
	})
	s.Run("rejection without reason", func() {
		s.decode(s.do(sleman, http.MethodPost, path+"/village-verification", DecisionRequest{}), http.StatusBadRequest, nil)
	})
	s.Run("citizen cannot register villages", func() {
		s.decode(s.do(budi, http.MethodPost, "/identity/villages", VillageRequest{ID: 2, Name: "Sewon", Address: "Jl. Parangtritis", Office: "0xbantul"}), http.StatusForbidden, nil)
	})
	s.Run("duplicate citizen", func() {
		s.decode(s.do(registry, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.BudiNIK), Wallet: "0xother"}), http.StatusConflict, nil)
	})
	s.Run("citizen wallet is required", func() {
		s.decode(s.do(registry, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.AgusNIK)}), http.StatusBadRequest, nil)
	})
	s.Run("unknown payload field", func() {
		rec := s.do(budi, http.MethodPost, "/applications", []byte(`{"event_type":"birth","origin":1}`))
		s.decode(rec, http.StatusBadRequest, nil)
	})
}

func (s *HandlerSuite) TestCitizenRegistrationNeedsOfficeAndCard() {
	s.bootstrap()

	s.Run("wallet cannot claim a nik for itself", func() {
		s.decode(s.do("0xclaimer", http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.AgusNIK), Wallet: "0xclaimer"}), http.StatusForbidden, nil)
	})
	s.Run("citizen cannot register another citizen", func() {
		s.decode(s.do(budi, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.AgusNIK), Wallet: "0xagus"}), http.StatusForbidden, nil)
	})
	s.Run("nik missing from every card", func() {
		s.decode(s.do(registry, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.RahmatNIK), Wallet: "0xrahmat"}), http.StatusNotFound, nil)
	})
	s.Run("office registers a carded nik", func() {
		var c identity.Citizen
		s.decode(s.do(sleman, http.MethodPost, "/identity/citizens", CitizenRequest{NIK: string(cardtest.AgusNIK), Wallet: "0xAgus"}), http.StatusCreated, &c)
		s.Equal(cardtest.AgusNIK, c.NIK)
		s.Equal(id.ActorID("0xagus"), c.Wallet)
	})
}

func (s *HandlerSuite) TestValidationFailureListsMessages() {
	s.bootstrap()
	data, err := json.Marshal(event.DeathPayload{DeceasedNIK: cardtest.BudiNIK, DeathDate: familymodels.NewDate(2026, time.May, 1), DeathPlace: "Sleman"})
	s.Require().NoError(err)
	var payload ContentResponse
	s.decode(s.do(siti, http.MethodPost, "/payloads", PayloadRequest{EventType: "death", Data: data}), http.StatusCreated, &payload)
	var app models.Application
	s.decode(s.do(siti, http.MethodPost, "/applications", SubmitRequest{EventType: "death", PayloadContentID: string(payload.ContentID), OriginVillageID: 1}), http.StatusCreated, &app)
	path := "/applications/" + app.ID.String()
	s.decode(s.do(sleman, http.MethodPost, path+"/village-verification", DecisionRequest{Approved: true}), http.StatusOK, nil)

	var doc ContentResponse
	s.decode(s.do(registry, http.MethodPost, "/documents", []byte("akta kematian")), http.StatusCreated, &doc)

	var body ValidationErrorResponse
	s.decode(s.do(registry, http.MethodPost, path+"/registry-verification", DecisionRequest{Approved: true, OfficialDocumentID: string(doc.ContentID)}), http.StatusUnprocessableEntity, &body)
	s.Equal("validation_failed", body.Error)
	s.NotEmpty(body.Messages)
	s.True(strings.Contains(strings.Join(body.Messages, " "), "head"))
}

func (s *HandlerSuite) TestPublicVillageListing() {
	s.bootstrap()
	var body struct {
		Villages []identity.Village `json:"villages"`
	}
	s.decode(s.do("", http.MethodGet, "/identity/villages", nil), http.StatusOK, &body)
	s.Require().Len(body.Villages, 1)
	s.Equal(sleman, body.Villages[0].Office)
}

func (s *HandlerSuite) TestWhoAmIWithoutToken() {
	s.bootstrap()

	req := testutil.WithActor(httptest.NewRequest(http.MethodGet, "/identity/me", nil), " 0xBUDI ")
	body := testutil.DecodeJSON[PrincipalResponse](s.T(), testutil.DoRequest(http.HandlerFunc(s.handler.HandleWhoAmI), req), http.StatusOK)
	s.Equal(budi, body.Actor)
	s.Equal(cardtest.BudiNIK, body.NIK)

	anon := httptest.NewRequest(http.MethodGet, "/identity/me", nil)
	rec := testutil.DoRequest(http.HandlerFunc(s.handler.HandleWhoAmI), testutil.WithActor(anon, ""))
	s.Equal(http.StatusUnauthorized, rec.Code)
}
