// Package handler exposes the workflow ledger, its queries and the identity
// registry over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/service"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/httputil"
	"dukcapil/pkg/requestcontext"
)

// MaxDocumentBytes bounds uploaded official documents and certificates.
const MaxDocumentBytes = 10 << 20

// Workflow is the ledger service.
type Workflow interface {
	UploadPayload(ctx context.Context, p event.Payload) (id.ContentID, error)
	UploadDocument(ctx context.Context, data []byte) (id.ContentID, error)
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Application, error)
	VerifyByVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string) (*models.Application, error)
	VerifyByOriginVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string, dest id.VillageID) (*models.Application, error)
	VerifyByDestVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string) (*models.Application, error)
	RequestDestHeadConfirmation(ctx context.Context, appID id.ApplicationID) (*models.Application, error)
	ConfirmByDestHead(ctx context.Context, appID id.ApplicationID, approved bool, reason string, nik id.NIK) (*models.Application, error)
	VerifyByRegistry(ctx context.Context, appID id.ApplicationID, approved bool, reason string, officialDocumentID id.ContentID) (*models.Application, error)
	Cancel(ctx context.Context, appID id.ApplicationID) (*models.Application, error)
	Preview(ctx context.Context, appID id.ApplicationID) (service.Preview, error)
	GetApplication(ctx context.Context, appID id.ApplicationID) (*models.Application, error)
	ListMine(ctx context.Context) ([]*models.Application, error)
	ListByOriginVillage(ctx context.Context) ([]*models.Application, error)
	ListByDestVillage(ctx context.Context) ([]*models.Application, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Application, error)
	GetOfficialDocument(ctx context.Context, appID id.ApplicationID) (id.ContentID, error)
	IndexPointer(ctx context.Context) (id.ContentID, error)
	GetHistory(ctx context.Context, card id.CardNumber) (history.Log, error)
	SeedCards(ctx context.Context, cards []*familymodels.FamilyCard) ([]familymodels.LoadedCard, error)
	RegisterCitizen(ctx context.Context, nik id.NIK, wallet id.ActorID) (identity.Citizen, error)
}

// Registry is the identity registry.
type Registry interface {
	RegisterVillage(ctx context.Context, v identity.Village) (identity.Village, error)
	RegisterRegistryOffice(ctx context.Context, actor id.ActorID) error
	Resolve(ctx context.Context, actor id.ActorID) (identity.Principal, error)
	Villages(ctx context.Context) ([]identity.Village, error)
}

// Handler wires workflow endpoints to the workflow and identity services.
type Handler struct {
	workflow Workflow
	registry Registry
	logger   *slog.Logger
}

// New constructs a workflow handler with its dependencies.
func New(workflow Workflow, registry Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{workflow: workflow, registry: registry, logger: logger}
}

// RegisterPublic mounts endpoints that need no actor.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/index/pointer", h.HandleIndexPointer)
	r.Get("/identity/villages", h.HandleListVillages)
}

// Register mounts endpoints that require an authenticated actor.
func (h *Handler) Register(r chi.Router) {
	r.Get("/identity/me", h.HandleWhoAmI)
	r.Post("/identity/villages", h.HandleRegisterVillage)
	r.Post("/identity/registry-offices", h.HandleRegisterOffice)
	r.Post("/identity/citizens", h.HandleRegisterCitizen)

	r.Post("/payloads", h.HandleUploadPayload)
	r.Post("/documents", h.HandleUploadDocument)

	r.Route("/applications", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleListByStatus)
		r.Get("/mine", h.HandleListMine)
		r.Get("/origin", h.HandleListByOrigin)
		r.Get("/destination", h.HandleListByDest)
		r.Route("/{applicationID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/preview", h.HandlePreview)
			r.Get("/official-document", h.HandleOfficialDocument)
			r.Post("/village-verification", h.HandleVerifyByVillage)
			r.Post("/origin-verification", h.HandleVerifyByOrigin)
			r.Post("/destination-verification", h.HandleVerifyByDest)
			r.Post("/destination-head-request", h.HandleRequestDestHead)
			r.Post("/destination-head-confirmation", h.HandleConfirmByDestHead)
			r.Post("/registry-verification", h.HandleVerifyByRegistry)
			r.Post("/cancel", h.HandleCancel)
		})
	})

	r.Post("/cards/seed", h.HandleSeed)
	r.Get("/cards/{cardNumber}/history", h.HandleHistory)
}

// writeError writes err, expanding aggregated validation failures.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"actor", string(requestcontext.Actor(ctx)),
		"op", op,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "workflow request failed", attrs...)
	} else {
		h.logger.InfoContext(ctx, "workflow request refused", attrs...)
	}

	var verr *validation.Error
	if dErrors.HasCode(err, dErrors.CodeValidation) && errors.As(err, &verr) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:    string(dErrors.CodeValidation),
			Messages: verr.Messages,
		})
		return
	}
	httputil.WriteError(w, err)
}

func applicationID(r *http.Request) (id.ApplicationID, error) {
	appID, err := id.ParseApplicationID(chi.URLParam(r, "applicationID"))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid application id")
	}
	return appID, nil
}

// HandleIndexPointer handles GET /index/pointer.
func (h *Handler) HandleIndexPointer(w http.ResponseWriter, r *http.Request) {
	ptr, err := h.workflow.IndexPointer(r.Context())
	if err != nil {
		h.writeError(w, r, "index_pointer", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PointerResponse{IndexContentID: ptr})
}

// HandleListVillages handles GET /identity/villages.
func (h *Handler) HandleListVillages(w http.ResponseWriter, r *http.Request) {
	villages, err := h.registry.Villages(r.Context())
	if err != nil {
		h.writeError(w, r, "list_villages", err)
		return
	}
	if villages == nil {
		villages = []identity.Village{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"villages": villages})
}

// HandleWhoAmI handles GET /identity/me.
func (h *Handler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	actor := requestcontext.Actor(r.Context())
	if actor.IsNil() {
		h.writeError(w, r, "whoami", dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	p, err := h.registry.Resolve(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, "whoami", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, PrincipalResponse{Actor: p.Actor, Role: p.Role, Village: p.Village, NIK: p.NIK})
}

// requireRegistryOffice guards identity administration.
func (h *Handler) requireRegistryOffice(ctx context.Context) error {
	p, err := h.registry.Resolve(ctx, requestcontext.Actor(ctx))
	if err != nil {
		return err
	}
	if p.Role != identity.RoleRegistryOffice {
		return dErrors.New(dErrors.CodeForbidden, "only a registry office may register offices")
	}
	return nil
}

// HandleRegisterVillage handles POST /identity/villages.
func (h *Handler) HandleRegisterVillage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.requireRegistryOffice(ctx); err != nil {
		h.writeError(w, r, "register_village", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[VillageRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	v, err := h.registry.RegisterVillage(ctx, identity.Village{
		ID:      id.VillageID(req.ID),
		Name:    req.Name,
		Address: req.Address,
		Office:  id.ActorID(req.Office),
	})
	if err != nil {
		h.writeError(w, r, "register_village", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

// HandleRegisterOffice handles POST /identity/registry-offices.
func (h *Handler) HandleRegisterOffice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.requireRegistryOffice(ctx); err != nil {
		h.writeError(w, r, "register_registry_office", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[OfficeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.registry.RegisterRegistryOffice(ctx, id.ActorID(req.Actor)); err != nil {
		h.writeError(w, r, "register_registry_office", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"actor": req.Actor})
}

// HandleRegisterCitizen handles POST /identity/citizens. An office binds a
// citizen's wallet to a NIK already on a family card.
func (h *Handler) HandleRegisterCitizen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[CitizenRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.workflow.RegisterCitizen(ctx, id.NIK(req.NIK), id.ActorID(req.Wallet))
	if err != nil {
		h.writeError(w, r, "register_citizen", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

// HandleUploadPayload handles POST /payloads.
func (h *Handler) HandleUploadPayload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PayloadRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	cid, err := h.workflow.UploadPayload(ctx, req.Payload())
	if err != nil {
		h.writeError(w, r, "upload_payload", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ContentResponse{ContentID: cid})
}

// HandleUploadDocument handles POST /documents. The body is stored as-is.
func (h *Handler) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	data, err := httputil.ReadBody(r, MaxDocumentBytes)
	if err != nil {
		h.writeError(w, r, "upload_document", err)
		return
	}
	cid, err := h.workflow.UploadDocument(r.Context(), data)
	if err != nil {
		h.writeError(w, r, "upload_document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ContentResponse{ContentID: cid})
}

// HandleSubmit handles POST /applications.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	app, err := h.workflow.Submit(ctx, req.ToService())
	if err != nil {
		h.writeError(w, r, "submit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

// HandleGet handles GET /applications/{applicationID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, "get_application", err)
		return
	}
	app, err := h.workflow.GetApplication(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, "get_application", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) ([]*models.Application, error)) {
	apps, err := fn(r.Context())
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse(apps))
}

// HandleListMine handles GET /applications/mine.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list_mine", h.workflow.ListMine)
}

// HandleListByOrigin handles GET /applications/origin.
func (h *Handler) HandleListByOrigin(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list_by_origin", h.workflow.ListByOriginVillage)
}

// HandleListByDest handles GET /applications/destination.
func (h *Handler) HandleListByDest(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "list_by_destination", h.workflow.ListByDestVillage)
}

// HandleListByStatus handles GET /applications?status=...
func (h *Handler) HandleListByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := models.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, "list_by_status", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid status"))
		return
	}
	h.list(w, r, "list_by_status", func(ctx context.Context) ([]*models.Application, error) {
		return h.workflow.ListByStatus(ctx, status)
	})
}

// decide decodes a DecisionRequest and applies fn to the path's application.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, id.ApplicationID, *DecisionRequest) (*models.Application, error)) {
	ctx := r.Context()
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	app, err := fn(ctx, appID, req)
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	h.logger.InfoContext(ctx, "application decided",
		"request_id", requestcontext.RequestID(ctx),
		"application_id", uint64(app.ID),
		"op", op,
		"status", app.Status.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandleVerifyByVillage handles POST /applications/{id}/village-verification.
func (h *Handler) HandleVerifyByVillage(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "verify_by_village", func(ctx context.Context, appID id.ApplicationID, req *DecisionRequest) (*models.Application, error) {
		return h.workflow.VerifyByVillage(ctx, appID, req.Approved, req.Reason)
	})
}

// HandleVerifyByOrigin handles POST /applications/{id}/origin-verification.
func (h *Handler) HandleVerifyByOrigin(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "verify_by_origin_village", func(ctx context.Context, appID id.ApplicationID, req *DecisionRequest) (*models.Application, error) {
		return h.workflow.VerifyByOriginVillage(ctx, appID, req.Approved, req.Reason, id.VillageID(req.DestVillageID))
	})
}

// HandleVerifyByDest handles POST /applications/{id}/destination-verification.
func (h *Handler) HandleVerifyByDest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "verify_by_dest_village", func(ctx context.Context, appID id.ApplicationID, req *DecisionRequest) (*models.Application, error) {
		return h.workflow.VerifyByDestVillage(ctx, appID, req.Approved, req.Reason)
	})
}

// HandleRequestDestHead handles POST /applications/{id}/destination-head-request.
func (h *Handler) HandleRequestDestHead(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, "request_dest_head_confirmation", err)
		return
	}
	app, err := h.workflow.RequestDestHeadConfirmation(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, "request_dest_head_confirmation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandleConfirmByDestHead handles POST /applications/{id}/destination-head-confirmation.
func (h *Handler) HandleConfirmByDestHead(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "confirm_by_dest_head", func(ctx context.Context, appID id.ApplicationID, req *DecisionRequest) (*models.Application, error) {
		nik, err := id.ParseNIK(req.NIK)
		if err != nil {
			return nil, err
		}
		return h.workflow.ConfirmByDestHead(ctx, appID, req.Approved, req.Reason, nik)
	})
}

// HandleVerifyByRegistry handles POST /applications/{id}/registry-verification.
func (h *Handler) HandleVerifyByRegistry(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "verify_by_registry", func(ctx context.Context, appID id.ApplicationID, req *DecisionRequest) (*models.Application, error) {
		return h.workflow.VerifyByRegistry(ctx, appID, req.Approved, req.Reason, id.ContentID(req.OfficialDocumentID))
	})
}

// HandleCancel handles POST /applications/{id}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, "cancel", err)
		return
	}
	app, err := h.workflow.Cancel(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, "cancel", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

// HandlePreview handles GET /applications/{id}/preview.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, "preview", err)
		return
	}
	p, err := h.workflow.Preview(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, "preview", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, previewResponse(p))
}

// HandleOfficialDocument handles GET /applications/{id}/official-document.
func (h *Handler) HandleOfficialDocument(w http.ResponseWriter, r *http.Request) {
	appID, err := applicationID(r)
	if err != nil {
		h.writeError(w, r, "official_document", err)
		return
	}
	cid, err := h.workflow.GetOfficialDocument(r.Context(), appID)
	if err != nil {
		h.writeError(w, r, "official_document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ContentResponse{ContentID: cid})
}

// HandleSeed handles POST /cards/seed.
func (h *Handler) HandleSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SeedRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	loaded, err := h.workflow.SeedCards(ctx, req.Cards)
	if err != nil {
		h.writeError(w, r, "seed_cards", err)
		return
	}
	out := SeedResponse{Cards: make([]SeededCard, 0, len(loaded))}
	for _, lc := range loaded {
		out.Cards = append(out.Cards, SeededCard{CardNumber: lc.Card.CardNumber, ContentID: lc.ContentID, Members: len(lc.Card.Members)})
	}
	httputil.WriteJSON(w, http.StatusCreated, out)
}

// HandleHistory handles GET /cards/{cardNumber}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	card, err := id.ParseCardNumber(chi.URLParam(r, "cardNumber"))
	if err != nil {
		h.writeError(w, r, "history", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid card number"))
		return
	}
	log, err := h.workflow.GetHistory(r.Context(), card)
	if err != nil {
		h.writeError(w, r, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, log)
}
