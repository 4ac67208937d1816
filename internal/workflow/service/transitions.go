package service

import (
	"context"
	"strings"

	"dukcapil/internal/audit"
	"dukcapil/internal/familycard/event"
	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/requestcontext"
)

// SubmitRequest carries the ledger fields of a new application. The payload
// itself is uploaded first and referenced by PayloadContentID.
type SubmitRequest struct {
	EventType        event.Type
	MoveSubtype      event.MoveSubtype
	PayloadContentID id.ContentID
	OriginVillageID  id.VillageID
	DestVillageID    id.VillageID
}

// UploadPayload seals p in an envelope stamped with the caller and returns
// the ContentID to submit.
func (s *Service) UploadPayload(ctx context.Context, p event.Payload) (id.ContentID, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	env, err := event.Wrap(p, actor, requestcontext.Now(ctx))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "encode payload")
	}
	return s.docs.PutEnvelope(ctx, env)
}

// UploadDocument seals an uploaded file such as a certificate or the
// official document.
func (s *Service) UploadDocument(ctx context.Context, data []byte) (id.ContentID, error) {
	if requestcontext.Actor(ctx).IsNil() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	if len(data) == 0 {
		return "", dErrors.New(dErrors.CodeBadRequest, "document is empty")
	}
	return s.docs.PutBytes(ctx, data)
}

// Submit creates an application in status Submitted. Only registered
// citizens may submit, and the referenced payload must decode to the
// declared event type.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.Application, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != identity.RoleCitizen {
		return nil, dErrors.New(dErrors.CodeForbidden, "only registered citizens may submit applications")
	}
	if err := s.checkSubmission(ctx, req); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx).UTC()
	app := &models.Application{
		Applicant:        p.Actor,
		EventType:        req.EventType,
		MoveSubtype:      req.MoveSubtype,
		PayloadContentID: req.PayloadContentID,
		OriginVillageID:  req.OriginVillageID,
		DestVillageID:    req.DestVillageID,
		Status:           models.StatusSubmitted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	appID, err := s.store.Create(ctx, app)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "create application")
	}
	app.ID = appID

	s.metrics.IncrementTransition("submit", "submitted")
	s.logger.InfoContext(ctx, "application submitted",
		"application_id", uint64(appID),
		"event_type", string(app.EventType),
		"move_subtype", string(app.MoveSubtype),
		"origin_village", uint64(app.OriginVillageID),
	)
	s.emit(ctx, audit.Event{
		Action:        audit.ActionApplicationSubmitted,
		Actor:         p.Actor,
		ApplicationID: appID,
		EventType:     kindOf(app),
		To:            app.Status.String(),
	})
	return app, nil
}

func (s *Service) checkSubmission(ctx context.Context, req SubmitRequest) error {
	if _, err := event.ParseType(string(req.EventType)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid event type")
	}
	if req.EventType == event.TypeMove {
		if _, err := event.ParseMoveSubtype(string(req.MoveSubtype)); err != nil || req.MoveSubtype == event.MoveNone {
			return dErrors.New(dErrors.CodeBadRequest, "a move requires a valid subtype")
		}
	} else if req.MoveSubtype != event.MoveNone || req.DestVillageID != 0 {
		return dErrors.Newf(dErrors.CodeBadRequest, "%s applications take no move subtype or destination", req.EventType)
	}
	if req.PayloadContentID.IsNil() {
		return dErrors.New(dErrors.CodeEmptyContentID, "payload content id is required")
	}
	ok, err := s.identity.VillageExists(ctx, req.OriginVillageID)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "origin village %d is not registered", req.OriginVillageID)
	}
	if req.EventType == event.TypeMove && req.DestVillageID != 0 {
		if err := s.checkDestination(ctx, req.DestVillageID); err != nil {
			return err
		}
	}

	meta, payload, err := s.docs.GetPayload(ctx, req.PayloadContentID)
	if err != nil {
		return err
	}
	if meta.EventType != req.EventType || payload.Type() != req.EventType {
		return dErrors.Newf(dErrors.CodeInvalidInput, "payload is a %s event, application declares %s", meta.EventType, req.EventType)
	}
	if mv, ok := payload.(event.MovePayload); ok && mv.Subtype != req.MoveSubtype {
		return dErrors.Newf(dErrors.CodeInvalidInput, "payload is a %s move, application declares %s", mv.Subtype, req.MoveSubtype)
	}
	return nil
}

// prepareFunc adjusts app before the guards shared by all edges run.
type prepareFunc func(ctx context.Context, app *models.Application) error

// transition applies one non-mutating edge: role guard, state guard, shared
// guards, then a conditional write against the status that was read.
func (s *Service) transition(ctx context.Context, appID id.ApplicationID, action models.Action, approved bool, reason string, prepare prepareFunc) (*models.Application, error) {
	app, err := s.transitionOnce(ctx, appID, action, approved, reason, prepare)
	if err != nil {
		s.metrics.IncrementTransition(string(action), "failed")
		return nil, err
	}
	return app, nil
}

func (s *Service) transitionOnce(ctx context.Context, appID id.ApplicationID, action models.Action, approved bool, reason string, prepare prepareFunc) (*models.Application, error) {
	reason = strings.TrimSpace(reason)
	if !approved && reason == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "a rejection requires a reason")
	}
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	app, err := s.loadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	edge, err := s.guard(ctx, p, app, action)
	if err != nil {
		return nil, err
	}
	if prepare != nil {
		if err := prepare(ctx, app); err != nil {
			return nil, err
		}
	}
	if err := s.checkCommon(ctx, app, edge); err != nil {
		return nil, err
	}

	from := app.Status
	app.Record(action, edge.To(approved), p.Actor, approved, reason, requestcontext.Now(ctx).UTC())
	if err := s.saveTransition(ctx, app, from); err != nil {
		return nil, err
	}
	s.decided(ctx, app, action, from, approved, reason)
	return app, nil
}

// guard runs the role guard and then the state guard for action.
func (s *Service) guard(ctx context.Context, p identity.Principal, app *models.Application, action models.Action) (models.Edge, error) {
	who, ok := s.actorFor(app, action)
	if !ok {
		return s.edgeFor(app, action)
	}
	var destHead id.NIK
	if who == models.ActorDestHead {
		nik, err := s.destHeadOf(ctx, app)
		if err != nil {
			return models.Edge{}, err
		}
		destHead = nik
	}
	if err := authorize(p, who, app, destHead); err != nil {
		return models.Edge{}, err
	}
	return s.edgeFor(app, action)
}

// destHeadOf reads the destination head of family's NIK from the payload.
func (s *Service) destHeadOf(ctx context.Context, app *models.Application) (id.NIK, error) {
	_, payload, err := s.docs.GetPayload(ctx, app.PayloadContentID)
	if err != nil {
		return "", err
	}
	mv, ok := payload.(event.MovePayload)
	if !ok || mv.Subtype != event.MoveMergeExisting {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "application %d is not a merge into an existing card", app.ID)
	}
	return mv.DestHeadNIK, nil
}

func (s *Service) decided(ctx context.Context, app *models.Application, action models.Action, from models.Status, approved bool, reason string) {
	s.metrics.IncrementTransition(string(action), decision(approved))
	s.logger.InfoContext(ctx, "application transitioned",
		"application_id", uint64(app.ID),
		"action", string(action),
		"from", from.String(),
		"to", app.Status.String(),
	)
	s.emit(ctx, audit.Event{
		Action:        audit.ActionApplicationDecided,
		Actor:         requestcontext.Actor(ctx),
		ApplicationID: app.ID,
		EventType:     kindOf(app),
		From:          from.String(),
		To:            app.Status.String(),
		Decision:      decision(approved),
		Reason:        reason,
	})
}

// VerifyByVillage is the origin village's decision on a non-move event.
func (s *Service) VerifyByVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionVerifyByVillage, approved, reason, nil)
}

// VerifyByOriginVillage is the origin village's decision on a move. An
// approval fixes the destination village: destVillageID when non-zero,
// otherwise the one given at submission.
func (s *Service) VerifyByOriginVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string, destVillageID id.VillageID) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionVerifyByOriginVillage, approved, reason, func(ctx context.Context, app *models.Application) error {
		if !approved {
			return nil
		}
		dest := destVillageID
		if dest == 0 {
			dest = app.DestVillageID
		}
		if err := s.checkDestination(ctx, dest); err != nil {
			return err
		}
		app.DestVillageID = dest
		return nil
	})
}

// VerifyByDestVillage is the destination village's decision on a move.
func (s *Service) VerifyByDestVillage(ctx context.Context, appID id.ApplicationID, approved bool, reason string) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionVerifyByDestVillage, approved, reason, nil)
}

// RequestDestHeadConfirmation hands a merge to the destination head of family.
func (s *Service) RequestDestHeadConfirmation(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionRequestDestHead, true, "", nil)
}

// ConfirmByDestHead is the destination head of family's decision on a merge.
// nik must be the caller's own NIK and the head named in the payload.
func (s *Service) ConfirmByDestHead(ctx context.Context, appID id.ApplicationID, approved bool, reason string, nik id.NIK) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionConfirmByDestHead, approved, reason, func(ctx context.Context, app *models.Application) error {
		head, err := s.destHeadOf(ctx, app)
		if err != nil {
			return err
		}
		if nik != head {
			return dErrors.Newf(dErrors.CodeForbidden, "NIK %s is not the destination head of application %d", nik, app.ID)
		}
		return nil
	})
}

// Cancel withdraws an application that no one has acted on yet.
func (s *Service) Cancel(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	return s.transition(ctx, appID, models.ActionCancel, true, "", nil)
}
