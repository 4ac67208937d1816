package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
	"dukcapil/pkg/requestcontext"
)

// caller resolves the authenticated actor of ctx.
func (s *Service) caller(ctx context.Context) (identity.Principal, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return identity.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor")
	}
	p, err := s.identity.Resolve(ctx, actor)
	if err != nil {
		return identity.Principal{}, err
	}
	return p, nil
}

// edgeFor finds the edge action takes from app's current status. An action
// that exists for the application's kind but not from its status, or not at
// all, is a state-guard failure.
func (s *Service) edgeFor(app *models.Application, action models.Action) (models.Edge, error) {
	if e, ok := models.EdgeFor(app.EventType, app.MoveSubtype, s.gate, action, app.Status); ok {
		return e, nil
	}
	sources := models.ExpectedSources(app.EventType, app.MoveSubtype, s.gate, action)
	if len(sources) == 0 {
		return models.Edge{}, dErrors.Newf(dErrors.CodeNotInExpectedState,
			"%s is not available for %s applications", action, kindOf(app))
	}
	if action == models.ActionVerifyByRegistry && app.Status == models.StatusApprovedByDestVillage && s.gate == models.GateHead {
		return models.Edge{}, dErrors.Newf(dErrors.CodeNotInExpectedState,
			"application %d is %s; merging into an existing card requires the destination head of family's confirmation",
			app.ID, app.Status)
	}
	names := make([]string, len(sources))
	for i, st := range sources {
		names[i] = st.String()
	}
	return models.Edge{}, dErrors.Newf(dErrors.CodeNotInExpectedState,
		"application %d is %s, expected %s", app.ID, app.Status, strings.Join(names, " or "))
}

// actorFor returns the actor class allowed to perform action on app. Every
// edge of one action shares its actor.
func (s *Service) actorFor(app *models.Application, action models.Action) (models.Actor, bool) {
	for _, e := range models.Edges(app.EventType, app.MoveSubtype, s.gate) {
		if e.Action == action {
			return e.Actor, true
		}
	}
	return "", false
}

// authorize checks p against the actor class. destHead is the NIK the
// payload names as destination head of family; it is only consulted for
// ActorDestHead.
func authorize(p identity.Principal, who models.Actor, app *models.Application, destHead id.NIK) error {
	ok := false
	switch who {
	case models.ActorOriginVillage:
		ok = p.Role == identity.RoleVillageOffice && p.Village == app.OriginVillageID
	case models.ActorDestVillage:
		ok = p.Role == identity.RoleVillageOffice && p.Village == app.DestVillageID && app.DestVillageID != 0
	case models.ActorRegistryOffice:
		ok = p.Role == identity.RoleRegistryOffice
	case models.ActorApplicant:
		ok = p.Actor == app.Applicant
	case models.ActorDestHead:
		ok = p.Role == identity.RoleCitizen && !destHead.IsNil() && p.NIK == destHead
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeForbidden, "caller is not the %s of application %d", who, app.ID)
	}
	return nil
}

// checkDestination enforces that a move names a registered destination.
func (s *Service) checkDestination(ctx context.Context, vid id.VillageID) error {
	if vid == 0 {
		return dErrors.New(dErrors.CodeInvalidDestination, "destination village is required for a move")
	}
	ok, err := s.identity.VillageExists(ctx, vid)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeUnknownDestVillage, "destination village %d is not registered", vid)
	}
	return nil
}

// checkCommon runs the guards every transition shares.
func (s *Service) checkCommon(ctx context.Context, app *models.Application, edge models.Edge) error {
	if app.PayloadContentID.IsNil() {
		return dErrors.Newf(dErrors.CodeEmptyContentID, "application %d has no payload", app.ID)
	}
	// The origin village step sets the destination; later move edges need it.
	if app.IsMove() && edge.Action != models.ActionCancel && edge.Action != models.ActionVerifyByOriginVillage {
		return s.checkDestination(ctx, app.DestVillageID)
	}
	return nil
}

// saveTransition persists app, which the caller moved out of from.
func (s *Service) saveTransition(ctx context.Context, app *models.Application, from models.Status) error {
	err := s.store.UpdateIfStatus(ctx, app, from)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeNotInExpectedState,
			fmt.Sprintf("application %d left %s concurrently", app.ID, from))
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "application %d not found", app.ID)
	default:
		return dErrors.Wrap(err, dErrors.CodeStorage, "save application")
	}
}

func kindOf(app *models.Application) string {
	if app.IsMove() {
		return fmt.Sprintf("%s/%s", app.EventType, app.MoveSubtype)
	}
	return string(app.EventType)
}

func decision(approved bool) string {
	if approved {
		return "approved"
	}
	return "rejected"
}
