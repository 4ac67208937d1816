package service

import (
	"context"

	"dukcapil/internal/history"
	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

// isVerifier reports whether p is an office that acts on app.
func isVerifier(p identity.Principal, app *models.Application) bool {
	switch p.Role {
	case identity.RoleRegistryOffice:
		return true
	case identity.RoleVillageOffice:
		return p.Village == app.OriginVillageID || (app.DestVillageID != 0 && p.Village == app.DestVillageID)
	}
	return false
}

// GetApplication returns an application to its applicant, the offices that
// verify it, and for a merge the destination head of family.
func (s *Service) GetApplication(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	app, err := s.loadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	if p.Actor == app.Applicant || isVerifier(p, app) {
		return app, nil
	}
	if p.Role == identity.RoleCitizen && app.IsMove() {
		if head, err := s.destHeadOf(ctx, app); err == nil && head == p.NIK {
			return app, nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeForbidden, "caller may not view application %d", appID)
}

// ListMine returns the caller's own applications.
func (s *Service) ListMine(ctx context.Context) ([]*models.Application, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.ListByApplicant(ctx, p.Actor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list applications")
	}
	return apps, nil
}

// ListByOriginVillage returns the applications originating in the caller's
// village.
func (s *Service) ListByOriginVillage(ctx context.Context) ([]*models.Application, error) {
	p, err := s.villageOffice(ctx)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.ListByOriginVillage(ctx, p.Village)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list applications")
	}
	return apps, nil
}

// ListByDestVillage returns the moves into the caller's village.
func (s *Service) ListByDestVillage(ctx context.Context) ([]*models.Application, error) {
	p, err := s.villageOffice(ctx)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.ListByDestVillage(ctx, p.Village)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list applications")
	}
	return apps, nil
}

// ListByStatus returns every application in status to a registry office,
// and to a village office only those involving its village.
func (s *Service) ListByStatus(ctx context.Context, status models.Status) ([]*models.Application, error) {
	if !status.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown status %d", status)
	}
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != identity.RoleRegistryOffice && p.Role != identity.RoleVillageOffice {
		return nil, dErrors.New(dErrors.CodeForbidden, "only offices may list by status")
	}
	apps, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list applications")
	}
	if p.Role == identity.RoleRegistryOffice {
		return apps, nil
	}
	out := apps[:0]
	for _, app := range apps {
		if isVerifier(p, app) {
			out = append(out, app)
		}
	}
	return out, nil
}

func (s *Service) villageOffice(ctx context.Context) (identity.Principal, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return p, err
	}
	if p.Role != identity.RoleVillageOffice {
		return p, dErrors.New(dErrors.CodeForbidden, "caller is not a village office")
	}
	return p, nil
}

// GetOfficialDocument returns the official document of an approved
// application to its applicant, its village offices or a registry office.
func (s *Service) GetOfficialDocument(ctx context.Context, appID id.ApplicationID) (id.ContentID, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return "", err
	}
	app, err := s.loadApplication(ctx, appID)
	if err != nil {
		return "", err
	}
	if p.Actor != app.Applicant && !isVerifier(p, app) {
		return "", dErrors.Newf(dErrors.CodeDocumentAccess, "caller is not entitled to the official document of application %d", appID)
	}
	if app.Status != models.StatusApprovedByRegistry || app.OfficialDocumentID.IsNil() {
		return "", dErrors.Newf(dErrors.CodeDocumentAccess, "application %d has no official document (status %s)", appID, app.Status)
	}
	return app.OfficialDocumentID, nil
}

// IndexPointer returns the ContentID of the current NIK index snapshot.
func (s *Service) IndexPointer(ctx context.Context) (id.ContentID, error) {
	ptr, err := s.store.IndexPointer(ctx)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeStorage, "read index pointer")
	}
	return ptr, nil
}

// GetHistory returns the mutation history of a card lineage to an office.
func (s *Service) GetHistory(ctx context.Context, card id.CardNumber) (history.Log, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return history.Log{}, err
	}
	if p.Role != identity.RoleRegistryOffice && p.Role != identity.RoleVillageOffice {
		return history.Log{}, dErrors.New(dErrors.CodeForbidden, "only offices may read card history")
	}
	ptr, err := s.store.HistoryPointer(ctx, card)
	if err != nil {
		return history.Log{}, dErrors.Wrap(err, dErrors.CodeStorage, "read history pointer")
	}
	if ptr.IsNil() {
		return history.Log{}, dErrors.Newf(dErrors.CodeNotFound, "no history for card %s", card)
	}
	return s.history.Load(ctx, card, ptr)
}
