package handler

import (
	"dukcapil/internal/identity"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/service"
	id "dukcapil/pkg/domain"
)

// ContentResponse carries a stored document's ContentID.
type ContentResponse struct {
	ContentID id.ContentID `json:"content_id"`
}

// PointerResponse is the current NIK index pointer.
type PointerResponse struct {
	IndexContentID id.ContentID `json:"index_content_id"`
}

// ApplicationsResponse wraps a listing.
type ApplicationsResponse struct {
	Applications []*models.Application `json:"applications"`
	Count        int                   `json:"count"`
}

func listResponse(apps []*models.Application) ApplicationsResponse {
	if apps == nil {
		apps = []*models.Application{}
	}
	return ApplicationsResponse{Applications: apps, Count: len(apps)}
}

// PreviewResponse is the dry-run result of a registry approval.
type PreviewResponse struct {
	Valid     bool                      `json:"valid"`
	Errors    []string                  `json:"errors"`
	Warnings  []string                  `json:"warnings"`
	Documents []service.PreviewDocument `json:"documents"`
	Removed   []id.NIK                  `json:"removed"`
}

func previewResponse(p service.Preview) PreviewResponse {
	nonNil := func(v []string) []string {
		if v == nil {
			return []string{}
		}
		return v
	}
	removed := p.Removed
	if removed == nil {
		removed = []id.NIK{}
	}
	return PreviewResponse{
		Valid:     p.Validation.Valid,
		Errors:    nonNil(p.Validation.Errors),
		Warnings:  nonNil(p.Validation.Warnings),
		Documents: p.Documents,
		Removed:   removed,
	}
}

// SeedResponse lists the stored cards.
type SeedResponse struct {
	Cards []SeededCard `json:"cards"`
}

// SeededCard is one stored card.
type SeededCard struct {
	CardNumber id.CardNumber `json:"card_number"`
	ContentID  id.ContentID  `json:"content_id"`
	Members    int           `json:"members"`
}

// ValidationErrorResponse is written for rejected mutations so callers see
// every failing rule rather than the joined message.
type ValidationErrorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages"`
}

// PrincipalResponse describes the caller.
type PrincipalResponse struct {
	Actor   id.ActorID    `json:"actor"`
	Role    identity.Role `json:"role"`
	Village id.VillageID  `json:"village_id,omitempty"`
	NIK     id.NIK        `json:"nik,omitempty"`
}
