// Package store is the ledger: the authoritative record of applications,
// the current NIK index pointer and the per-card history pointers.
package store

import (
	"context"

	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
)

// Store is implemented by InMemory and PostgresStore.
//
// Conditional writes report a lost race with sentinel errors:
// ErrInvalidState when the application moved on, ErrPointerMoved when the
// index or a history pointer changed since it was read, ErrConflict when a
// card number is issued twice.
type Store interface {
	Create(ctx context.Context, app *models.Application) (id.ApplicationID, error)
	FindByID(ctx context.Context, appID id.ApplicationID) (*models.Application, error)
	// UpdateIfStatus replaces the stored application only while its status
	// still equals expected.
	UpdateIfStatus(ctx context.Context, app *models.Application, expected models.Status) error

	ListByApplicant(ctx context.Context, actor id.ActorID) ([]*models.Application, error)
	ListByOriginVillage(ctx context.Context, vid id.VillageID) ([]*models.Application, error)
	ListByDestVillage(ctx context.Context, vid id.VillageID) ([]*models.Application, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Application, error)

	IndexPointer(ctx context.Context) (id.ContentID, error)
	SetIndexPointer(ctx context.Context, expected, next id.ContentID) error
	HistoryPointer(ctx context.Context, card id.CardNumber) (id.ContentID, error)
	// CardIssued reports whether a seed or a mutation ever issued card.
	CardIssued(ctx context.Context, card id.CardNumber) (bool, error)

	// Commit applies a mutation's ledger effects in one atomic step.
	Commit(ctx context.Context, c Commit) error
}

// Commit is the ledger side of an approved mutation: the index pointer swap,
// the history pointer moves and, when App is set, the application's
// transition. Either all of it is applied or none.
type Commit struct {
	App            *models.Application
	ExpectedStatus models.Status

	ExpectedIndex id.ContentID
	NewIndex      id.ContentID

	// ExpectedHistory holds the pointer read for every card in History;
	// an empty value means the card had no history yet.
	ExpectedHistory map[id.CardNumber]id.ContentID
	History         map[id.CardNumber]id.ContentID

	// Issued lists card numbers first handed out by this commit.
	Issued []id.CardNumber
}
