package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
	txcontext "dukcapil/pkg/platform/tx"
)

const indexPointerName = "nik_index"

// PostgresStore is the ledger on PostgreSQL. Conditional writes use
// row locks inside one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appColumns = `id, applicant, event_type, move_subtype, payload_cid, origin_village, dest_village,
	status, rejection_reason, verifiers, official_document, trail, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, app *models.Application) (id.ApplicationID, error) {
	verifiers, trail, err := encodeJSON(app)
	if err != nil {
		return 0, err
	}
	var appID int64
	err = txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`INSERT INTO applications (applicant, event_type, move_subtype, payload_cid, origin_village, dest_village,
			status, rejection_reason, verifiers, official_document, trail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		string(app.Applicant), string(app.EventType), string(app.MoveSubtype), string(app.PayloadContentID),
		int64(app.OriginVillageID), int64(app.DestVillageID), int16(app.Status), app.RejectionReason,
		verifiers, string(app.OfficialDocumentID), trail, app.CreatedAt, app.UpdatedAt,
	).Scan(&appID)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return id.ApplicationID(appID), nil
}

func (s *PostgresStore) FindByID(ctx context.Context, appID id.ApplicationID) (*models.Application, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = $1`, int64(appID))
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find application: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) UpdateIfStatus(ctx context.Context, app *models.Application, expected models.Status) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return s.updateIfStatus(ctx, app, expected)
	})
}

func (s *PostgresStore) updateIfStatus(ctx context.Context, app *models.Application, expected models.Status) error {
	verifiers, trail, err := encodeJSON(app)
	if err != nil {
		return err
	}
	q := txcontext.Executor(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`UPDATE applications
		    SET status = $1, rejection_reason = $2, verifiers = $3, official_document = $4, trail = $5,
		        dest_village = $6, updated_at = $7
		  WHERE id = $8 AND status = $9`,
		int16(app.Status), app.RejectionReason, verifiers, string(app.OfficialDocumentID), trail,
		int64(app.DestVillageID), app.UpdatedAt, int64(app.ID), int16(expected))
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, int64(app.ID)).Scan(&exists); err != nil {
		return fmt.Errorf("check application: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *PostgresStore) list(ctx context.Context, where string, arg any) ([]*models.Application, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx,
		`SELECT `+appColumns+` FROM applications WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()
	var out []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListByApplicant(ctx context.Context, actor id.ActorID) ([]*models.Application, error) {
	return s.list(ctx, "applicant = $1", string(actor))
}

func (s *PostgresStore) ListByOriginVillage(ctx context.Context, vid id.VillageID) ([]*models.Application, error) {
	return s.list(ctx, "origin_village = $1", int64(vid))
}

func (s *PostgresStore) ListByDestVillage(ctx context.Context, vid id.VillageID) ([]*models.Application, error) {
	return s.list(ctx, "dest_village = $1", int64(vid))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Application, error) {
	return s.list(ctx, "status = $1", int16(status))
}

func (s *PostgresStore) IndexPointer(ctx context.Context) (id.ContentID, error) {
	var cid string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT content_id FROM ledger_pointers WHERE name = $1`, indexPointerName).Scan(&cid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read index pointer: %w", err)
	}
	return id.ContentID(cid), nil
}

func (s *PostgresStore) SetIndexPointer(ctx context.Context, expected, next id.ContentID) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.lockIndex(ctx, expected); err != nil {
			return err
		}
		return s.writeIndex(ctx, next)
	})
}

func (s *PostgresStore) HistoryPointer(ctx context.Context, card id.CardNumber) (id.ContentID, error) {
	var cid string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT content_id FROM history_pointers WHERE card_number = $1`, string(card)).Scan(&cid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read history pointer: %w", err)
	}
	return id.ContentID(cid), nil
}

func (s *PostgresStore) CardIssued(ctx context.Context, card id.CardNumber) (bool, error) {
	var issued bool
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM card_numbers WHERE card_number = $1)`, string(card)).Scan(&issued)
	if err != nil {
		return false, fmt.Errorf("read card number: %w", err)
	}
	return issued, nil
}

func (s *PostgresStore) Commit(ctx context.Context, c Commit) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if c.App != nil {
			if err := s.updateIfStatus(ctx, c.App, c.ExpectedStatus); err != nil {
				return err
			}
		}
		if err := s.lockIndex(ctx, c.ExpectedIndex); err != nil {
			return err
		}
		q := txcontext.Executor(ctx, s.db)
		for _, card := range sortedCards(c.ExpectedHistory) {
			var cur string
			err := q.QueryRowContext(ctx,
				`SELECT content_id FROM history_pointers WHERE card_number = $1 FOR UPDATE`, string(card)).Scan(&cur)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lock history pointer: %w", err)
			}
			if id.ContentID(cur) != c.ExpectedHistory[card] {
				return sentinel.ErrPointerMoved
			}
		}
		for _, card := range c.Issued {
			res, err := q.ExecContext(ctx,
				`INSERT INTO card_numbers (card_number) VALUES ($1) ON CONFLICT (card_number) DO NOTHING`,
				string(card))
			if err != nil {
				return fmt.Errorf("issue card number: %w", err)
			}
			if n, err := res.RowsAffected(); err != nil || n != 1 {
				return sentinel.ErrConflict
			}
		}
		if err := s.writeIndex(ctx, c.NewIndex); err != nil {
			return err
		}
		for _, card := range sortedCards(c.History) {
			_, err := q.ExecContext(ctx,
				`INSERT INTO history_pointers (card_number, content_id) VALUES ($1, $2)
				 ON CONFLICT (card_number) DO UPDATE SET content_id = EXCLUDED.content_id`,
				string(card), string(c.History[card]))
			if err != nil {
				return fmt.Errorf("write history pointer: %w", err)
			}
		}
		return nil
	})
}

// lockIndex takes the pointer row lock and checks it still equals expected.
func (s *PostgresStore) lockIndex(ctx context.Context, expected id.ContentID) error {
	var cur string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT content_id FROM ledger_pointers WHERE name = $1 FOR UPDATE`, indexPointerName).Scan(&cur)
	if err != nil {
		return fmt.Errorf("lock index pointer: %w", err)
	}
	if id.ContentID(cur) != expected {
		return sentinel.ErrPointerMoved
	}
	return nil
}

func (s *PostgresStore) writeIndex(ctx context.Context, next id.ContentID) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`UPDATE ledger_pointers SET content_id = $1 WHERE name = $2`, string(next), indexPointerName)
	if err != nil {
		return fmt.Errorf("write index pointer: %w", err)
	}
	return nil
}

func sortedCards(m map[id.CardNumber]id.ContentID) []id.CardNumber {
	out := make([]id.CardNumber, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func encodeJSON(app *models.Application) (verifiers, trail []byte, err error) {
	verifiers, err = json.Marshal(app.Verifiers)
	if err != nil {
		return nil, nil, fmt.Errorf("encode verifiers: %w", err)
	}
	entries := app.Trail
	if entries == nil {
		entries = []models.TrailEntry{}
	}
	trail, err = json.Marshal(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("encode trail: %w", err)
	}
	return verifiers, trail, nil
}

func scanApplication(row interface{ Scan(...any) error }) (*models.Application, error) {
	var (
		app                                          models.Application
		appID, origin, dest                          int64
		status                                       int16
		applicant, eventType, subtype, payload, odoc string
		verifiers, trail                             []byte
	)
	err := row.Scan(&appID, &applicant, &eventType, &subtype, &payload, &origin, &dest,
		&status, &app.RejectionReason, &verifiers, &odoc, &trail, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return nil, err
	}
	app.ID = id.ApplicationID(appID)
	app.Applicant = id.ActorID(applicant)
	app.EventType = event.Type(eventType)
	app.MoveSubtype = event.MoveSubtype(subtype)
	app.PayloadContentID = id.ContentID(payload)
	app.OriginVillageID = id.VillageID(origin)
	app.DestVillageID = id.VillageID(dest)
	app.Status = models.Status(status)
	app.OfficialDocumentID = id.ContentID(odoc)
	if err := json.Unmarshal(verifiers, &app.Verifiers); err != nil {
		return nil, fmt.Errorf("decode verifiers: %w", err)
	}
	if err := json.Unmarshal(trail, &app.Trail); err != nil {
		return nil, fmt.Errorf("decode trail: %w", err)
	}
	return &app, nil
}
