package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
	txcontext "dukcapil/pkg/platform/tx"
)

// PostgresStore persists registrations. The actors table gives every wallet
// at most one role.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func translate(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *PostgresStore) claimActor(ctx context.Context, actor id.ActorID, role Role) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO actors (actor, role) VALUES ($1, $2)`, string(actor), string(role))
	if err != nil {
		return translate(err, "claim actor")
	}
	return nil
}

func (s *PostgresStore) CreateVillage(ctx context.Context, v Village) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.claimActor(ctx, v.Office, RoleVillageOffice); err != nil {
			return err
		}
		_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
			`INSERT INTO villages (id, name, address, address_key, office, registered_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			int64(v.ID), v.Name, v.Address, NormalizeAddress(v.Address), string(v.Office), v.RegisteredAt)
		if err != nil {
			return translate(err, "create village")
		}
		return nil
	})
}

func (s *PostgresStore) CreateRegistryOffice(ctx context.Context, actor id.ActorID) error {
	return s.claimActor(ctx, actor, RoleRegistryOffice)
}

func (s *PostgresStore) CreateCitizen(ctx context.Context, c Citizen) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.claimActor(ctx, c.Wallet, RoleCitizen); err != nil {
			return err
		}
		_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
			`INSERT INTO citizens (nik, wallet, registered_at) VALUES ($1, $2, $3)`,
			string(c.NIK), string(c.Wallet), c.RegisteredAt)
		if err != nil {
			return translate(err, "create citizen")
		}
		return nil
	})
}

const villageColumns = `id, name, address, office, registered_at`

func scanVillage(row interface{ Scan(...any) error }) (Village, error) {
	var (
		v      Village
		vid    int64
		office string
	)
	if err := row.Scan(&vid, &v.Name, &v.Address, &office, &v.RegisteredAt); err != nil {
		return Village{}, err
	}
	v.ID = id.VillageID(vid)
	v.Office = id.ActorID(office)
	return v, nil
}

func (s *PostgresStore) FindVillage(ctx context.Context, vid id.VillageID) (Village, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+villageColumns+` FROM villages WHERE id = $1`, int64(vid))
	v, err := scanVillage(row)
	if err != nil {
		return Village{}, translate(err, "find village")
	}
	return v, nil
}

func (s *PostgresStore) FindVillageByOffice(ctx context.Context, actor id.ActorID) (Village, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+villageColumns+` FROM villages WHERE office = $1`, string(actor))
	v, err := scanVillage(row)
	if err != nil {
		return Village{}, translate(err, "find village by office")
	}
	return v, nil
}

func (s *PostgresStore) FindCitizenByWallet(ctx context.Context, actor id.ActorID) (Citizen, error) {
	var c Citizen
	var nik, wallet string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT nik, wallet, registered_at FROM citizens WHERE wallet = $1`, string(actor)).
		Scan(&nik, &wallet, &c.RegisteredAt)
	if err != nil {
		return Citizen{}, translate(err, "find citizen")
	}
	c.NIK, c.Wallet = id.NIK(nik), id.ActorID(wallet)
	return c, nil
}

func (s *PostgresStore) IsRegistryOffice(ctx context.Context, actor id.ActorID) (bool, error) {
	var exists bool
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM actors WHERE actor = $1 AND role = $2)`,
		string(actor), string(RoleRegistryOffice)).Scan(&exists)
	if err != nil {
		return false, translate(err, "check registry office")
	}
	return exists, nil
}

func (s *PostgresStore) ListVillages(ctx context.Context) ([]Village, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `SELECT `+villageColumns+` FROM villages`)
	if err != nil {
		return nil, translate(err, "list villages")
	}
	defer rows.Close()
	var out []Village
	for rows.Next() {
		v, err := scanVillage(rows)
		if err != nil {
			return nil, translate(err, "scan village")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list villages")
	}
	sortVillages(out)
	return out, nil
}

func sortVillages(vs []Village) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}
