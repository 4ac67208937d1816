package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
	"dukcapil/pkg/requestcontext"
)

// Service answers "who is this actor" and enforces registration uniqueness.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterVillage adds a village office. Village ID, address and office
// wallet must all be unused.
func (s *Service) RegisterVillage(ctx context.Context, v Village) (Village, error) {
	if v.ID == 0 {
		return Village{}, dErrors.New(dErrors.CodeInvalidInput, "village id is required")
	}
	v.Name = strings.TrimSpace(v.Name)
	if v.Name == "" || NormalizeAddress(v.Address) == "" {
		return Village{}, dErrors.New(dErrors.CodeInvalidInput, "village name and address are required")
	}
	if v.Office.IsNil() {
		return Village{}, dErrors.New(dErrors.CodeInvalidInput, "village office wallet is required")
	}
	v.RegisteredAt = requestcontext.Now(ctx)
	if err := s.store.CreateVillage(ctx, v); err != nil {
		return Village{}, s.conflict(err, "village id, address or office wallet already registered")
	}
	s.logger.InfoContext(ctx, "village registered", "village_id", v.ID, "office", v.Office)
	return v, nil
}

// RegisterRegistryOffice adds a registry office wallet.
func (s *Service) RegisterRegistryOffice(ctx context.Context, actor id.ActorID) error {
	if actor.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "registry office wallet is required")
	}
	if err := s.store.CreateRegistryOffice(ctx, actor); err != nil {
		return s.conflict(err, "wallet already registered")
	}
	s.logger.InfoContext(ctx, "registry office registered", "office", actor)
	return nil
}

// RegisterCitizen binds wallet to nik. Both must be unused.
func (s *Service) RegisterCitizen(ctx context.Context, nik id.NIK, wallet id.ActorID) (Citizen, error) {
	if _, err := id.ParseNIK(string(nik)); err != nil {
		return Citizen{}, err
	}
	if wallet.IsNil() {
		return Citizen{}, dErrors.New(dErrors.CodeInvalidInput, "wallet is required")
	}
	c := Citizen{NIK: nik, Wallet: wallet, RegisteredAt: requestcontext.Now(ctx)}
	if err := s.store.CreateCitizen(ctx, c); err != nil {
		return Citizen{}, s.conflict(err, "nik or wallet already registered")
	}
	return c, nil
}

// Resolve returns the role and role-specific identity of actor. Unknown
// actors resolve to RoleNone without error.
func (s *Service) Resolve(ctx context.Context, actor id.ActorID) (Principal, error) {
	p := Principal{Actor: actor}
	if actor.IsNil() {
		return p, nil
	}
	ok, err := s.store.IsRegistryOffice(ctx, actor)
	if err != nil {
		return p, dErrors.Wrap(err, dErrors.CodeStorage, "resolve actor")
	}
	if ok {
		p.Role = RoleRegistryOffice
		return p, nil
	}
	v, err := s.store.FindVillageByOffice(ctx, actor)
	switch {
	case err == nil:
		p.Role, p.Village = RoleVillageOffice, v.ID
		return p, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return p, dErrors.Wrap(err, dErrors.CodeStorage, "resolve actor")
	}
	c, err := s.store.FindCitizenByWallet(ctx, actor)
	switch {
	case err == nil:
		p.Role, p.NIK = RoleCitizen, c.NIK
	case !errors.Is(err, sentinel.ErrNotFound):
		return p, dErrors.Wrap(err, dErrors.CodeStorage, "resolve actor")
	}
	return p, nil
}

// RoleOf returns only the role of actor.
func (s *Service) RoleOf(ctx context.Context, actor id.ActorID) (Role, error) {
	p, err := s.Resolve(ctx, actor)
	return p.Role, err
}

// VillageExists reports whether vid is registered.
func (s *Service) VillageExists(ctx context.Context, vid id.VillageID) (bool, error) {
	if vid == 0 {
		return false, nil
	}
	_, err := s.store.FindVillage(ctx, vid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return false, nil
	default:
		return false, dErrors.Wrap(err, dErrors.CodeStorage, "find village")
	}
}

// NIKOf returns the NIK bound to a citizen wallet.
func (s *Service) NIKOf(ctx context.Context, actor id.ActorID) (id.NIK, error) {
	c, err := s.store.FindCitizenByWallet(ctx, actor)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "wallet is not a registered citizen")
		}
		return "", dErrors.Wrap(err, dErrors.CodeStorage, "find citizen")
	}
	return c.NIK, nil
}

// Villages lists every registered village.
func (s *Service) Villages(ctx context.Context) ([]Village, error) {
	vs, err := s.store.ListVillages(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "list villages")
	}
	return vs, nil
}

func (s *Service) conflict(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeStorage, "identity store")
}
