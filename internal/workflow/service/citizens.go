package service

import (
	"context"

	"dukcapil/internal/identity"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

// RegisterCitizen binds wallet to nik on behalf of a village or registry
// office that has checked the citizen in person. The NIK must belong to a
// member of a family card on record.
func (s *Service) RegisterCitizen(ctx context.Context, nik id.NIK, wallet id.ActorID) (identity.Citizen, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return identity.Citizen{}, err
	}
	if p.Role != identity.RoleRegistryOffice && p.Role != identity.RoleVillageOffice {
		return identity.Citizen{}, dErrors.New(dErrors.CodeForbidden, "only an office may register citizens")
	}
	if _, err := id.ParseNIK(string(nik)); err != nil {
		return identity.Citizen{}, err
	}
	snap, err := s.index.Load(ctx)
	if err != nil {
		return identity.Citizen{}, err
	}
	if _, ok := snap.Index.Lookup(nik); !ok {
		return identity.Citizen{}, dErrors.Newf(dErrors.CodeNotFound, "nik %s is not on any family card", nik)
	}
	c, err := s.identity.RegisterCitizen(ctx, nik, wallet)
	if err != nil {
		return identity.Citizen{}, err
	}
	s.logger.InfoContext(ctx, "citizen registered", "office", p.Actor, "nik", nik, "wallet", wallet)
	return c, nil
}
