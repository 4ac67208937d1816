package identity

import (
	"context"
	"strings"
	"sync"

	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
)

// Store persists registrations. Create methods return sentinel.ErrConflict
// when a uniqueness rule would be broken.
type Store interface {
	CreateVillage(ctx context.Context, v Village) error
	CreateRegistryOffice(ctx context.Context, actor id.ActorID) error
	CreateCitizen(ctx context.Context, c Citizen) error
	FindVillage(ctx context.Context, vid id.VillageID) (Village, error)
	FindVillageByOffice(ctx context.Context, actor id.ActorID) (Village, error)
	FindCitizenByWallet(ctx context.Context, actor id.ActorID) (Citizen, error)
	IsRegistryOffice(ctx context.Context, actor id.ActorID) (bool, error)
	ListVillages(ctx context.Context) ([]Village, error)
}

// InMemory is a Store for tests and single-process deployments.
type InMemory struct {
	mu               sync.RWMutex
	villages         map[id.VillageID]Village
	villageByAddress map[string]id.VillageID
	villageByOffice  map[id.ActorID]id.VillageID
	registryOffices  map[id.ActorID]struct{}
	citizensByNIK    map[id.NIK]Citizen
	citizensByWallet map[id.ActorID]Citizen
}

func NewInMemory() *InMemory {
	return &InMemory{
		villages:         make(map[id.VillageID]Village),
		villageByAddress: make(map[string]id.VillageID),
		villageByOffice:  make(map[id.ActorID]id.VillageID),
		registryOffices:  make(map[id.ActorID]struct{}),
		citizensByNIK:    make(map[id.NIK]Citizen),
		citizensByWallet: make(map[id.ActorID]Citizen),
	}
}

// NormalizeAddress folds case and whitespace so "Jl. A  1" and "jl. a 1"
// collide.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// actorTaken must be called with mu held.
func (s *InMemory) actorTaken(actor id.ActorID) bool {
	if _, ok := s.villageByOffice[actor]; ok {
		return true
	}
	if _, ok := s.registryOffices[actor]; ok {
		return true
	}
	_, ok := s.citizensByWallet[actor]
	return ok
}

func (s *InMemory) CreateVillage(_ context.Context, v Village) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := NormalizeAddress(v.Address)
	if _, ok := s.villages[v.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.villageByAddress[addr]; ok {
		return sentinel.ErrConflict
	}
	if s.actorTaken(v.Office) {
		return sentinel.ErrConflict
	}
	s.villages[v.ID] = v
	s.villageByAddress[addr] = v.ID
	s.villageByOffice[v.Office] = v.ID
	return nil
}

func (s *InMemory) CreateRegistryOffice(_ context.Context, actor id.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actorTaken(actor) {
		return sentinel.ErrConflict
	}
	s.registryOffices[actor] = struct{}{}
	return nil
}

func (s *InMemory) CreateCitizen(_ context.Context, c Citizen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.citizensByNIK[c.NIK]; ok {
		return sentinel.ErrConflict
	}
	if s.actorTaken(c.Wallet) {
		return sentinel.ErrConflict
	}
	s.citizensByNIK[c.NIK] = c
	s.citizensByWallet[c.Wallet] = c
	return nil
}

func (s *InMemory) FindVillage(_ context.Context, vid id.VillageID) (Village, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.villages[vid]
	if !ok {
		return Village{}, sentinel.ErrNotFound
	}
	return v, nil
}

func (s *InMemory) FindVillageByOffice(_ context.Context, actor id.ActorID) (Village, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vid, ok := s.villageByOffice[actor]
	if !ok {
		return Village{}, sentinel.ErrNotFound
	}
	return s.villages[vid], nil
}

func (s *InMemory) FindCitizenByWallet(_ context.Context, actor id.ActorID) (Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.citizensByWallet[actor]
	if !ok {
		return Citizen{}, sentinel.ErrNotFound
	}
	return c, nil
}

func (s *InMemory) IsRegistryOffice(_ context.Context, actor id.ActorID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registryOffices[actor]
	return ok, nil
}

func (s *InMemory) ListVillages(_ context.Context) ([]Village, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Village, 0, len(s.villages))
	for _, v := range s.villages {
		out = append(out, v)
	}
	sortVillages(out)
	return out, nil
}
