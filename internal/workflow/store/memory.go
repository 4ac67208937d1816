package store

import (
	"context"
	"sort"
	"sync"

	"dukcapil/internal/workflow/models"
	id "dukcapil/pkg/domain"
	"dukcapil/pkg/platform/sentinel"
)

// InMemory is a Store guarded by a single mutex, which makes Commit atomic.
type InMemory struct {
	mu      sync.RWMutex
	nextID  id.ApplicationID
	apps    map[id.ApplicationID]*models.Application
	index   id.ContentID
	history map[id.CardNumber]id.ContentID
	issued  map[id.CardNumber]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		nextID:  1,
		apps:    make(map[id.ApplicationID]*models.Application),
		history: make(map[id.CardNumber]id.ContentID),
		issued:  make(map[id.CardNumber]struct{}),
	}
}

func (s *InMemory) Create(_ context.Context, app *models.Application) (id.ApplicationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appID := s.nextID
	s.nextID++
	stored := app.Clone()
	stored.ID = appID
	s.apps[appID] = stored
	return appID, nil
}

func (s *InMemory) FindByID(_ context.Context, appID id.ApplicationID) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return app.Clone(), nil
}

// checkStatus must be called with mu held.
func (s *InMemory) checkStatus(appID id.ApplicationID, expected models.Status) error {
	current, ok := s.apps[appID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expected {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *InMemory) UpdateIfStatus(_ context.Context, app *models.Application, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkStatus(app.ID, expected); err != nil {
		return err
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

func (s *InMemory) list(match func(*models.Application) bool) []*models.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Application
	for _, app := range s.apps {
		if match(app) {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *InMemory) ListByApplicant(_ context.Context, actor id.ActorID) ([]*models.Application, error) {
	return s.list(func(a *models.Application) bool { return a.Applicant == actor }), nil
}

func (s *InMemory) ListByOriginVillage(_ context.Context, vid id.VillageID) ([]*models.Application, error) {
	return s.list(func(a *models.Application) bool { return a.OriginVillageID == vid }), nil
}

func (s *InMemory) ListByDestVillage(_ context.Context, vid id.VillageID) ([]*models.Application, error) {
	return s.list(func(a *models.Application) bool { return a.DestVillageID == vid }), nil
}

func (s *InMemory) ListByStatus(_ context.Context, status models.Status) ([]*models.Application, error) {
	return s.list(func(a *models.Application) bool { return a.Status == status }), nil
}

func (s *InMemory) IndexPointer(context.Context) (id.ContentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, nil
}

func (s *InMemory) SetIndexPointer(_ context.Context, expected, next id.ContentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != expected {
		return sentinel.ErrPointerMoved
	}
	s.index = next
	return nil
}

func (s *InMemory) HistoryPointer(_ context.Context, card id.CardNumber) (id.ContentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[card], nil
}

func (s *InMemory) CardIssued(_ context.Context, card id.CardNumber) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.issued[card]
	return ok, nil
}

func (s *InMemory) Commit(_ context.Context, c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.App != nil {
		if err := s.checkStatus(c.App.ID, c.ExpectedStatus); err != nil {
			return err
		}
	}
	if s.index != c.ExpectedIndex {
		return sentinel.ErrPointerMoved
	}
	for card, expected := range c.ExpectedHistory {
		if s.history[card] != expected {
			return sentinel.ErrPointerMoved
		}
	}
	fresh := make(map[id.CardNumber]struct{}, len(c.Issued))
	for _, card := range c.Issued {
		if _, taken := s.issued[card]; taken {
			return sentinel.ErrConflict
		}
		if _, dup := fresh[card]; dup {
			return sentinel.ErrConflict
		}
		fresh[card] = struct{}{}
	}

	s.index = c.NewIndex
	for card := range fresh {
		s.issued[card] = struct{}{}
	}
	for card, ptr := range c.History {
		s.history[card] = ptr
	}
	if c.App != nil {
		s.apps[c.App.ID] = c.App.Clone()
	}
	return nil
}
