package service

import (
	"context"
	"errors"
	"strings"

	"dukcapil/internal/audit"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/identity"
	"dukcapil/internal/nikindex"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
)

// SeedCards writes initial family cards and indexes their members through
// the same compare-and-swap commit as a mutation. No card may hold a NIK the
// index already knows. Only a registry office may seed.
func (s *Service) SeedCards(ctx context.Context, cards []*familymodels.FamilyCard) ([]familymodels.LoadedCard, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if p.Role != identity.RoleRegistryOffice {
		return nil, dErrors.New(dErrors.CodeForbidden, "only a registry office may seed family cards")
	}
	if err := checkSeed(cards); err != nil {
		return nil, err
	}
	numbers := make([]id.CardNumber, len(cards))
	for i, card := range cards {
		issued, err := s.store.CardIssued(ctx, card.CardNumber)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeStorage, "check card numbers")
		}
		if issued {
			return nil, dErrors.Newf(dErrors.CodeConflict, "card number %s is already issued", card.CardNumber)
		}
		numbers[i] = card.CardNumber
	}

	loaded := make([]familymodels.LoadedCard, len(cards))
	for i, card := range cards {
		cid, err := s.docs.PutCard(ctx, card)
		if err != nil {
			return nil, err
		}
		loaded[i] = familymodels.LoadedCard{ContentID: cid, Card: card}
	}

	var indexID id.ContentID
	err = nikindex.Retry(ctx, s.attempts, s.logger, func(ctx context.Context, _ int) error {
		snap, err := s.index.Load(ctx)
		if err != nil {
			return err
		}
		var changes []nikindex.Change
		for _, lc := range loaded {
			for _, m := range lc.Card.Members {
				if _, taken := snap.Index.Lookup(m.NIK); taken {
					return dErrors.Newf(dErrors.CodeConflict, "NIK %s is already on a family card", m.NIK)
				}
				changes = append(changes, nikindex.Set(m.NIK, lc.ContentID))
			}
		}
		next, err := s.index.Commit(ctx, snap.Index.Patch(changes))
		if err != nil {
			return err
		}
		err = s.store.Commit(ctx, store.Commit{ExpectedIndex: snap.ContentID, NewIndex: next, Issued: numbers})
		if errors.Is(err, sentinel.ErrPointerMoved) {
			s.metrics.IncrementIndexConflict()
			return err
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Wrap(err, dErrors.CodeConflict, "card number issued concurrently")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorage, "commit seeded index")
		}
		indexID = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "family cards seeded", "cards", len(loaded), "index_content_id", string(indexID))
	s.emit(ctx, audit.Event{
		Action:         audit.ActionCardsSeeded,
		Actor:          p.Actor,
		Cards:          numbers,
		IndexContentID: indexID,
	})
	return loaded, nil
}

func checkSeed(cards []*familymodels.FamilyCard) error {
	if len(cards) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "no cards to seed")
	}
	numbers := make(map[id.CardNumber]struct{}, len(cards))
	niks := make(map[id.NIK]struct{})
	for _, card := range cards {
		if card == nil {
			return dErrors.New(dErrors.CodeBadRequest, "nil card")
		}
		if errs := validation.CheckCard(card); len(errs) > 0 {
			return dErrors.Newf(dErrors.CodeValidation, "card %s: %s", card.CardNumber, strings.Join(errs, "; "))
		}
		if _, dup := numbers[card.CardNumber]; dup {
			return dErrors.Newf(dErrors.CodeConflict, "card number %s appears twice", card.CardNumber)
		}
		numbers[card.CardNumber] = struct{}{}
		for _, m := range card.Members {
			if _, dup := niks[m.NIK]; dup {
				return dErrors.Newf(dErrors.CodeConflict, "NIK %s appears on two cards", m.NIK)
			}
			niks[m.NIK] = struct{}{}
		}
	}
	return nil
}
