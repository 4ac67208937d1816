package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"dukcapil/internal/audit"
	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/mutation"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/nikindex"
	"dukcapil/internal/workflow/models"
	"dukcapil/internal/workflow/store"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/sentinel"
	"dukcapil/pkg/requestcontext"
)

// VerifyByRegistry is the registry office's final decision. A rejection is a
// plain transition. An approval requires officialDocumentID and runs the
// mutation: cards are rewritten, the index and history pointers move and
// the status becomes ApprovedByRegistry in one ledger commit. Losing the
// index race restarts the mutation from a fresh snapshot.
func (s *Service) VerifyByRegistry(ctx context.Context, appID id.ApplicationID, approved bool, reason string, officialDocumentID id.ContentID) (*models.Application, error) {
	if !approved {
		return s.transition(ctx, appID, models.ActionVerifyByRegistry, false, reason, nil)
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "workflow.VerifyByRegistry",
		trace.WithAttributes(attribute.Int64("application_id", int64(appID))),
	)
	defer span.End()

	app, err := s.approve(ctx, appID, strings.TrimSpace(reason), officialDocumentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.metrics.IncrementTransition(string(models.ActionVerifyByRegistry), "failed")
		return nil, err
	}
	s.metrics.ObserveApprovalLatency(time.Since(start))
	return app, nil
}

func (s *Service) approve(ctx context.Context, appID id.ApplicationID, reason string, officialDocumentID id.ContentID) (*models.Application, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	app, err := s.loadApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	edge, err := s.guard(ctx, p, app, models.ActionVerifyByRegistry)
	if err != nil {
		return nil, err
	}
	if err := s.checkCommon(ctx, app, edge); err != nil {
		return nil, err
	}
	if officialDocumentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeEmptyContentID, "registry approval requires the official document")
	}
	payload, err := s.payloadOf(ctx, app)
	if err != nil {
		return nil, err
	}

	from := app.Status
	eventType := string(app.EventType)
	var (
		committed *models.Application
		result    mutation.Result
		newIndex  id.ContentID
	)
	err = nikindex.Retry(ctx, s.attempts, s.logger, func(ctx context.Context, attempt int) error {
		s.metrics.IncrementMutation(eventType, "attempted")
		snap, err := s.index.Load(ctx)
		if err != nil {
			return err
		}
		res, err := s.mutate(ctx, snap.Index, payload)
		if err != nil {
			return err
		}
		written, err := s.writeCards(ctx, res)
		if err != nil {
			return err
		}
		indexID, err := s.index.Commit(ctx, snap.Index.Patch(res.IndexChanges(written)))
		if err != nil {
			return err
		}

		now := requestcontext.Now(ctx).UTC()
		expected, moved, err := s.appendHistory(ctx, app, res, written, now)
		if err != nil {
			return err
		}

		next := app.Clone()
		next.Record(models.ActionVerifyByRegistry, edge.To(true), p.Actor, true, reason, now)
		next.OfficialDocumentID = officialDocumentID

		_, span := s.tracer.Start(ctx, "workflow.ledger_commit", trace.WithAttributes(attribute.Int("attempt", attempt)))
		err = s.store.Commit(ctx, store.Commit{
			App:             next,
			ExpectedStatus:  from,
			ExpectedIndex:   snap.ContentID,
			NewIndex:        indexID,
			ExpectedHistory: expected,
			History:         moved,
			Issued:          res.Issued(),
		})
		span.End()
		switch {
		case err == nil:
			committed, result, newIndex = next, res, indexID
			return nil
		case errors.Is(err, sentinel.ErrPointerMoved):
			s.metrics.IncrementIndexConflict()
			return err
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.Wrap(err, dErrors.CodeNotInExpectedState, "application left "+from.String()+" concurrently")
		case errors.Is(err, sentinel.ErrConflict):
			return dErrors.Wrap(err, dErrors.CodeConflict, "card number issued concurrently")
		default:
			return dErrors.Wrap(err, dErrors.CodeStorage, "commit approval")
		}
	})
	if err != nil {
		outcome := "failed"
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			outcome = "invalid"
		}
		s.metrics.IncrementMutation(eventType, outcome)
		return nil, err
	}

	s.metrics.IncrementMutation(eventType, "committed")
	s.decided(ctx, committed, models.ActionVerifyByRegistry, from, true, reason)
	cards := make([]id.CardNumber, 0, len(result.Docs))
	for _, d := range result.Docs {
		cards = append(cards, d.CardNumber)
	}
	s.logger.InfoContext(ctx, "mutation committed",
		"application_id", uint64(committed.ID),
		"event_type", eventType,
		"cards", cards,
		"index_content_id", string(newIndex),
	)
	s.emit(ctx, audit.Event{
		Action:         audit.ActionMutationCommitted,
		Actor:          p.Actor,
		ApplicationID:  committed.ID,
		EventType:      kindOf(committed),
		Cards:          cards,
		IndexContentID: newIndex,
	})
	return committed, nil
}

// payloadOf decodes the application's payload and checks it still matches
// the ledger record.
func (s *Service) payloadOf(ctx context.Context, app *models.Application) (event.Payload, error) {
	_, payload, err := s.docs.GetPayload(ctx, app.PayloadContentID)
	if err != nil {
		return nil, err
	}
	if payload.Type() != app.EventType {
		return nil, dErrors.Newf(dErrors.CodeMalformedDocument, "payload of application %d is a %s event", app.ID, payload.Type())
	}
	if mv, ok := payload.(event.MovePayload); ok && mv.Subtype != app.MoveSubtype {
		return nil, dErrors.Newf(dErrors.CodeMalformedDocument, "payload of application %d is a %s move", app.ID, mv.Subtype)
	}
	return payload, nil
}

// mutate loads the subjects' cards through idx and runs the engine.
func (s *Service) mutate(ctx context.Context, idx nikindex.Index, payload event.Payload) (mutation.Result, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.mutate",
		trace.WithAttributes(attribute.String("event_type", string(payload.Type()))),
	)
	defer span.End()

	cards, err := s.loadCards(ctx, idx, payload.Subjects())
	if err != nil {
		return mutation.Result{}, err
	}
	var lookupErr error
	res, err := s.engine.Apply(validation.Input{
		Payload: payload,
		Cards:   cards,
		Index:   idx,
		Now:     requestcontext.Now(ctx),
		CardIssued: func(n id.CardNumber) bool {
			issued, err := s.store.CardIssued(ctx, n)
			if err != nil {
				lookupErr = err
				return true
			}
			return issued
		},
	})
	if lookupErr != nil {
		span.RecordError(lookupErr)
		return mutation.Result{}, dErrors.Wrap(lookupErr, dErrors.CodeStorage, "check card numbers")
	}
	for _, w := range res.Validation.Warnings {
		s.logger.WarnContext(ctx, "validation warning", "event_type", string(payload.Type()), "warning", w)
	}
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			s.metrics.IncrementValidationFailure(string(payload.Type()))
			s.logger.InfoContext(ctx, "mutation rejected by validation",
				"event_type", string(payload.Type()),
				"errors", res.Validation.Errors,
			)
		}
		span.RecordError(err)
		return res, err
	}
	return res, nil
}

// loadCards resolves niks through idx and fetches each distinct card once,
// concurrently. Every member of a loaded card is keyed in the result.
// NIKs the index does not know are left out for validation to report.
func (s *Service) loadCards(ctx context.Context, idx nikindex.Index, niks []id.NIK) (familymodels.CardSet, error) {
	seen := make(map[id.ContentID]struct{})
	var cids []id.ContentID
	for _, nik := range niks {
		cid, ok := idx.Lookup(nik)
		if !ok {
			continue
		}
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		cids = append(cids, cid)
	}

	loaded := make([]familymodels.LoadedCard, len(cids))
	g, gctx := errgroup.WithContext(ctx)
	for i, cid := range cids {
		g.Go(func() error {
			card, err := s.docs.GetCard(gctx, cid)
			if err != nil {
				return err
			}
			loaded[i] = familymodels.LoadedCard{ContentID: cid, Card: card}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(familymodels.CardSet)
	for _, lc := range loaded {
		for _, m := range lc.Card.Members {
			out[m.NIK] = lc
		}
	}
	return out, nil
}

// writeCards persists every surviving card concurrently and returns the new
// ContentID per card number.
func (s *Service) writeCards(ctx context.Context, res mutation.Result) (map[id.CardNumber]id.ContentID, error) {
	ctx, span := s.tracer.Start(ctx, "workflow.write_cards")
	defer span.End()

	var mu sync.Mutex
	written := make(map[id.CardNumber]id.ContentID)
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range res.Written() {
		g.Go(func() error {
			cid, err := s.docs.PutCard(gctx, d.Card)
			if err != nil {
				return err
			}
			mu.Lock()
			written[d.CardNumber] = cid
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return written, nil
}

// appendHistory writes the next history version of every touched card and
// returns the pointers read and the pointers to commit.
func (s *Service) appendHistory(ctx context.Context, app *models.Application, res mutation.Result, written map[id.CardNumber]id.ContentID, at time.Time) (expected, moved map[id.CardNumber]id.ContentID, err error) {
	expected = make(map[id.CardNumber]id.ContentID, len(res.Docs))
	moved = make(map[id.CardNumber]id.ContentID, len(res.Docs))
	docs := append([]mutation.Document(nil), res.Docs...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].CardNumber < docs[j].CardNumber })
	for _, d := range docs {
		ptr, err := s.store.HistoryPointer(ctx, d.CardNumber)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeStorage, "read history pointer")
		}
		entry := d.Entry(written[d.CardNumber], at, app.ID, app.EventType, app.MoveSubtype)
		next, err := s.history.Append(ctx, d.CardNumber, ptr, entry)
		if err != nil {
			return nil, nil, err
		}
		expected[d.CardNumber] = ptr
		moved[d.CardNumber] = next
	}
	return expected, moved, nil
}

// PreviewDocument is one card a mutation would produce.
type PreviewDocument struct {
	Role       mutation.Role            `json:"role"`
	CardNumber id.CardNumber            `json:"card_number"`
	Retired    bool                     `json:"retired"`
	Card       *familymodels.FamilyCard `json:"card,omitempty"`
}

// Preview is the outcome of a dry run.
type Preview struct {
	Validation validation.Result `json:"validation"`
	Documents  []PreviewDocument `json:"documents"`
	Removed    []id.NIK          `json:"removed,omitempty"`
}

// Preview runs load, validation and mutation against the current index
// without writing anything. A validation failure is reported in the result,
// not as an error. Only offices that verify the application may preview it.
func (s *Service) Preview(ctx context.Context, appID id.ApplicationID) (Preview, error) {
	p, err := s.caller(ctx)
	if err != nil {
		return Preview{}, err
	}
	app, err := s.loadApplication(ctx, appID)
	if err != nil {
		return Preview{}, err
	}
	if !isVerifier(p, app) {
		return Preview{}, dErrors.Newf(dErrors.CodeForbidden, "caller does not verify application %d", appID)
	}
	payload, err := s.payloadOf(ctx, app)
	if err != nil {
		return Preview{}, err
	}
	snap, err := s.index.Load(ctx)
	if err != nil {
		return Preview{}, err
	}
	res, err := s.mutate(ctx, snap.Index, payload)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeValidation) {
		return Preview{}, err
	}
	out := Preview{Validation: res.Validation, Documents: []PreviewDocument{}, Removed: res.Removed}
	for _, d := range res.Docs {
		out.Documents = append(out.Documents, PreviewDocument{
			Role:       d.Role,
			CardNumber: d.CardNumber,
			Retired:    d.Retired(),
			Card:       d.Card,
		})
	}
	return out, nil
}
