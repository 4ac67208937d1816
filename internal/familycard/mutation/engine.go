// Package mutation computes new family-card versions for approved life events.
//
// Apply is pure apart from random sequence draws: it reads the cards and index
// supplied in the input, never writes anything, and never modifies the input
// cards. Persisting the produced documents and patching the index is the
// caller's job.
package mutation

import (
	"log/slog"
	"strings"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	"dukcapil/internal/familycard/validation"
	"dukcapil/internal/history"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

// Engine validates and applies events.
type Engine struct {
	rules  validation.Rules
	gen    *Generator
	logger *slog.Logger
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithGenerator(g *Generator) Option {
	return func(e *Engine) { e.gen = g }
}

func NewEngine(rules validation.Rules, opts ...Option) *Engine {
	e := &Engine{rules: rules, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.gen == nil {
		e.gen = NewGenerator(nil)
	}
	return e
}

// Rules returns the thresholds the engine validates with.
func (e *Engine) Rules() validation.Rules { return e.rules }

// Apply validates in and, when valid, returns the documents the event
// produces. A rejected event yields no documents and a CodeValidation error;
// Result.Validation is populated either way.
func (e *Engine) Apply(in validation.Input) (Result, error) {
	report := validation.Validate(in, e.rules)
	if !report.Valid {
		return Result{Validation: report}, report.Err()
	}

	var (
		out Result
		err error
	)
	switch p := in.Payload.(type) {
	case event.BirthPayload:
		out, err = e.birth(in, p)
	case event.DeathPayload:
		out, err = e.death(in, p)
	case event.MarriagePayload:
		out, err = e.marriage(in, p)
	case event.DivorcePayload:
		out, err = e.divorce(in, p)
	case event.MovePayload:
		out, err = e.move(in, p)
	default:
		err = dErrors.Newf(dErrors.CodeInvalidInput, "unsupported payload %T", in.Payload)
	}
	if err != nil {
		return Result{Validation: report}, err
	}
	out.Validation = report

	for _, d := range out.Written() {
		if errs := validation.CheckCard(d.Card); len(errs) > 0 {
			return Result{Validation: report}, dErrors.New(dErrors.CodeInvariantViolation, strings.Join(errs, "; "))
		}
	}
	return out, nil
}

// workset clones each touched card once and keeps output order stable.
type workset struct {
	order []*Document
	byID  map[id.ContentID]*Document
}

func newWorkset() *workset {
	return &workset{byID: make(map[id.ContentID]*Document)}
}

func (w *workset) edit(lc models.LoadedCard, role Role) *Document {
	if d, ok := w.byID[lc.ContentID]; ok {
		return d
	}
	d := &Document{
		Role:       role,
		CardNumber: lc.Card.CardNumber,
		PriorID:    lc.ContentID,
		Before:     lc.Card,
		Card:       lc.Card.Clone(),
	}
	w.byID[lc.ContentID] = d
	w.order = append(w.order, d)
	return d
}

func (w *workset) create(card *models.FamilyCard) *Document {
	d := &Document{Role: RoleNew, CardNumber: card.CardNumber, Card: card}
	w.order = append(w.order, d)
	return d
}

func (w *workset) docs() []Document {
	out := make([]Document, 0, len(w.order))
	for _, d := range w.order {
		doc := *d
		if doc.Card != nil && len(doc.Card.Members) == 0 {
			doc.Card = nil
		}
		out = append(out, doc)
	}
	return out
}

func (d *Document) add(m models.FamilyMember, reason string) {
	d.Card.Members = append(d.Card.Members, m)
	d.Delta = append(d.Delta, history.MemberDelta{NIK: m.NIK, Action: history.ActionAdd, Reason: reason})
}

func (d *Document) remove(reason string, niks ...id.NIK) []models.FamilyMember {
	removed := d.Card.Remove(niks...)
	for _, m := range removed {
		d.Delta = append(d.Delta, history.MemberDelta{NIK: m.NIK, Action: history.ActionRemove, Reason: reason})
	}
	return removed
}

// takenNIK reports whether nik is indexed or present on any loaded card.
func takenNIK(in validation.Input) func(id.NIK) bool {
	return func(nik id.NIK) bool {
		if in.Index != nil {
			if _, ok := in.Index.Lookup(nik); ok {
				return true
			}
		}
		for _, lc := range in.Cards.Distinct() {
			if lc.Card.HasMember(nik) {
				return true
			}
		}
		return false
	}
}

// takenCard reports whether number belongs to a loaded card or was issued
// before.
func takenCard(in validation.Input) func(id.CardNumber) bool {
	return func(number id.CardNumber) bool {
		for _, lc := range in.Cards.Distinct() {
			if lc.Card.CardNumber == number {
				return true
			}
		}
		return in.CardIssued != nil && in.CardIssued(number)
	}
}
