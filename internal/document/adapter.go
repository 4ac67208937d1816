// Package document stores typed documents as encrypted content-store blobs.
//
// Every write serializes, seals and puts a new blob; nothing is ever updated
// in place. Reads distinguish three failures so callers never mistake
// corruption for absence:
//
//   - CodeNotFound / CodeStorage: the store could not return the bytes
//   - CodeDecryptionFailed: the bytes did not authenticate
//   - CodeMalformedDocument: the plaintext is not the expected document
package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"dukcapil/internal/contentstore/core"
	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
	"dukcapil/pkg/platform/seal"
	"dukcapil/pkg/platform/sentinel"
)

// Adapter wraps a content store with sealing and JSON encoding.
type Adapter struct {
	store  core.Store
	sealer seal.Sealer
	logger *slog.Logger
}

type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

func New(store core.Store, sealer seal.Sealer, opts ...Option) *Adapter {
	a := &Adapter{store: store, sealer: sealer, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Put encodes v as JSON and stores it sealed.
func (a *Adapter) Put(ctx context.Context, v any) (id.ContentID, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encode document")
	}
	return a.PutBytes(ctx, plain)
}

// PutBytes seals raw bytes, for uploaded files such as certificates.
func (a *Adapter) PutBytes(ctx context.Context, plain []byte) (id.ContentID, error) {
	sealed, err := a.sealer.Seal(plain)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "seal document")
	}
	cid, err := a.store.Put(ctx, sealed)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeStorage, "put document")
	}
	return cid, nil
}

// Get fetches cid and decodes it into v.
func (a *Adapter) Get(ctx context.Context, cid id.ContentID, v any) error {
	plain, err := a.GetBytes(ctx, cid)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, v); err != nil {
		a.logger.WarnContext(ctx, "malformed document", "content_id", cid, "error", err)
		return dErrors.Wrap(err, dErrors.CodeMalformedDocument, "decode document "+string(cid))
	}
	return nil
}

// GetBytes fetches and opens cid.
func (a *Adapter) GetBytes(ctx context.Context, cid id.ContentID) ([]byte, error) {
	if cid.IsNil() {
		return nil, dErrors.New(dErrors.CodeEmptyContentID, "content id is required")
	}
	sealed, err := a.store.Get(ctx, cid)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "document "+string(cid)+" not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "get document")
	}
	plain, err := a.sealer.Open(sealed)
	if err != nil {
		a.logger.ErrorContext(ctx, "document failed authentication", "content_id", cid)
		return nil, dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "open document "+string(cid))
	}
	return plain, nil
}

// PutCard stores a family card.
func (a *Adapter) PutCard(ctx context.Context, card *models.FamilyCard) (id.ContentID, error) {
	return a.Put(ctx, card)
}

// GetCard loads a family card. A card without a number or members is
// reported as malformed.
func (a *Adapter) GetCard(ctx context.Context, cid id.ContentID) (*models.FamilyCard, error) {
	var card models.FamilyCard
	if err := a.Get(ctx, cid, &card); err != nil {
		return nil, err
	}
	if card.CardNumber == "" || len(card.Members) == 0 {
		return nil, dErrors.New(dErrors.CodeMalformedDocument, "document "+string(cid)+" is not a family card")
	}
	return &card, nil
}

// PutEnvelope stores an application payload envelope.
func (a *Adapter) PutEnvelope(ctx context.Context, env event.Envelope) (id.ContentID, error) {
	return a.Put(ctx, env)
}

// GetPayload loads an envelope and decodes its event payload.
func (a *Adapter) GetPayload(ctx context.Context, cid id.ContentID) (event.Metadata, event.Payload, error) {
	var env event.Envelope
	if err := a.Get(ctx, cid, &env); err != nil {
		return event.Metadata{}, nil, err
	}
	p, err := env.Payload()
	if err != nil {
		return event.Metadata{}, nil, dErrors.Wrap(err, dErrors.CodeMalformedDocument, "decode payload "+string(cid))
	}
	return env.Metadata, p, nil
}
