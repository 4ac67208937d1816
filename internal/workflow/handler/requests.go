package handler

import (
	"encoding/json"
	"strings"

	"dukcapil/internal/familycard/event"
	familymodels "dukcapil/internal/familycard/models"
	"dukcapil/internal/workflow/service"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

// maxReasonLength bounds free-text decision reasons.
const maxReasonLength = 1000

// PayloadRequest is the body of POST /payloads: an event payload whose shape
// is selected by event_type.
type PayloadRequest struct {
	EventType   string          `json:"event_type"`
	MoveSubtype string          `json:"move_subtype,omitempty"`
	Data        json.RawMessage `json:"data"`

	payload event.Payload
}

func (r *PayloadRequest) Validate() error {
	t, err := event.ParseType(strings.TrimSpace(r.EventType))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid event_type")
	}
	sub, err := event.ParseMoveSubtype(strings.TrimSpace(r.MoveSubtype))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid move_subtype")
	}
	env := event.Envelope{
		Metadata: event.Metadata{EventType: t, MoveSubtype: sub, Version: event.EnvelopeVersion},
		Data:     r.Data,
	}
	p, err := env.Payload()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid payload data")
	}
	r.payload = p
	return nil
}

// Payload returns the decoded payload.
func (r *PayloadRequest) Payload() event.Payload { return r.payload }

// SubmitRequest is the body of POST /applications.
type SubmitRequest struct {
	EventType        string `json:"event_type"`
	MoveSubtype      string `json:"move_subtype,omitempty"`
	PayloadContentID string `json:"payload_content_id"`
	OriginVillageID  uint64 `json:"origin_village_id"`
	DestVillageID    uint64 `json:"dest_village_id,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	r.EventType = strings.TrimSpace(r.EventType)
	r.MoveSubtype = strings.TrimSpace(r.MoveSubtype)
	r.PayloadContentID = strings.TrimSpace(r.PayloadContentID)
	if r.EventType == "" {
		return dErrors.New(dErrors.CodeValidation, "event_type is required")
	}
	if r.OriginVillageID == 0 {
		return dErrors.New(dErrors.CodeValidation, "origin_village_id is required")
	}
	return nil
}

// ToService converts the request. An empty content id is passed through so
// the service reports it with its own code.
func (r *SubmitRequest) ToService() service.SubmitRequest {
	return service.SubmitRequest{
		EventType:        event.Type(r.EventType),
		MoveSubtype:      event.MoveSubtype(r.MoveSubtype),
		PayloadContentID: id.ContentID(r.PayloadContentID),
		OriginVillageID:  id.VillageID(r.OriginVillageID),
		DestVillageID:    id.VillageID(r.DestVillageID),
	}
}

// DecisionRequest is the body of every approve/reject endpoint. The
// endpoint-specific fields are ignored where they do not apply.
type DecisionRequest struct {
	Approved           bool   `json:"approved"`
	Reason             string `json:"reason,omitempty"`
	DestVillageID      uint64 `json:"dest_village_id,omitempty"`
	NIK                string `json:"nik,omitempty"`
	OfficialDocumentID string `json:"official_document_id,omitempty"`
}

func (r *DecisionRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > maxReasonLength {
		return dErrors.Newf(dErrors.CodeValidation, "reason must be at most %d characters", maxReasonLength)
	}
	r.NIK = strings.TrimSpace(r.NIK)
	r.OfficialDocumentID = strings.TrimSpace(r.OfficialDocumentID)
	return nil
}

// SeedRequest is the body of POST /cards/seed.
type SeedRequest struct {
	Cards []*familymodels.FamilyCard `json:"cards"`
}

func (r *SeedRequest) Validate() error {
	if len(r.Cards) == 0 {
		return dErrors.New(dErrors.CodeValidation, "cards are required")
	}
	for i, c := range r.Cards {
		if c == nil {
			return dErrors.Newf(dErrors.CodeValidation, "cards[%d] is null", i)
		}
	}
	return nil
}

// VillageRequest is the body of POST /identity/villages.
type VillageRequest struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Office  string `json:"office"`
}

func (r *VillageRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Address = strings.TrimSpace(r.Address)
	r.Office = strings.TrimSpace(r.Office)
	if r.ID == 0 {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if r.Name == "" || r.Address == "" {
		return dErrors.New(dErrors.CodeValidation, "name and address are required")
	}
	office, err := id.ParseActorID(r.Office)
	if err != nil {
		return err
	}
	r.Office = string(office)
	return nil
}

// OfficeRequest is the body of POST /identity/registry-offices.
type OfficeRequest struct {
	Actor string `json:"actor"`
}

func (r *OfficeRequest) Validate() error {
	actor, err := id.ParseActorID(r.Actor)
	if err != nil {
		return err
	}
	r.Actor = string(actor)
	return nil
}

// CitizenRequest is the body of POST /identity/citizens, sent by the office
// that checked the citizen.
type CitizenRequest struct {
	NIK    string `json:"nik"`
	Wallet string `json:"wallet"`
}

func (r *CitizenRequest) Validate() error {
	r.NIK = strings.TrimSpace(r.NIK)
	if _, err := id.ParseNIK(r.NIK); err != nil {
		return err
	}
	wallet, err := id.ParseActorID(r.Wallet)
	if err != nil {
		return err
	}
	r.Wallet = string(wallet)
	return nil
}
