package event

import (
	"encoding/json"
	"fmt"
	"time"

	id "dukcapil/pkg/domain"
)

// EnvelopeVersion is written into every new envelope.
const EnvelopeVersion = 1

// Metadata is the routing header of a payload envelope.
type Metadata struct {
	EventType   Type        `json:"eventType"`
	MoveSubtype MoveSubtype `json:"moveSubtype,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Applicant   id.ActorID  `json:"applicant"`
	Version     int         `json:"version"`
}

// Envelope is the applicant-produced wire document:
//
//	{ "metadata": {...}, "data": {...event-specific fields...} }
type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// Wrap builds an envelope around p.
func Wrap(p Payload, applicant id.ActorID, at time.Time) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", p.Type(), err)
	}
	meta := Metadata{
		EventType: p.Type(),
		Timestamp: at.UTC(),
		Applicant: applicant,
		Version:   EnvelopeVersion,
	}
	if mv, ok := p.(MovePayload); ok {
		meta.MoveSubtype = mv.Subtype
	}
	return Envelope{Metadata: meta, Data: data}, nil
}

// Payload decodes Data according to Metadata.EventType.
func (e Envelope) Payload() (Payload, error) {
	if e.Metadata.Version > EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", e.Metadata.Version)
	}
	switch e.Metadata.EventType {
	case TypeBirth:
		return decode[BirthPayload](e.Data)
	case TypeDeath:
		return decode[DeathPayload](e.Data)
	case TypeMarriage:
		return decode[MarriagePayload](e.Data)
	case TypeDivorce:
		return decode[DivorcePayload](e.Data)
	case TypeMove:
		p, err := decode[MovePayload](e.Data)
		if err != nil {
			return nil, err
		}
		mv := p.(MovePayload)
		if mv.Subtype == MoveNone {
			mv.Subtype = e.Metadata.MoveSubtype
		}
		if mv.Subtype != e.Metadata.MoveSubtype {
			return nil, fmt.Errorf("move subtype mismatch: metadata %q, data %q", e.Metadata.MoveSubtype, mv.Subtype)
		}
		return mv, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Metadata.EventType)
	}
}

func decode[T Payload](data json.RawMessage) (Payload, error) {
	var p T
	if len(data) == 0 {
		return nil, fmt.Errorf("empty %s payload", p.Type())
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.Type(), err)
	}
	return p, nil
}
