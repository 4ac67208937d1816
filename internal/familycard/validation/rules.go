package validation

import (
	"fmt"
	"time"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// HeadDeathPolicy decides what happens when a head of family dies while
// other members remain on the card.
type HeadDeathPolicy string

const (
	// HeadDeathReject refuses the death until the card is reorganized.
	HeadDeathReject HeadDeathPolicy = "reject"
	// HeadDeathPromote lets the death through and promotes a successor.
	HeadDeathPromote HeadDeathPolicy = "promote"
)

func ParseHeadDeathPolicy(s string) (HeadDeathPolicy, error) {
	switch p := HeadDeathPolicy(s); p {
	case HeadDeathReject, HeadDeathPromote:
		return p, nil
	}
	return "", fmt.Errorf("unknown head death policy %q", s)
}

// Rules holds the configurable thresholds.
type Rules struct {
	// AdulthoodYears rejects births whose computed age reaches this value.
	AdulthoodYears int
	MinMarriageAge int
	// StrictReferences turns unresolved reporter, witness and parent NIKs
	// into errors instead of warnings.
	StrictReferences bool
	HeadDeathPolicy  HeadDeathPolicy
}

func DefaultRules() Rules {
	return Rules{
		AdulthoodYears:  17,
		MinMarriageAge:  19,
		HeadDeathPolicy: HeadDeathReject,
	}
}

// Resolver answers index lookups.
type Resolver interface {
	Lookup(nik id.NIK) (id.ContentID, bool)
}

// Input is everything a validation run needs; nothing is fetched.
type Input struct {
	Payload event.Payload
	Cards   models.CardSet
	Index   Resolver
	Now     time.Time

	// CardIssued reports card numbers already held by any card on record,
	// live or retired. Nil means only the loaded cards are known.
	CardIssued func(id.CardNumber) bool
}
