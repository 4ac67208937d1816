package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"

	dErrors "dukcapil/pkg/domain-errors"
)

// NIK is the 16-digit national identity number, the global identity key of a
// person. Construct via ParseNIK at trust boundaries.
type NIK string

// CardNumber is the 16-digit family card (KK) number. It identifies a card
// lineage and survives mutations even though the card's ContentID changes.
type CardNumber string

// ContentID is the opaque identifier the content store returns for a blob.
type ContentID string

// ApplicationID identifies a life-event application on the ledger.
type ApplicationID uint64

// VillageID identifies a registered village (kalurahan) office.
type VillageID uint64

// ActorID is the caller identity presented to the ledger (a wallet address).
type ActorID string

const identityDigits = 16

// ParseNIK validates a 16-digit national identity number.
func ParseNIK(s string) (NIK, error) {
	if err := parseDigits("nik", s); err != nil {
		return "", err
	}
	return NIK(s), nil
}

// ParseCardNumber validates a 16-digit family card number.
func ParseCardNumber(s string) (CardNumber, error) {
	if err := parseDigits("card number", s); err != nil {
		return "", err
	}
	return CardNumber(s), nil
}

func parseDigits(field, s string) error {
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, field+" must be valid utf-8")
	}
	if len(s) != identityDigits {
		return dErrors.Newf(dErrors.CodeInvalidInput, "%s must have %d digits", field, identityDigits)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return dErrors.Newf(dErrors.CodeInvalidInput, "%s must contain digits only", field)
		}
	}
	return nil
}

// ParseContentID rejects empty or whitespace identifiers.
func ParseContentID(s string) (ContentID, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeEmptyContentID, "content id is required")
	}
	if strings.ContainsAny(s, " \t\r\n/\\") || strings.Contains(s, "..") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "content id contains invalid characters")
	}
	return ContentID(s), nil
}

// ParseApplicationID parses a decimal application id. Zero is never issued.
func ParseApplicationID(s string) (ApplicationID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid application id")
	}
	return ApplicationID(v), nil
}

// ParseVillageID parses a decimal village id. Zero means "no village".
func ParseVillageID(s string) (VillageID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid village id")
	}
	return VillageID(v), nil
}

// ParseActorID normalizes a wallet address. Addresses compare case-insensitively.
func ParseActorID(s string) (ActorID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "actor id is required")
	}
	if len(s) > 128 || !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor id")
	}
	return ActorID(strings.ToLower(s)), nil
}

func (n NIK) String() string        { return string(n) }
func (n NIK) IsNil() bool           { return n == "" }
func (c CardNumber) String() string { return string(c) }
func (c ContentID) String() string  { return string(c) }
func (c ContentID) IsNil() bool     { return c == "" }
func (a ActorID) String() string    { return string(a) }
func (a ActorID) IsNil() bool       { return a == "" }

func (id ApplicationID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id VillageID) String() string     { return strconv.FormatUint(uint64(id), 10) }

// RegionCode returns the 6-digit province/regency/district prefix of a card number.
func (c CardNumber) RegionCode() string {
	if len(c) < 6 {
		return ""
	}
	return string(c[:6])
}
