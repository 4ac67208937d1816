package models

import (
	"sort"
	"time"

	id "dukcapil/pkg/domain"
)

// FamilyRole is a member's position within a household.
type FamilyRole string

const (
	RoleHeadOfFamily FamilyRole = "head_of_family"
	RoleSpouse       FamilyRole = "spouse"
	RoleChild        FamilyRole = "child"
	RoleParent       FamilyRole = "parent"
	RoleInLaw        FamilyRole = "in_law"
	RoleOther        FamilyRole = "other"
)

// Sex markers as recorded on the card.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
)

// MaritalStatus as recorded on the card.
type MaritalStatus string

const (
	MaritalSingle   MaritalStatus = "single"
	MaritalMarried  MaritalStatus = "married"
	MaritalDivorced MaritalStatus = "divorced"
	MaritalWidowed  MaritalStatus = "widowed"
)

// IsUnmarried reports whether a person may enter a marriage.
func (m MaritalStatus) IsUnmarried() bool {
	return m == MaritalSingle || m == MaritalDivorced || m == MaritalWidowed
}

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to a UTC calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AgeAt returns completed years between d and at.
func (d Date) AgeAt(at time.Time) int {
	at = at.UTC()
	years := at.Year() - d.Year()
	if at.Month() < d.Month() || (at.Month() == d.Month() && at.Day() < d.Day()) {
		years--
	}
	return years
}

// Address is the residence recorded on a family card.
type Address struct {
	Street     string `json:"street"`
	RT         string `json:"rt"`
	RW         string `json:"rw"`
	Village    string `json:"village"`
	District   string `json:"district"`
	Regency    string `json:"regency"`
	Province   string `json:"province"`
	PostalCode string `json:"postal_code"`
}

// MissingFields names every empty address sub-field.
func (a Address) MissingFields() []string {
	var missing []string
	fields := []struct {
		name, value string
	}{
		{"street", a.Street}, {"rt", a.RT}, {"rw", a.RW}, {"village", a.Village},
		{"district", a.District}, {"regency", a.Regency}, {"province", a.Province},
		{"postal_code", a.PostalCode},
	}
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// FamilyMember is one person on a card. NIK is the global identity key.
type FamilyMember struct {
	NIK           id.NIK        `json:"nik"`
	Name          string        `json:"name"`
	BirthPlace    string        `json:"birth_place"`
	BirthDate     Date          `json:"birth_date"`
	Sex           Sex           `json:"sex"`
	Religion      string        `json:"religion"`
	Education     string        `json:"education"`
	MaritalStatus MaritalStatus `json:"marital_status"`
	Occupation    string        `json:"occupation"`
	FamilyRole    FamilyRole    `json:"family_role"`
	Nationality   string        `json:"nationality"`
	FatherNIK     id.NIK        `json:"father_nik,omitempty"`
	MotherNIK     id.NIK        `json:"mother_nik,omitempty"`
	WalletRef     id.ActorID    `json:"wallet_ref,omitempty"`
	Deceased      bool          `json:"deceased,omitempty"`
}

// FamilyCard is a household registration document.
//
// Invariants (checked by the structural validation layer, not here):
//   - Members is non-empty
//   - NIKs are unique within the card
//   - exactly one member holds RoleHeadOfFamily
//
// Cards are values: the mutation engine clones before changing anything and a
// persisted card is never modified in place.
type FamilyCard struct {
	CardNumber id.CardNumber  `json:"card_number"`
	Address    Address        `json:"address"`
	Members    []FamilyMember `json:"members"`
	IssuedAt   time.Time      `json:"issued_at"`
}

// Clone returns a deep copy.
func (c *FamilyCard) Clone() *FamilyCard {
	if c == nil {
		return nil
	}
	out := *c
	out.Members = append([]FamilyMember(nil), c.Members...)
	return &out
}

// Member returns the member with nik.
func (c *FamilyCard) Member(nik id.NIK) (FamilyMember, bool) {
	for _, m := range c.Members {
		if m.NIK == nik {
			return m, true
		}
	}
	return FamilyMember{}, false
}

// HasMember reports whether nik is on the card.
func (c *FamilyCard) HasMember(nik id.NIK) bool {
	_, ok := c.Member(nik)
	return ok
}

// Head returns the first member holding RoleHeadOfFamily.
func (c *FamilyCard) Head() (FamilyMember, bool) {
	for _, m := range c.Members {
		if m.FamilyRole == RoleHeadOfFamily {
			return m, true
		}
	}
	return FamilyMember{}, false
}

// NIKs lists member NIKs in card order.
func (c *FamilyCard) NIKs() []id.NIK {
	out := make([]id.NIK, 0, len(c.Members))
	for _, m := range c.Members {
		out = append(out, m.NIK)
	}
	return out
}

// Update applies fn to the member with nik and reports whether it was found.
func (c *FamilyCard) Update(nik id.NIK, fn func(*FamilyMember)) bool {
	for i := range c.Members {
		if c.Members[i].NIK == nik {
			fn(&c.Members[i])
			return true
		}
	}
	return false
}

// Remove drops the listed members and returns them in card order.
func (c *FamilyCard) Remove(niks ...id.NIK) []FamilyMember {
	drop := make(map[id.NIK]struct{}, len(niks))
	for _, n := range niks {
		drop[n] = struct{}{}
	}
	kept := c.Members[:0:0]
	var removed []FamilyMember
	for _, m := range c.Members {
		if _, ok := drop[m.NIK]; ok {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, m)
	}
	c.Members = kept
	return removed
}

// ChildrenOf lists members whose recorded father or mother is one of niks.
func (c *FamilyCard) ChildrenOf(niks ...id.NIK) []id.NIK {
	parents := make(map[id.NIK]struct{}, len(niks))
	for _, n := range niks {
		parents[n] = struct{}{}
	}
	var out []id.NIK
	for _, m := range c.Members {
		_, father := parents[m.FatherNIK]
		_, mother := parents[m.MotherNIK]
		if (father && m.FatherNIK != "") || (mother && m.MotherNIK != "") {
			out = append(out, m.NIK)
		}
	}
	return out
}

// LoadedCard is a card together with the ContentID it was read from.
type LoadedCard struct {
	ContentID id.ContentID
	Card      *FamilyCard
}

// CardSet maps a subject NIK to the card currently holding it. Several NIKs
// may share one LoadedCard.
type CardSet map[id.NIK]LoadedCard

// Of returns the card holding nik.
func (s CardSet) Of(nik id.NIK) (LoadedCard, bool) {
	lc, ok := s[nik]
	return lc, ok && lc.Card != nil
}

// Distinct returns each loaded card once, ordered by card number.
func (s CardSet) Distinct() []LoadedCard {
	seen := make(map[id.ContentID]struct{}, len(s))
	out := make([]LoadedCard, 0, len(s))
	for _, lc := range s {
		if lc.Card == nil {
			continue
		}
		if _, ok := seen[lc.ContentID]; ok {
			continue
		}
		seen[lc.ContentID] = struct{}{}
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Card.CardNumber < out[j].Card.CardNumber })
	return out
}
