// Package cardtest builds family cards for tests.
package cardtest

import (
	"time"

	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// Now is the fixed clock used by card fixtures.
var Now = time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)

// Sleman is a complete address in the 340401 region.
var Sleman = models.Address{
	Street:     "Jl. Kaliurang KM 9",
	RT:         "003",
	RW:         "011",
	Village:    "Sardonoharjo",
	District:   "Ngaglik",
	Regency:    "Sleman",
	Province:   "DI Yogyakarta",
	PostalCode: "55581",
}

// Bantul is a second complete address, used as a move destination.
var Bantul = models.Address{
	Street:     "Jl. Parangtritis KM 5",
	RT:         "001",
	RW:         "004",
	Village:    "Sewon",
	District:   "Sewon",
	Regency:    "Bantul",
	Province:   "DI Yogyakarta",
	PostalCode: "55185",
}

// Person returns a living, single adult with the given identity.
func Person(nik id.NIK, name string, sex models.Sex, born models.Date) models.FamilyMember {
	return models.FamilyMember{
		NIK:           nik,
		Name:          name,
		BirthPlace:    "Sleman",
		BirthDate:     born,
		Sex:           sex,
		Religion:      "Islam",
		Education:     "SMA",
		MaritalStatus: models.MaritalSingle,
		Occupation:    "Wiraswasta",
		FamilyRole:    models.RoleOther,
		Nationality:   "WNI",
	}
}

// As returns m with role and marital status replaced.
func As(m models.FamilyMember, role models.FamilyRole, status models.MaritalStatus) models.FamilyMember {
	m.FamilyRole = role
	m.MaritalStatus = status
	return m
}

// ChildOf returns m as a single child of father and mother.
func ChildOf(m models.FamilyMember, father, mother id.NIK) models.FamilyMember {
	m = As(m, models.RoleChild, models.MaritalSingle)
	m.FatherNIK = father
	m.MotherNIK = mother
	return m
}

// Card assembles a card at addr.
func Card(number id.CardNumber, addr models.Address, members ...models.FamilyMember) *models.FamilyCard {
	return &models.FamilyCard{
		CardNumber: number,
		Address:    addr,
		Members:    members,
		IssuedAt:   Now.AddDate(-5, 0, 0),
	}
}

// Set indexes every member of each loaded card into a CardSet.
func Set(cards ...models.LoadedCard) models.CardSet {
	out := make(models.CardSet)
	for _, lc := range cards {
		for _, m := range lc.Card.Members {
			out[m.NIK] = lc
		}
	}
	return out
}

// Index maps every member of each loaded card to its ContentID.
type Index map[id.NIK]id.ContentID

func (i Index) Lookup(nik id.NIK) (id.ContentID, bool) {
	cid, ok := i[nik]
	return cid, ok
}

// IndexOf builds an Index covering cards.
func IndexOf(cards ...models.LoadedCard) Index {
	out := make(Index)
	for _, lc := range cards {
		for _, m := range lc.Card.Members {
			out[m.NIK] = lc.ContentID
		}
	}
	return out
}

// Well-known NIKs of the Santoso household fixture.
const (
	SantosoCard id.CardNumber = "3404012005100001"
	BudiNIK     id.NIK        = "3404011203850001"
	SitiNIK     id.NIK        = "3404014508880002"
	AgusNIK     id.NIK        = "3404010102100003"
	DewiNIK     id.NIK        = "3404014403140004"
	WijayaCard  id.CardNumber = "3404011506120005"
	RahmatNIK   id.NIK        = "3404010707950005"
	RatnaNIK    id.NIK        = "3404015809970006"
	HendraNIK   id.NIK        = "3404012002600007"
)

// Santoso is a married couple with two children: Budi (head), Siti
// (spouse), Agus (son, 16) and Dewi (daughter, 12).
func Santoso() *models.FamilyCard {
	budi := As(Person(BudiNIK, "Budi Santoso", models.SexMale, models.NewDate(1985, time.March, 12)), models.RoleHeadOfFamily, models.MaritalMarried)
	siti := As(Person(SitiNIK, "Siti Aminah", models.SexFemale, models.NewDate(1988, time.August, 5)), models.RoleSpouse, models.MaritalMarried)
	agus := ChildOf(Person(AgusNIK, "Agus Santoso", models.SexMale, models.NewDate(2010, time.February, 1)), BudiNIK, SitiNIK)
	dewi := ChildOf(Person(DewiNIK, "Dewi Santoso", models.SexFemale, models.NewDate(2014, time.March, 4)), BudiNIK, SitiNIK)
	return Card(SantosoCard, Sleman, budi, siti, agus, dewi)
}

// Wijaya holds two unrelated single adults, Rahmat (head) and his sister
// Ratna, plus their widowed father Hendra.
func Wijaya() *models.FamilyCard {
	rahmat := As(Person(RahmatNIK, "Rahmat Wijaya", models.SexMale, models.NewDate(1995, time.July, 7)), models.RoleHeadOfFamily, models.MaritalSingle)
	ratna := As(Person(RatnaNIK, "Ratna Wijaya", models.SexFemale, models.NewDate(1997, time.September, 18)), models.RoleOther, models.MaritalSingle)
	hendra := As(Person(HendraNIK, "Hendra Wijaya", models.SexMale, models.NewDate(1960, time.February, 20)), models.RoleParent, models.MaritalWidowed)
	return Card(WijayaCard, Bantul, rahmat, ratna, hendra)
}
