package validation

import (
	"time"

	"dukcapil/internal/familycard/event"
	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
)

// Temporal rejects future dates, deaths before birth and under-age marriage.
func Temporal(in Input, rules Rules) Result {
	var r Result
	now := in.Now
	switch p := in.Payload.(type) {
	case event.BirthPayload:
		notFuture(&r, "birth: birth date", p.BirthDate, now)
	case event.DeathPayload:
		notFuture(&r, "death: death date", p.DeathDate, now)
		if lc, ok := in.Cards.Of(p.DeceasedNIK); ok {
			if m, found := lc.Card.Member(p.DeceasedNIK); found && !p.DeathDate.IsZero() && p.DeathDate.Before(m.BirthDate.Time) {
				r.failf("death: death date %s is before birth date %s", p.DeathDate, m.BirthDate)
			}
		}
	case event.MarriagePayload:
		notFuture(&r, "marriage: marriage date", p.MarriageDate, now)
		at := marriageReference(p.MarriageDate, now)
		minAge(&r, in, "husband", p.HusbandNIK, at, rules.MinMarriageAge)
		minAge(&r, in, "wife", p.WifeNIK, at, rules.MinMarriageAge)
	case event.DivorcePayload:
		notFuture(&r, "divorce: divorce date", p.DivorceDate, now)
	}
	return r.done()
}

func notFuture(r *Result, field string, d models.Date, now time.Time) {
	if !d.IsZero() && d.After(now) {
		r.failf("%s %s is in the future", field, d)
	}
}

func marriageReference(d models.Date, now time.Time) time.Time {
	if d.IsZero() {
		return now
	}
	return d.Time
}

func minAge(r *Result, in Input, who string, nik id.NIK, at time.Time, limit int) {
	lc, ok := in.Cards.Of(nik)
	if !ok {
		return
	}
	if m, found := lc.Card.Member(nik); found {
		if age := m.BirthDate.AgeAt(at); age < limit {
			r.failf("marriage: %s %s is %d, minimum age is %d", who, nik, age, limit)
		}
	}
}
