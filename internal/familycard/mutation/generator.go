package mutation

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"dukcapil/internal/familycard/models"
	id "dukcapil/pkg/domain"
	dErrors "dukcapil/pkg/domain-errors"
)

const maxGenerateAttempts = 100

// Generator derives NIKs and card numbers:
//
//	region (6) | DDMMYY (6, day+40 for women on NIKs) | sequence (4)
//
// The sequence is random and redrawn until the result is unused.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator seeds from src; a nil src draws a random seed.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rnd: rand.New(src)}
}

// NIK derives a personal number for someone born in region.
func (g *Generator) NIK(region string, born models.Date, sex models.Sex, taken func(id.NIK) bool) (id.NIK, error) {
	day := born.Day()
	if sex == models.SexFemale {
		day += 40
	}
	prefix := fmt.Sprintf("%s%02d%02d%02d", region, day, int(born.Month()), born.Year()%100)
	s, err := g.draw(prefix, func(s string) bool { return taken(id.NIK(s)) })
	return id.NIK(s), err
}

// CardNumber derives a card number issued in region at issued.
func (g *Generator) CardNumber(region string, issued time.Time, taken func(id.CardNumber) bool) (id.CardNumber, error) {
	prefix := fmt.Sprintf("%s%02d%02d%02d", region, issued.Day(), int(issued.Month()), issued.Year()%100)
	s, err := g.draw(prefix, func(s string) bool { return taken(id.CardNumber(s)) })
	return id.CardNumber(s), err
}

func (g *Generator) draw(prefix string, taken func(string) bool) (string, error) {
	if len(prefix) != 12 {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "cannot derive number from prefix %q", prefix)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for range maxGenerateAttempts {
		candidate := fmt.Sprintf("%s%04d", prefix, 1+g.rnd.IntN(9999))
		if !taken(candidate) {
			return candidate, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeConflict, "no free sequence for prefix %s", prefix)
}
