package cardgen

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/coolbank/cardflow/internal/expiry"
)

// Credentials are the generated fields of a new card.
type Credentials struct {
	CardNumber     string
	CVV            string
	ExpirationDate time.Time
}

// Generator synthesizes card numbers, CVVs and expiration dates from an
// explicit random source. Results are not unique across calls.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a Generator drawing from src. A fixed-seed source
// makes output deterministic.
func NewGenerator(src rand.Source) *Generator {
	return &Generator{rnd: rand.New(src)}
}

// NewSeededGenerator returns a Generator seeded from crypto/rand.
func NewSeededGenerator() (*Generator, error) {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return NewGenerator(rand.NewSource(int64(binary.BigEndian.Uint64(seed[:])))), nil
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

// CardNumber returns four independent uniform groups 0000-9999 joined by single spaces.
func (g *Generator) CardNumber() string {
	var sb strings.Builder
	sb.Grow(CardNumberLen)
	for i := 0; i < groupCount; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%04d", g.intn(10000))
	}
	return sb.String()
}

// CVV returns a uniform value 000-999.
func (g *Generator) CVV() string {
	return fmt.Sprintf("%03d", g.intn(1000))
}

// ExpirationDate returns the calendar date 1..5 years (uniform) after now.
func (g *Generator) ExpirationDate(now time.Time) time.Time {
	years := expiry.MinYears + g.intn(expiry.MaxYears-expiry.MinYears+1)
	return expiry.AddYears(now, years)
}

// Credentials generates all three fields at once.
func (g *Generator) Credentials(now time.Time) Credentials {
	return Credentials{
		CardNumber:     g.CardNumber(),
		CVV:            g.CVV(),
		ExpirationDate: g.ExpirationDate(now),
	}
}
