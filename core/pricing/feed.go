package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ErrPriceUnavailable indicates the requested round is unknown, malformed, or
// older than the configured heartbeat.
var ErrPriceUnavailable = errors.New("pricing: price unavailable")

// Round captures a single oracle observation. Answer is expressed in the
// feed's decimals as USD per whole native unit. Chainlink proxy ids are
// uint80 values (phase<<64 | aggregator round), so ID is a big integer.
type Round struct {
	ID        *big.Int
	Answer    *big.Int
	UpdatedAt time.Time
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	clone := Round{UpdatedAt: r.UpdatedAt}
	if r.ID != nil {
		clone.ID = new(big.Int).Set(r.ID)
	}
	if r.Answer != nil {
		clone.Answer = new(big.Int).Set(r.Answer)
	}
	return clone
}

// RoundFeed resolves historical rounds of a USD price feed.
type RoundFeed interface {
	Decimals(ctx context.Context) (uint8, error)
	RoundData(ctx context.Context, roundID *big.Int) (Round, error)
}

// ManualFeed provides an in-memory feed used for tests and operator-published
// prices.
type ManualFeed struct {
	mu       sync.RWMutex
	decimals uint8
	rounds   map[string]Round
	latest   uint64
}

// NewManualFeed constructs an empty manual feed reporting answers with the
// supplied decimals.
func NewManualFeed(decimals uint8) *ManualFeed {
	return &ManualFeed{decimals: decimals, rounds: make(map[string]Round)}
}

// Decimals implements RoundFeed.
func (m *ManualFeed) Decimals(context.Context) (uint8, error) {
	if m == nil {
		return 0, fmt.Errorf("manual feed not configured")
	}
	return m.decimals, nil
}

// Publish records a new round with the next sequential identifier.
func (m *ManualFeed) Publish(answer *big.Int, updatedAt time.Time) (uint64, error) {
	if m == nil {
		return 0, fmt.Errorf("manual feed not configured")
	}
	if answer == nil || answer.Sign() <= 0 {
		return 0, fmt.Errorf("manual feed: answer must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest++
	id := new(big.Int).SetUint64(m.latest)
	m.rounds[id.String()] = Round{ID: id, Answer: new(big.Int).Set(answer), UpdatedAt: updatedAt}
	return m.latest, nil
}

// Set stores a round under an explicit identifier. Publish keeps numbering
// from the highest id that fits in 64 bits.
func (m *ManualFeed) Set(round Round) {
	if m == nil || round.ID == nil || round.ID.Sign() < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[round.ID.String()] = round.Clone()
	if round.ID.IsUint64() && round.ID.Uint64() > m.latest {
		m.latest = round.ID.Uint64()
	}
}

// Latest returns the identifier of the most recent round.
func (m *ManualFeed) Latest() uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// RoundData implements RoundFeed.
func (m *ManualFeed) RoundData(_ context.Context, roundID *big.Int) (Round, error) {
	if m == nil {
		return Round{}, fmt.Errorf("manual feed not configured")
	}
	if roundID == nil {
		return Round{}, fmt.Errorf("manual feed: round id required")
	}
	m.mu.RLock()
	round, ok := m.rounds[roundID.String()]
	m.mu.RUnlock()
	if !ok {
		return Round{}, fmt.Errorf("manual feed: round %s not found", roundID)
	}
	return round.Clone(), nil
}
