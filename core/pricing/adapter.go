package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"dropmarket/observability/metrics"
)

// NativeDecimals is the number of decimals of the native payment unit.
const NativeDecimals = 18

// Converter turns fiat cents into payment-asset base units.
type Converter interface {
	Convert(cents *big.Int) *big.Int
}

// Rate is a resolved oracle round. Conversion is
//
//	native = cents × 10^(NativeDecimals + FeedDecimals − 2) / Answer
//
// so the only precision loss is the final integer division.
type Rate struct {
	RoundID      *big.Int
	Answer       *big.Int
	FeedDecimals uint8
}

// Convert implements Converter.
func (r Rate) Convert(cents *big.Int) *big.Int {
	if cents == nil || cents.Sign() <= 0 || r.Answer == nil || r.Answer.Sign() <= 0 {
		return big.NewInt(0)
	}
	exp := int64(NativeDecimals) + int64(r.FeedDecimals) - 2
	num := new(big.Int).Mul(cents, new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
	return num.Quo(num, r.Answer)
}

// TokenRate converts cents into units of a USD-pegged token with the given
// decimals: units = cents × 10^Decimals / 100.
type TokenRate struct {
	Decimals uint8
}

// Convert implements Converter.
func (t TokenRate) Convert(cents *big.Int) *big.Int {
	if cents == nil || cents.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(cents, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil))
	return num.Quo(num, big.NewInt(100))
}

// Adapter resolves rounds from a feed and enforces the heartbeat window.
type Adapter struct {
	feed      RoundFeed
	mu        sync.RWMutex
	heartbeat time.Duration
	nowFn     func() time.Time
}

// NewAdapter wires a feed into an adapter. A zero heartbeat disables the
// staleness check.
func NewAdapter(feed RoundFeed, heartbeat time.Duration) *Adapter {
	return &Adapter{feed: feed, heartbeat: heartbeat, nowFn: time.Now}
}

// SetHeartbeat updates the maximum accepted round age.
func (a *Adapter) SetHeartbeat(d time.Duration) {
	a.mu.Lock()
	a.heartbeat = d
	a.mu.Unlock()
}

// SetNowFunc overrides the clock used for staleness checks.
func (a *Adapter) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.mu.Lock()
	a.nowFn = now
	a.mu.Unlock()
}

// Resolve fetches the round and validates it against the heartbeat.
func (a *Adapter) Resolve(ctx context.Context, roundID *big.Int) (Rate, error) {
	rate, age, err := a.resolve(ctx, roundID)
	if err != nil {
		metrics.Oracle().RecordUnavailable()
		return Rate{}, err
	}
	metrics.Oracle().RecordResolved(roundID, age)
	return rate, nil
}

func (a *Adapter) resolve(ctx context.Context, roundID *big.Int) (Rate, time.Duration, error) {
	if a == nil || a.feed == nil {
		return Rate{}, 0, fmt.Errorf("%w: feed not configured", ErrPriceUnavailable)
	}
	if roundID == nil || roundID.Sign() < 0 {
		return Rate{}, 0, fmt.Errorf("%w: round id required", ErrPriceUnavailable)
	}
	decimals, err := a.feed.Decimals(ctx)
	if err != nil {
		return Rate{}, 0, fmt.Errorf("%w: decimals: %v", ErrPriceUnavailable, err)
	}
	round, err := a.feed.RoundData(ctx, roundID)
	if err != nil {
		return Rate{}, 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return Rate{}, 0, fmt.Errorf("%w: round %s has no positive answer", ErrPriceUnavailable, roundID)
	}
	a.mu.RLock()
	heartbeat, now := a.heartbeat, a.nowFn()
	a.mu.RUnlock()
	var age time.Duration
	if !round.UpdatedAt.IsZero() {
		age = now.Sub(round.UpdatedAt)
	}
	if heartbeat > 0 {
		if round.UpdatedAt.IsZero() || age > heartbeat {
			return Rate{}, 0, fmt.Errorf("%w: round %s is stale", ErrPriceUnavailable, roundID)
		}
	}
	return Rate{RoundID: new(big.Int).Set(roundID), Answer: new(big.Int).Set(round.Answer), FeedDecimals: decimals}, age, nil
}
