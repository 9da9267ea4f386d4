package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeAggregator struct {
	abi      abi.ABI
	decimals uint8
	rounds   map[string]Round
}

func newFakeAggregator(t *testing.T) *fakeAggregator {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(AggregatorABI))
	require.NoError(t, err)
	return &fakeAggregator{abi: parsed, decimals: 8, rounds: make(map[string]Round)}
}

func (f *fakeAggregator) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, errors.New("no selector")
	}
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "decimals":
		return method.Outputs.Pack(f.decimals)
	case "getRoundData":
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		id := args[0].(*big.Int)
		round, ok := f.rounds[id.String()]
		if !ok {
			zero := big.NewInt(0)
			return method.Outputs.Pack(id, zero, zero, zero, id)
		}
		ts := big.NewInt(round.UpdatedAt.Unix())
		return method.Outputs.Pack(id, round.Answer, ts, ts, id)
	}
	return nil, fmt.Errorf("unexpected method %s", method.Name)
}

func TestChainlinkFeedReadsRounds(t *testing.T) {
	agg := newFakeAggregator(t)
	updated := time.Unix(1_700_000_000, 0).UTC()
	agg.rounds["42"] = Round{ID: big.NewInt(42), Answer: big.NewInt(200_000_000_000), UpdatedAt: updated}

	feed, err := NewChainlinkFeed(agg, common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"))
	require.NoError(t, err)

	decimals, err := feed.Decimals(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(8), decimals)

	round, err := feed.RoundData(context.Background(), big.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, 0, round.ID.Cmp(big.NewInt(42)))
	require.Equal(t, 0, round.Answer.Cmp(big.NewInt(200_000_000_000)))
	require.True(t, round.UpdatedAt.Equal(updated))

	_, err = feed.RoundData(context.Background(), big.NewInt(43))
	require.Error(t, err)
}

func TestChainlinkFeedThroughAdapter(t *testing.T) {
	agg := newFakeAggregator(t)
	now := time.Unix(1_700_000_000, 0)
	agg.rounds["1"] = Round{ID: big.NewInt(1), Answer: big.NewInt(200_000_000_000), UpdatedAt: now.Add(-time.Minute)}
	feed, err := NewChainlinkFeed(agg, common.HexToAddress("0x01"))
	require.NoError(t, err)

	adapter := NewAdapter(feed, time.Hour)
	adapter.SetNowFunc(func() time.Time { return now })
	rate, err := adapter.Resolve(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, 0, rate.Convert(big.NewInt(100)).Cmp(big.NewInt(500_000_000_000_000)))

	_, err = adapter.Resolve(context.Background(), big.NewInt(2))
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestChainlinkFeedAddressesPhasedRounds(t *testing.T) {
	agg := newFakeAggregator(t)
	// phase 3, aggregator round 17
	phased := new(big.Int).Or(new(big.Int).Lsh(big.NewInt(3), 64), big.NewInt(17))
	updated := time.Unix(1_700_000_000, 0).UTC()
	agg.rounds[phased.String()] = Round{ID: phased, Answer: big.NewInt(250_000_000_000), UpdatedAt: updated}
	feed, err := NewChainlinkFeed(agg, common.HexToAddress("0x01"))
	require.NoError(t, err)

	round, err := feed.RoundData(context.Background(), phased)
	require.NoError(t, err)
	require.Equal(t, 0, round.ID.Cmp(phased))
	require.Equal(t, 0, round.Answer.Cmp(big.NewInt(250_000_000_000)))

	tooWide := new(big.Int).Lsh(big.NewInt(1), 80)
	_, err = feed.RoundData(context.Background(), tooWide)
	require.Error(t, err)
}

func TestNewChainlinkFeedValidatesInputs(t *testing.T) {
	_, err := NewChainlinkFeed(nil, common.HexToAddress("0x01"))
	require.Error(t, err)
	_, err = NewChainlinkFeed(newFakeAggregator(t), common.Address{})
	require.Error(t, err)
}
