package coupon

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dropmarket/core/events"
	"dropmarket/core/state"
	"dropmarket/storage"
)

var (
	producer = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

func newTestRegistry(t *testing.T) (*Registry, *events.Recorder) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	require.NoError(t, mgr.Begin())
	reg := NewRegistry()
	reg.SetState(mgr)
	rec := &events.Recorder{}
	reg.SetEmitter(rec)
	return reg, rec
}

func TestAddCouponRejectsDuplicates(t *testing.T) {
	reg, _ := newTestRegistry(t)
	hash := HashSecret([]byte("spring-sale"))
	require.NoError(t, reg.AddCoupon(producer, hash, true, 1000))
	err := reg.AddCoupon(stranger, hash, false, 5)
	require.ErrorIs(t, err, ErrCouponAlreadyAdded)

	record, ok, err := reg.Coupon(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, producer, record.Producer)
	require.True(t, record.IsPercentage)
}

func TestAddCouponValidatesValue(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.AddCoupon(producer, HashSecret([]byte("a")), true, MaxPercentage+1)
	require.ErrorIs(t, err, ErrInvalidValue)
	err = reg.AddCoupon(producer, HashSecret([]byte("b")), false, 0)
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestRemoveCouponOnlyByProducer(t *testing.T) {
	reg, rec := newTestRegistry(t)
	hash := HashSecret([]byte("secret"))
	require.NoError(t, reg.AddCoupon(producer, hash, false, 100))

	require.ErrorIs(t, reg.RemoveCoupon(stranger, hash), ErrAccessDenied)
	require.NoError(t, reg.RemoveCoupon(producer, hash))
	_, ok, err := reg.Coupon(hash)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, reg.RemoveCoupon(producer, hash), ErrCouponNotFound)

	// A reset record can be registered again.
	require.NoError(t, reg.AddCoupon(stranger, hash, false, 50))
	require.Equal(t, []string{EventTypeCouponAdded, EventTypeCouponRemoved, EventTypeCouponAdded}, rec.Types())
}

func TestValidateAndRedeem(t *testing.T) {
	reg, _ := newTestRegistry(t)
	secret := []byte("launch-day")
	hash := HashSecret(secret)
	require.NoError(t, reg.AddCoupon(producer, hash, true, 2500))

	none, err := reg.Validate(Proof{})
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = reg.Validate(Proof{Provided: true, SecretHash: hash, Payload: []byte("wrong")})
	require.ErrorIs(t, err, ErrInvalidCouponProof)
	_, err = reg.Validate(Proof{Provided: true, SecretHash: HashSecret([]byte("x")), Payload: []byte("x")})
	require.ErrorIs(t, err, ErrInvalidCouponProof)

	proof := Proof{Provided: true, SecretHash: hash, Payload: secret}
	record, err := reg.Redeem(proof)
	require.NoError(t, err)
	require.Equal(t, uint64(2500), record.Value)

	if _, err := reg.Redeem(proof); !errors.Is(err, ErrCouponAlreadyUsed) {
		t.Fatalf("expected ErrCouponAlreadyUsed, got %v", err)
	}
}

type allowAll struct{}

func (allowAll) Verify(common.Hash, []byte) bool { return true }

func TestCustomVerifier(t *testing.T) {
	reg, _ := newTestRegistry(t)
	hash := HashSecret([]byte("zk"))
	require.NoError(t, reg.AddCoupon(producer, hash, false, 10))
	reg.SetVerifier(allowAll{})
	record, err := reg.Validate(Proof{Provided: true, SecretHash: hash, Payload: []byte("opaque-proof")})
	require.NoError(t, err)
	require.Equal(t, producer, record.Producer)
}

func TestDiscount(t *testing.T) {
	pct := &Coupon{IsPercentage: true, Value: 1000, Producer: producer}
	if got := pct.Discount(250); got != 25 {
		t.Fatalf("percentage discount = %d, want 25", got)
	}
	fixed := &Coupon{Value: 300, Producer: producer}
	if got := fixed.Discount(200); got != 200 {
		t.Fatalf("fixed discount should clamp at line price, got %d", got)
	}
	if got := (&Coupon{Value: 300}).Discount(200); got != 0 {
		t.Fatalf("inactive coupon discount = %d", got)
	}
}
