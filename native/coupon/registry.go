package coupon

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dropmarket/core/events"
	"dropmarket/core/types"
)

// MaxPercentage is the basis-point ceiling of a percentage coupon.
const MaxPercentage = 10_000

const (
	EventTypeCouponAdded    = "coupon.added"
	EventTypeCouponRemoved  = "coupon.removed"
	EventTypeCouponRedeemed = "coupon.redeemed"
)

var (
	ErrCouponAlreadyAdded = errors.New("coupon: already added")
	ErrCouponNotFound     = errors.New("coupon: not found")
	ErrAccessDenied       = errors.New("coupon: access denied")
	ErrInvalidCouponProof = errors.New("coupon: invalid proof")
	ErrCouponAlreadyUsed  = errors.New("coupon: proof already redeemed")
	ErrInvalidValue       = errors.New("coupon: invalid value")
	errNilState           = errors.New("coupon: state not configured")
)

var (
	couponPrefix    = []byte("coupon/record/")
	nullifierPrefix = []byte("coupon/nullifier/")
)

// Coupon is a producer-owned discount committed to by the hash of its secret.
type Coupon struct {
	SecretHash   common.Hash    `json:"secretHash"`
	IsPercentage bool           `json:"isPercentage"`
	Value        uint64         `json:"value"`
	Producer     common.Address `json:"producer"`
}

// Active reports whether the record holds a live coupon. Removed coupons are
// stored as zero records.
func (c *Coupon) Active() bool {
	return c != nil && (c.Producer != common.Address{})
}

// Proof is the buyer-supplied attestation of a coupon secret.
type Proof struct {
	Provided   bool        `json:"provided"`
	SecretHash common.Hash `json:"secretHash"`
	Payload    []byte      `json:"payload"`
}

// Nullifier identifies a redeemed proof.
func (p Proof) Nullifier() common.Hash {
	return ethcrypto.Keccak256Hash(p.SecretHash.Bytes(), p.Payload)
}

// Verifier decides whether payload attests knowledge of the secret behind hash.
type Verifier interface {
	Verify(secretHash common.Hash, payload []byte) bool
}

// PreimageVerifier accepts payloads whose keccak256 digest equals the hash.
type PreimageVerifier struct{}

// Verify implements Verifier.
func (PreimageVerifier) Verify(secretHash common.Hash, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return bytes.Equal(ethcrypto.Keccak256(payload), secretHash.Bytes())
}

// HashSecret derives the commitment stored for a coupon secret.
func HashSecret(secret []byte) common.Hash {
	return ethcrypto.Keccak256Hash(secret)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Registry stores coupons and the nullifiers of redeemed proofs.
type Registry struct {
	state    engineState
	verifier Verifier
	emitter  events.Emitter
}

// NewRegistry constructs a registry using the preimage verifier.
func NewRegistry() *Registry {
	return &Registry{verifier: PreimageVerifier{}, emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state engineState) { r.state = state }

// SetVerifier replaces the proof verifier. Nil restores the preimage verifier.
func (r *Registry) SetVerifier(v Verifier) {
	if v == nil {
		v = PreimageVerifier{}
	}
	r.verifier = v
}

// SetEmitter configures the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt *types.Event) {
	if r.emitter != nil {
		r.emitter.Emit(evt)
	}
}

func recordKey(hash common.Hash) []byte {
	return append(append([]byte{}, couponPrefix...), hash.Bytes()...)
}

func nullifierKey(n common.Hash) []byte {
	return append(append([]byte{}, nullifierPrefix...), n.Bytes()...)
}

// Coupon returns the record stored under hash. Removed coupons are reported
// as absent.
func (r *Registry) Coupon(hash common.Hash) (*Coupon, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	record := new(Coupon)
	ok, err := r.state.KVGet(recordKey(hash), record)
	if err != nil || !ok || !record.Active() {
		return nil, false, err
	}
	return record, true, nil
}

// AddCoupon registers a coupon owned by producer.
func (r *Registry) AddCoupon(producer common.Address, hash common.Hash, isPercentage bool, value uint64) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if (producer == common.Address{}) {
		return fmt.Errorf("%w: producer required", ErrAccessDenied)
	}
	if isPercentage && value > MaxPercentage {
		return fmt.Errorf("%w: percentage %d exceeds %d", ErrInvalidValue, value, MaxPercentage)
	}
	if value == 0 {
		return fmt.Errorf("%w: value must be positive", ErrInvalidValue)
	}
	if _, exists, err := r.Coupon(hash); err != nil {
		return err
	} else if exists {
		return ErrCouponAlreadyAdded
	}
	record := &Coupon{SecretHash: hash, IsPercentage: isPercentage, Value: value, Producer: producer}
	if err := r.state.KVPut(recordKey(hash), record); err != nil {
		return err
	}
	r.emit(types.NewEvent(EventTypeCouponAdded, "hash", hash.Hex(), "producer", producer.Hex()))
	return nil
}

// RemoveCoupon resets the coupon to the zero record. Only its producer may
// remove it.
func (r *Registry) RemoveCoupon(caller common.Address, hash common.Hash) error {
	record, ok, err := r.Coupon(hash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCouponNotFound
	}
	if record.Producer != caller {
		return ErrAccessDenied
	}
	if err := r.state.KVPut(recordKey(hash), &Coupon{}); err != nil {
		return err
	}
	r.emit(types.NewEvent(EventTypeCouponRemoved, "hash", hash.Hex(), "producer", caller.Hex()))
	return nil
}

// Validate resolves the coupon attested by proof. A proof that was not
// provided yields no coupon and no error.
func (r *Registry) Validate(proof Proof) (*Coupon, error) {
	if !proof.Provided {
		return nil, nil
	}
	record, ok, err := r.Coupon(proof.SecretHash)
	if err != nil {
		return nil, err
	}
	if !ok || !r.verifier.Verify(proof.SecretHash, proof.Payload) {
		return nil, ErrInvalidCouponProof
	}
	used, err := r.state.KVGet(nullifierKey(proof.Nullifier()), nil)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrCouponAlreadyUsed
	}
	return record, nil
}

// Redeem validates proof and records its nullifier so it cannot be replayed.
func (r *Registry) Redeem(proof Proof) (*Coupon, error) {
	record, err := r.Validate(proof)
	if err != nil || record == nil {
		return record, err
	}
	nullifier := proof.Nullifier()
	if err := r.state.KVPut(nullifierKey(nullifier), true); err != nil {
		return nil, err
	}
	r.emit(types.NewEvent(EventTypeCouponRedeemed,
		"hash", proof.SecretHash.Hex(),
		"nullifier", nullifier.Hex(),
		"producer", record.Producer.Hex(),
	))
	return record, nil
}

// Discount returns the cents removed from a line price by the coupon.
// Percentage coupons take bps of the line; fixed coupons are capped at it.
func (c *Coupon) Discount(linePrice uint64) uint64 {
	if !c.Active() {
		return 0
	}
	if c.IsPercentage {
		return mulDiv(linePrice, c.Value, MaxPercentage)
	}
	if c.Value > linePrice {
		return linePrice
	}
	return c.Value
}

func mulDiv(a, b, d uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, d)
	return q
}
