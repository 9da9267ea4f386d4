package assets

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/core/events"
	"dropmarket/core/types"
)

const (
	EventTypeAssetAdded   = "assets.erc20.added"
	EventTypeAssetRemoved = "assets.erc20.removed"
)

var (
	ErrAssetNotAllowed     = errors.New("assets: asset not allowed")
	ErrAssetAlreadyAllowed = errors.New("assets: asset already allowed")
	errNilState            = errors.New("assets: state not configured")
)

var (
	assetPrefix = []byte("assets/erc20/")
	indexKey    = []byte("assets/erc20-index")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Registry is the allow-list of ERC20 payment assets.
type Registry struct {
	state   engineState
	emitter events.Emitter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state engineState) { r.state = state }

// SetEmitter configures the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func assetKey(addr common.Address) []byte {
	return append(append([]byte{}, assetPrefix...), addr.Bytes()...)
}

// Add admits an inspected asset.
func (r *Registry) Add(asset *Asset) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if asset == nil || (asset.Address == common.Address{}) {
		return ErrNotAValidToken
	}
	exists, err := r.state.KVGet(assetKey(asset.Address), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrAssetAlreadyAllowed
	}
	if err := r.state.KVPut(assetKey(asset.Address), asset); err != nil {
		return err
	}
	if err := r.state.KVAppend(indexKey, asset.Address.Bytes()); err != nil {
		return err
	}
	r.emitter.Emit(types.NewEvent(EventTypeAssetAdded, "address", asset.Address.Hex(), "symbol", asset.Symbol))
	return nil
}

// Remove revokes an admitted asset. Balances already held are kept.
func (r *Registry) Remove(addr common.Address) error {
	if _, ok, err := r.Asset(addr); err != nil {
		return err
	} else if !ok {
		return ErrAssetNotAllowed
	}
	if err := r.state.KVDelete(assetKey(addr)); err != nil {
		return err
	}
	if err := r.state.KVRemove(indexKey, addr.Bytes()); err != nil {
		return err
	}
	r.emitter.Emit(types.NewEvent(EventTypeAssetRemoved, "address", addr.Hex()))
	return nil
}

// Asset returns the admitted asset at addr.
func (r *Registry) Asset(addr common.Address) (*Asset, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errNilState
	}
	asset := new(Asset)
	ok, err := r.state.KVGet(assetKey(addr), asset)
	if err != nil || !ok {
		return nil, false, err
	}
	return asset, true, nil
}

// List returns the admitted assets in admission order.
func (r *Registry) List() ([]*Asset, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := r.state.KVGetList(indexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]*Asset, 0, len(raw))
	for _, b := range raw {
		asset, ok, err := r.Asset(common.BytesToAddress(b))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, asset)
		}
	}
	return out, nil
}
