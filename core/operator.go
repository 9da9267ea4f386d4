package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	marketerrors "dropmarket/core/errors"
	"dropmarket/core/events"
	"dropmarket/core/pricing"
	"dropmarket/core/state"
	"dropmarket/core/types"
	"dropmarket/native/affiliate"
	"dropmarket/native/assets"
	"dropmarket/native/bank"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
	"dropmarket/native/settlement"
	"dropmarket/observability"
	"dropmarket/observability/logging"
	"dropmarket/storage"
)

// DefaultFeeBps is the platform fee applied until the owner changes it.
const DefaultFeeBps uint64 = 100

const (
	EventTypeFeeUpdated        = "market.fee.updated"
	EventTypeHeartbeatUpdated  = "market.heartbeat.updated"
	EventTypeOwnershipTransfer = "market.owner.transferred"
	EventTypeTreasuryUpdated   = "market.treasury.updated"
	EventTypeFunded            = "market.funded"
)

var (
	ownerKey     = []byte("market/owner")
	treasuryKey  = []byte("market/treasury")
	feeKey       = []byte("market/fee-bps")
	heartbeatKey = []byte("market/heartbeat-seconds")
)

// Options configures a new Operator. Owner, Treasury, FeeBps and Heartbeat
// seed the admin state of an empty database only; persisted values win.
type Options struct {
	Owner     common.Address
	Treasury  common.Address
	FeeBps    *uint64
	Heartbeat time.Duration

	// Feed resolves price rounds. When nil a manual feed with 8 decimals is used.
	Feed pricing.RoundFeed
	// Caller inspects ERC20 contracts admitted by AddERC20Contract.
	Caller   assets.ContractCaller
	Verifier coupon.Verifier
	Emitter  events.Emitter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Operator is the serialized transaction facade of the market. Every
// mutation runs in its own state transaction; events are released to the
// emitter only once the transaction commits.
type Operator struct {
	mu sync.RWMutex

	state      *state.Manager
	catalog    *catalog.Engine
	requests   *affiliate.Ledger
	coupons    *coupon.Registry
	assets     *assets.Registry
	bank       *bank.Ledger
	settlement *settlement.Engine

	adapter *pricing.Adapter
	manual  *pricing.ManualFeed
	caller  assets.ContractCaller
	now     func() time.Time

	buffer  *events.Buffer
	emitter events.Emitter
	logger  *slog.Logger

	owner     common.Address
	treasury  common.Address
	feeBps    uint64
	heartbeat uint64
}

// NewOperator opens the market over db.
func NewOperator(db storage.Database, opts Options) (*Operator, error) {
	mgr, err := state.NewManager(db)
	if err != nil {
		return nil, err
	}
	feed := opts.Feed
	var manual *pricing.ManualFeed
	if feed == nil {
		manual = pricing.NewManualFeed(8)
		feed = manual
	} else if m, ok := feed.(*pricing.ManualFeed); ok {
		manual = m
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	buffer := &events.Buffer{}
	cat := catalog.NewEngine()
	cat.SetState(mgr)
	cat.SetEmitter(buffer)
	requests := affiliate.NewLedger()
	requests.SetState(mgr)
	requests.SetListings(cat)
	requests.SetEmitter(buffer)
	coupons := coupon.NewRegistry()
	coupons.SetState(mgr)
	coupons.SetVerifier(opts.Verifier)
	coupons.SetEmitter(buffer)
	allowList := assets.NewRegistry()
	allowList.SetState(mgr)
	allowList.SetEmitter(buffer)
	ledger := bank.NewLedger(mgr)
	settle := settlement.NewEngine(cat, requests, coupons, allowList, ledger)
	settle.SetState(mgr)
	settle.SetEmitter(buffer)

	adapter := pricing.NewAdapter(feed, opts.Heartbeat)
	adapter.SetNowFunc(now)

	op := &Operator{
		state:      mgr,
		catalog:    cat,
		requests:   requests,
		coupons:    coupons,
		assets:     allowList,
		bank:       ledger,
		settlement: settle,
		adapter:    adapter,
		manual:     manual,
		caller:     opts.Caller,
		now:        now,
		buffer:     buffer,
		emitter:    emitter,
		logger:     logger.With("component", "operator"),
	}
	if err := op.loadAdmin(opts); err != nil {
		return nil, err
	}
	return op, nil
}

func (o *Operator) loadAdmin(opts Options) error {
	var owner common.Address
	seeded, err := o.state.KVGet(ownerKey, &owner)
	if err != nil {
		return err
	}
	if !seeded {
		if (opts.Owner == common.Address{}) {
			return fmt.Errorf("operator: %w: owner", marketerrors.ErrInvalidAddress)
		}
		fee := DefaultFeeBps
		if opts.FeeBps != nil {
			fee = *opts.FeeBps
		}
		if fee > catalog.MaxBps {
			return marketerrors.ErrInvalidFee
		}
		treasury := opts.Treasury
		if (treasury == common.Address{}) {
			treasury = opts.Owner
		}
		err := o.execute("genesis", func() error {
			if err := o.state.KVPut(ownerKey, opts.Owner); err != nil {
				return err
			}
			if err := o.state.KVPut(treasuryKey, treasury); err != nil {
				return err
			}
			if err := o.state.KVPut(feeKey, fee); err != nil {
				return err
			}
			return o.state.KVPut(heartbeatKey, uint64(opts.Heartbeat/time.Second))
		})
		if err != nil {
			return err
		}
	}
	return o.refreshAdmin()
}

// refreshAdmin reloads the committed admin state into the engines.
func (o *Operator) refreshAdmin() error {
	var (
		owner, treasury common.Address
		fee, heartbeat  uint64
	)
	for _, entry := range []struct {
		key []byte
		out interface{}
	}{
		{ownerKey, &owner},
		{treasuryKey, &treasury},
		{feeKey, &fee},
		{heartbeatKey, &heartbeat},
	} {
		if _, err := o.state.KVGet(entry.key, entry.out); err != nil {
			return fmt.Errorf("operator: load admin state: %w", err)
		}
	}
	o.owner, o.treasury, o.feeBps, o.heartbeat = owner, treasury, fee, heartbeat
	o.settlement.SetConfig(settlement.Config{FeeBps: fee, Treasury: treasury})
	o.adapter.SetHeartbeat(time.Duration(heartbeat) * time.Second)
	return nil
}

// execute runs fn inside a state transaction. Callers hold o.mu.
func (o *Operator) execute(operation string, fn func() error) error {
	start := time.Now()
	if err := o.state.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		o.state.Revert()
		o.buffer.Discard()
		observability.Operator().Observe(operation, false, time.Since(start))
		o.logger.Debug("operation reverted", slog.String("operation", operation), slog.Any("error", err))
		return err
	}
	if err := o.state.Commit(); err != nil {
		o.buffer.Discard()
		observability.Operator().Observe(operation, false, time.Since(start))
		o.logger.Error("commit failed", slog.String("operation", operation), slog.Any("error", err))
		return err
	}
	o.buffer.Flush(o.emitter)
	observability.Operator().Observe(operation, true, time.Since(start))
	if o.logger.Enabled(context.Background(), slog.LevelDebug) {
		o.logger.Debug("operation committed",
			slog.String("operation", operation),
			slog.String("root", o.state.Root().Hex()),
		)
	}
	return nil
}

func (o *Operator) mutate(operation string, fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.execute(operation, fn)
}

func (o *Operator) requireOwner(caller common.Address) error {
	if caller != o.owner {
		return fmt.Errorf("%w: %s is not the owner", marketerrors.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (o *Operator) adminMutation(operation string, caller common.Address, fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		observability.Operator().Observe(operation, false, 0)
		return err
	}
	if err := o.execute(operation, fn); err != nil {
		return err
	}
	return o.refreshAdmin()
}

// Mint issues quantity units of the product to caller. The caller is the
// listing owner; a zero issuer defaults to the caller.
func (o *Operator) Mint(caller common.Address, params catalog.MintParams) (uint64, error) {
	if (params.Owner == common.Address{}) {
		params.Owner = caller
	}
	if params.Owner != caller {
		return 0, fmt.Errorf("%w: mint owner must be the caller", marketerrors.ErrUnauthorized)
	}
	if (params.Issuer == common.Address{}) {
		params.Issuer = caller
	}
	var tokenID uint64
	err := o.mutate("mint", func() error {
		var err error
		tokenID, err = o.catalog.Mint(params)
		return err
	})
	return tokenID, err
}

// SetMetadataAfterPurchase lists units the caller bought.
func (o *Operator) SetMetadataAfterPurchase(caller common.Address, tokenID, price, commissionBps uint64, beneficiaries []catalog.Beneficiary) error {
	return o.mutate("set_metadata_after_purchase", func() error {
		return o.catalog.SetMetadataAfterPurchase(caller, tokenID, price, commissionBps, beneficiaries)
	})
}

// RemoveMetadata removes the caller's listing of tokenID.
func (o *Operator) RemoveMetadata(caller common.Address, tokenID uint64) error {
	return o.mutate("remove_metadata", func() error {
		return o.catalog.RemoveMetadata(caller, tokenID)
	})
}

// TransferUnits moves product units held by caller.
func (o *Operator) TransferUnits(caller, to common.Address, tokenID, qty uint64) error {
	if (to == common.Address{}) {
		return fmt.Errorf("%w: recipient", marketerrors.ErrInvalidAddress)
	}
	return o.mutate("transfer_units", func() error {
		return o.catalog.TransferUnits(caller, to, tokenID, qty)
	})
}

// AddCoupon registers a coupon owned by caller.
func (o *Operator) AddCoupon(caller common.Address, secretHash common.Hash, isPercentage bool, value uint64) error {
	return o.mutate("add_coupon", func() error {
		return o.coupons.AddCoupon(caller, secretHash, isPercentage, value)
	})
}

// RemoveCoupon removes a coupon owned by caller.
func (o *Operator) RemoveCoupon(caller common.Address, secretHash common.Hash) error {
	return o.mutate("remove_coupon", func() error {
		return o.coupons.RemoveCoupon(caller, secretHash)
	})
}

// PublishRequest asks producer to let caller resell tokenID.
func (o *Operator) PublishRequest(caller, producer common.Address, tokenID uint64) (uint64, error) {
	var id uint64
	err := o.mutate("publish_request", func() error {
		var err error
		id, err = o.requests.PublishRequest(caller, producer, tokenID)
		return err
	})
	return id, err
}

// CancelRequest withdraws a request published by caller.
func (o *Operator) CancelRequest(caller common.Address, id uint64) error {
	return o.mutate("cancel_request", func() error {
		return o.requests.CancelRequest(caller, id)
	})
}

// ApproveRequest accepts a request addressed to caller.
func (o *Operator) ApproveRequest(caller common.Address, id uint64) error {
	return o.mutate("approve_request", func() error {
		return o.requests.ApproveRequest(caller, id)
	})
}

// Disapprove revokes acceptance of a request addressed to caller.
func (o *Operator) Disapprove(caller common.Address, id uint64) error {
	return o.mutate("disapprove", func() error {
		return o.requests.Disapprove(caller, id)
	})
}

// AddERC20Contract inspects token and admits it as a payment asset. The check
// runs before the transaction opens.
func (o *Operator) AddERC20Contract(ctx context.Context, caller, token common.Address) (*assets.Asset, error) {
	o.mu.RLock()
	err := o.requireOwner(caller)
	o.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	asset, err := assets.Inspect(ctx, o.caller, token)
	if err != nil {
		return nil, err
	}
	err = o.adminMutation("add_erc20_contract", caller, func() error {
		return o.assets.Add(asset)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("erc20 asset admitted",
		slog.String("asset", asset.Address.Hex()),
		slog.String("symbol", asset.Symbol),
		slog.Int("decimals", int(asset.Decimals)),
	)
	return asset, nil
}

// RemoveERC20Contract revokes an admitted payment asset.
func (o *Operator) RemoveERC20Contract(caller, token common.Address) error {
	return o.adminMutation("remove_erc20_contract", caller, func() error {
		return o.assets.Remove(token)
	})
}

// SetFee updates the platform fee in basis points.
func (o *Operator) SetFee(caller common.Address, bps uint64) error {
	if bps > catalog.MaxBps {
		return marketerrors.ErrInvalidFee
	}
	return o.adminMutation("set_fee", caller, func() error {
		if err := o.state.KVPut(feeKey, bps); err != nil {
			return err
		}
		o.buffer.Emit(types.NewEvent(EventTypeFeeUpdated, "feeBps", fmt.Sprintf("%d", bps)))
		return nil
	})
}

// SetHeartBeat updates the maximum accepted price-round age. Zero disables
// the staleness check.
func (o *Operator) SetHeartBeat(caller common.Address, seconds uint64) error {
	return o.adminMutation("set_heartbeat", caller, func() error {
		if err := o.state.KVPut(heartbeatKey, seconds); err != nil {
			return err
		}
		o.buffer.Emit(types.NewEvent(EventTypeHeartbeatUpdated, "seconds", fmt.Sprintf("%d", seconds)))
		return nil
	})
}

// SetTreasury changes the fee recipient.
func (o *Operator) SetTreasury(caller, treasury common.Address) error {
	if (treasury == common.Address{}) {
		return fmt.Errorf("%w: treasury", marketerrors.ErrInvalidAddress)
	}
	return o.adminMutation("set_treasury", caller, func() error {
		if err := o.state.KVPut(treasuryKey, treasury); err != nil {
			return err
		}
		o.buffer.Emit(types.NewEvent(EventTypeTreasuryUpdated, "treasury", treasury.Hex()))
		return nil
	})
}

// TransferOwnership hands the admin role to next.
func (o *Operator) TransferOwnership(caller, next common.Address) error {
	if (next == common.Address{}) {
		return fmt.Errorf("%w: owner", marketerrors.ErrInvalidAddress)
	}
	return o.adminMutation("transfer_ownership", caller, func() error {
		if err := o.state.KVPut(ownerKey, next); err != nil {
			return err
		}
		o.buffer.Emit(types.NewEvent(EventTypeOwnershipTransfer, "from", caller.Hex(), "to", next.Hex()))
		return nil
	})
}

// Fund credits payment balances. It stands in for deposits bridged from the
// external asset ledger.
func (o *Operator) Fund(caller, asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return marketerrors.ErrInvalidAmount
	}
	return o.adminMutation("fund", caller, func() error {
		if asset != bank.Native {
			if _, ok, err := o.assets.Asset(asset); err != nil {
				return err
			} else if !ok {
				return assets.ErrAssetNotAllowed
			}
		}
		if err := o.bank.Credit(asset, holder, amount); err != nil {
			return err
		}
		o.buffer.Emit(types.NewEvent(EventTypeFunded, "asset", asset.Hex(), "holder", holder.Hex(), "amount", amount.String()))
		return nil
	})
}

// PublishRound records an operator-published price. Answers use the manual
// feed's decimals.
func (o *Operator) PublishRound(caller common.Address, answer *big.Int) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.requireOwner(caller); err != nil {
		return 0, err
	}
	if o.manual == nil {
		return 0, marketerrors.ErrManualFeedAbsent
	}
	id, err := o.manual.Publish(answer, o.now())
	if err != nil {
		return 0, err
	}
	o.logger.Info("price round published", slog.Uint64("round", id), slog.String("answer", answer.String()))
	return id, nil
}

func (o *Operator) nativeRate(ctx context.Context, req *settlement.PurchaseRequest) (pricing.Converter, error) {
	if req.Asset != bank.Native {
		return nil, nil
	}
	rate, err := o.adapter.Resolve(ctx, req.RoundID)
	if err != nil {
		return nil, err
	}
	return rate, nil
}

func purchaseFailure(err error) string {
	switch {
	case errors.Is(err, pricing.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, settlement.ErrPaymentMismatch):
		return "payment_mismatch"
	case errors.Is(err, settlement.ErrAffiliateNotApproved):
		return "affiliate_not_approved"
	case errors.Is(err, bank.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, catalog.ErrInsufficientSupply):
		return "insufficient_supply"
	default:
		return "rejected"
	}
}

// Purchase settles req. A failed purchase leaves every balance unchanged.
func (o *Operator) Purchase(ctx context.Context, req *settlement.PurchaseRequest) (*settlement.Receipt, error) {
	if req == nil {
		return nil, settlement.ErrEmptyPurchase
	}
	native := req.Asset == bank.Native
	rate, err := o.nativeRate(ctx, req)
	if err != nil {
		observability.Settlement().RecordPurchase(native, purchaseFailure(err))
		return nil, err
	}
	var receipt *settlement.Receipt
	err = o.mutate("purchase", func() error {
		var err error
		receipt, err = o.settlement.Purchase(req, rate)
		return err
	})
	if err != nil {
		observability.Settlement().RecordPurchase(native, purchaseFailure(err))
		return nil, err
	}
	metrics := observability.Settlement()
	metrics.RecordPurchase(native, "")
	metrics.RecordItems(len(receipt.Lines))
	for _, p := range receipt.Payouts {
		metrics.RecordPayout(string(p.Kind))
	}
	o.logger.Info("purchase settled",
		slog.Uint64("receipt", receipt.ID),
		slog.String("asset", receipt.Asset.Hex()),
		slog.String("total", receipt.Total.String()),
		logging.MaskField("memo", receipt.Memo),
	)
	return receipt, nil
}

// Quote computes the settlement plan of req without changing state.
func (o *Operator) Quote(ctx context.Context, req *settlement.PurchaseRequest) (*settlement.Plan, error) {
	if req == nil {
		return nil, settlement.ErrEmptyPurchase
	}
	rate, err := o.nativeRate(ctx, req)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.state.Begin(); err != nil {
		return nil, err
	}
	defer func() {
		o.state.Revert()
		o.buffer.Discard()
	}()
	return o.settlement.Quote(req, rate)
}
