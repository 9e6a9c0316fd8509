package otc

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"otcdesk/core/events"
	"otcdesk/core/types"
)

// engineState is the persistence surface the settlement engine requires. The
// state package provides the production implementation backed by the key-value
// store; tests supply an in-memory double.
type engineState interface {
	InventoryState
	IndexState

	DeskGet() (*Desk, bool, error)
	DeskPut(*Desk) error

	TokenGet(symbol string) (*TokenRegistration, bool, error)
	TokenPut(*TokenRegistration) error

	ConsignmentGet(id uint64) (*Consignment, bool, error)
	ConsignmentPut(*Consignment) error

	OfferPut(*Offer) error
	BeneficiaryOffersGet(addr [20]byte) ([]uint64, error)
	BeneficiaryOffersPut(addr [20]byte, ids []uint64) error

	Account(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

const (
	defaultOpenOfferCap     = 1000
	defaultCleanupGraceSecs = 1800
	defaultMaxPriceAgeSecs  = 7200
	defaultManualMaxAgeSecs = 3600
)

var errDeskNotInitialised = errors.New("otc: desk not initialised")

// Engine drives the desk's consignment and offer lifecycle. All mutating
// operations validate against the stored Desk configuration before touching
// balances or inventory.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	feed   *FeedSource
	manual *ManualSource
	oracle *OracleAdapter

	openOfferCap     int
	cleanupGraceSecs int64
}

// NewEngine returns an engine with an in-process oracle and a no-op emitter.
func NewEngine() *Engine {
	feed := NewFeedSource()
	manual := NewManualSource()
	return &Engine{
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
		feed:             feed,
		manual:           manual,
		oracle:           NewOracleAdapter(feed, manual, defaultMaxPriceAgeSecs, defaultManualMaxAgeSecs),
		openOfferCap:     defaultOpenOfferCap,
		cleanupGraceSecs: defaultCleanupGraceSecs,
	}
}

// SetState wires the persistence backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter replaces the event emitter. Passing nil restores the no-op
// emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock for both the engine and its oracle.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
	e.oracle.SetNowFunc(now)
}

// SetIndexLimits configures the open-offer capacity and the cleanup grace
// period applied to resolved offers.
func (e *Engine) SetIndexLimits(cap int, graceSecs int64) {
	if cap > 0 {
		e.openOfferCap = cap
	}
	if graceSecs >= 0 {
		e.cleanupGraceSecs = graceSecs
	}
}

// Oracle exposes the engine's price adapter for read-side consumers.
func (e *Engine) Oracle() *OracleAdapter { return e.oracle }

func (e *Engine) now() int64 {
	if e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) requireState() error {
	if e.state == nil {
		return errors.New("otc: engine state not configured")
	}
	return nil
}

func (e *Engine) ledger() *InventoryLedger { return NewInventoryLedger(e.state) }

func (e *Engine) index() *OfferIndexManager {
	return NewOfferIndexManager(e.state, e.openOfferCap, e.cleanupGraceSecs)
}

func (e *Engine) loadDesk() (*Desk, error) {
	desk, ok, err := e.state.DeskGet()
	if err != nil {
		return nil, err
	}
	if !ok || desk == nil {
		return nil, errDeskNotInitialised
	}
	return desk, nil
}

func (e *Engine) loadToken(symbol string) (*TokenRegistration, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	token, ok, err := e.state.TokenGet(normalized)
	if err != nil {
		return nil, err
	}
	if !ok || token == nil {
		return nil, ErrTokenNotRegistered
	}
	return token, nil
}

func (e *Engine) loadConsignment(id uint64) (*Consignment, error) {
	consignment, ok, err := e.state.ConsignmentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || consignment == nil {
		return nil, fmt.Errorf("otc: consignment %d not found", id)
	}
	return consignment, nil
}

func (e *Engine) loadOffer(id uint64) (*Offer, error) {
	offer, ok, err := e.state.OfferGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || offer == nil {
		return nil, fmt.Errorf("otc: offer %d not found", id)
	}
	return offer, nil
}

func currencyAsset(c Currency) string {
	if c == CurrencyStable {
		return AssetStable
	}
	return AssetNative
}

func (e *Engine) transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	fromAccount, err := e.state.Account(from)
	if err != nil {
		return err
	}
	balance := fromAccount.Balance(asset)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("otc: insufficient %s balance", asset)
	}
	fromAccount.SetBalance(asset, new(big.Int).Sub(balance, amount))
	if err := e.state.PutAccount(from, fromAccount); err != nil {
		return err
	}
	toAccount, err := e.state.Account(to)
	if err != nil {
		return err
	}
	toAccount.SetBalance(asset, new(big.Int).Add(toAccount.Balance(asset), amount))
	return e.state.PutAccount(to, toAccount)
}

// InitDesk stores the initial desk configuration. It fails if a desk already
// exists.
func (e *Engine) InitDesk(desk *Desk) (*Desk, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	if desk == nil {
		return nil, fmt.Errorf("otc: nil desk")
	}
	if _, ok, err := e.state.DeskGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("otc: desk already initialised")
	}
	clone := desk.Clone()
	if clone.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("otc: desk owner required")
	}
	if clone.Vault == ([20]byte{}) {
		return nil, fmt.Errorf("otc: desk vault required")
	}
	if len(clone.Approvers) > maxApprovers {
		return nil, ErrTooManyApprovers
	}
	if clone.RequiredApprovals == 0 || clone.RequiredApprovals > maxQuorum {
		return nil, ErrInvalidQuorum
	}
	if clone.MaxPriceAgeSecs <= 0 {
		clone.MaxPriceAgeSecs = defaultMaxPriceAgeSecs
	}
	if clone.ManualPriceMaxAgeSecs <= 0 {
		clone.ManualPriceMaxAgeSecs = defaultManualMaxAgeSecs
	}
	clone.NextConsignmentID = 1
	clone.NextOfferID = 1
	e.oracle.SetMaxAges(clone.MaxPriceAgeSecs, clone.ManualPriceMaxAgeSecs)
	if err := e.state.DeskPut(clone); err != nil {
		return nil, err
	}
	return clone.Clone(), nil
}

func (e *Engine) loadDeskOwner(caller [20]byte) (*Desk, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if caller != desk.Owner {
		return nil, ErrNotOwner
	}
	return desk, nil
}

// RegisterToken records a token the desk will accept on consignment.
func (e *Engine) RegisterToken(caller [20]byte, symbol string, decimals uint8, feedID string) (*TokenRegistration, error) {
	if _, err := e.loadDeskOwner(caller); err != nil {
		return nil, err
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if _, ok, err := e.state.TokenGet(normalized); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("otc: token %s already registered", normalized)
	}
	token := &TokenRegistration{
		Symbol:    normalized,
		Decimals:  decimals,
		FeedID:    feedID,
		Active:    true,
		CreatedAt: e.now(),
	}
	if err := e.state.TokenPut(token); err != nil {
		return nil, err
	}
	return token.Clone(), nil
}

// SetTokenActive toggles whether new consignments and offers may reference the
// token. Existing offers settle regardless.
func (e *Engine) SetTokenActive(caller [20]byte, symbol string, active bool) error {
	if _, err := e.loadDeskOwner(caller); err != nil {
		return err
	}
	token, err := e.loadToken(symbol)
	if err != nil {
		return err
	}
	token.Active = active
	return e.state.TokenPut(token)
}

// SetApprover adds or removes an approver. Removal keeps the quorum
// satisfiable.
func (e *Engine) SetApprover(caller, approver [20]byte, enabled bool) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if approver == ([20]byte{}) {
		return fmt.Errorf("otc: approver address required")
	}
	idx := -1
	for i, entry := range desk.Approvers {
		if entry == approver {
			idx = i
			break
		}
	}
	switch {
	case enabled && idx >= 0:
		return nil
	case enabled:
		if len(desk.Approvers) >= maxApprovers {
			return ErrTooManyApprovers
		}
		desk.Approvers = append(desk.Approvers, approver)
	case idx < 0:
		return nil
	default:
		desk.Approvers = append(desk.Approvers[:idx], desk.Approvers[idx+1:]...)
		if uint32(len(desk.Approvers)) < desk.RequiredApprovals && desk.Agent == ([20]byte{}) {
			return ErrInvalidQuorum
		}
	}
	return e.state.DeskPut(desk)
}

// SetAgent designates the operational agent. The agent counts towards the
// approver set and may publish feed prices.
func (e *Engine) SetAgent(caller, agent [20]byte) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	desk.Agent = agent
	return e.state.DeskPut(desk)
}

// SetRequiredApprovals adjusts the approval quorum.
func (e *Engine) SetRequiredApprovals(caller [20]byte, required uint32) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if required == 0 || required > maxQuorum {
		return ErrInvalidQuorum
	}
	available := uint32(len(desk.Approvers))
	if desk.Agent != ([20]byte{}) {
		available++
	}
	if required > available {
		return ErrInvalidQuorum
	}
	desk.RequiredApprovals = required
	return e.state.DeskPut(desk)
}

// SetLimits updates the desk's per-deal guard rails.
func (e *Engine) SetLimits(caller [20]byte, minUsdAmount8 uint64, maxTokenPerOrder *big.Int, quoteExpirySecs, maxLockupSecs int64) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if maxTokenPerOrder != nil && maxTokenPerOrder.Sign() < 0 {
		return ErrZeroAmount
	}
	if quoteExpirySecs < 0 || maxLockupSecs < 0 {
		return ErrInvalidRange
	}
	desk.MinUsdAmount8 = minUsdAmount8
	desk.MaxTokenPerOrder = cloneBigInt(maxTokenPerOrder)
	desk.QuoteExpirySecs = quoteExpirySecs
	desk.MaxLockupSecs = maxLockupSecs
	return e.state.DeskPut(desk)
}

// SetPriceAges updates the oracle freshness windows.
func (e *Engine) SetPriceAges(caller [20]byte, maxAgeSecs, manualMaxAgeSecs int64) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if maxAgeSecs <= 0 || manualMaxAgeSecs <= 0 {
		return ErrInvalidRange
	}
	desk.MaxPriceAgeSecs = maxAgeSecs
	desk.ManualPriceMaxAgeSecs = manualMaxAgeSecs
	e.oracle.SetMaxAges(maxAgeSecs, manualMaxAgeSecs)
	return e.state.DeskPut(desk)
}

// SetFulfillPolicy toggles the fulfilment restrictions.
func (e *Engine) SetFulfillPolicy(caller [20]byte, restrictToBeneficiary, requireApprover bool) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	desk.RestrictFulfillToBeneficiary = restrictToBeneficiary
	desk.RequireApproverToFulfill = requireApprover
	return e.state.DeskPut(desk)
}

// SetEmergencyRefund toggles the buyer escape hatch and its waiting period.
func (e *Engine) SetEmergencyRefund(caller [20]byte, enabled bool, deadlineSecs int64) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if deadlineSecs < 0 {
		return ErrInvalidRange
	}
	desk.EmergencyRefundEnabled = enabled
	desk.EmergencyRefundDeadlineSecs = deadlineSecs
	return e.state.DeskPut(desk)
}

// SetManualPricesEnabled toggles the manual oracle fallback.
func (e *Engine) SetManualPricesEnabled(caller [20]byte, enabled bool) error {
	if _, err := e.loadDeskOwner(caller); err != nil {
		return err
	}
	e.oracle.SetManualEnabled(enabled)
	return nil
}

// SetManualPrice records an owner-published fallback price for a symbol.
func (e *Engine) SetManualPrice(caller [20]byte, symbol string, priceUsd8 uint64) error {
	if _, err := e.loadDeskOwner(caller); err != nil {
		return err
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	now := e.now()
	if err := e.manual.Set(normalized, priceUsd8, now, normalized == AssetNative); err != nil {
		return err
	}
	e.emit(NewPricesUpdatedEvent(normalized, priceUsd8, now))
	return nil
}

// PublishFeedPrice pushes a feed observation. Only the owner or the agent may
// publish, and moves beyond maxDeviationBps against the prior observation are
// rejected.
func (e *Engine) PublishFeedPrice(caller [20]byte, symbol string, priceUsd8 uint64, updatedAt int64, maxDeviationBps uint16) error {
	if err := e.requireState(); err != nil {
		return err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner && (desk.Agent == ([20]byte{}) || caller != desk.Agent) {
		return ErrNotOwner
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := e.feed.Publish(normalized, priceUsd8, updatedAt, maxDeviationBps); err != nil {
		return err
	}
	e.emit(NewPricesUpdatedEvent(normalized, priceUsd8, updatedAt))
	return nil
}

// Pause halts consignment and offer creation, approval and fulfilment.
// Settlement of already-paid offers continues.
func (e *Engine) Pause(caller [20]byte) error { return e.setPaused(caller, true) }

// Unpause resumes normal operation.
func (e *Engine) Unpause(caller [20]byte) error { return e.setPaused(caller, false) }

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if desk.Paused == paused {
		return nil
	}
	desk.Paused = paused
	if err := e.state.DeskPut(desk); err != nil {
		return err
	}
	e.emit(NewDeskPausedEvent(paused))
	return nil
}

// OwnerDepositTokens moves tokens from the owner into the desk float. Float
// inventory is unreserved and backs nothing until consigned.
func (e *Engine) OwnerDepositTokens(caller [20]byte, symbol string, amount *big.Int) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	token, err := e.loadToken(symbol)
	if err != nil {
		return err
	}
	if err := e.transfer(caller, desk.Vault, token.Symbol, amount); err != nil {
		return err
	}
	return e.ledger().Deposit(token.Symbol, amount)
}

// OwnerWithdrawTokens moves unreserved float inventory back to the owner.
func (e *Engine) OwnerWithdrawTokens(caller [20]byte, symbol string, amount *big.Int) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	token, err := e.loadToken(symbol)
	if err != nil {
		return err
	}
	if err := e.ledger().Withdraw(token.Symbol, amount); err != nil {
		return err
	}
	return e.transfer(desk.Vault, caller, token.Symbol, amount)
}

// WithdrawPayments sweeps collected settlement proceeds from the vault.
func (e *Engine) WithdrawPayments(caller [20]byte, asset string, amount *big.Int, to [20]byte) error {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return err
	}
	if asset != AssetNative && asset != AssetStable {
		return ErrUnsupportedCurrency
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("otc: withdrawal destination required")
	}
	return e.transfer(desk.Vault, to, asset, amount)
}

// CreateConsignment escrows a seller's tokens under the supplied terms and
// reserves them in the inventory ledger.
func (e *Engine) CreateConsignment(consigner [20]byte, def *Consignment) (*Consignment, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	if def == nil {
		return nil, fmt.Errorf("otc: nil consignment")
	}
	draft := def.Clone()
	draft.Consigner = consigner
	draft.RemainingAmount = cloneBigInt(draft.TotalAmount)
	draft.Active = true
	draft.CreatedAt = e.now()
	sanitized, err := SanitizeConsignment(draft)
	if err != nil {
		return nil, err
	}
	token, err := e.loadToken(sanitized.Token)
	if err != nil {
		return nil, err
	}
	if !token.Active {
		return nil, ErrTokenInactive
	}
	if err := e.transfer(consigner, desk.Vault, token.Symbol, sanitized.TotalAmount); err != nil {
		return nil, err
	}
	ledger := e.ledger()
	if err := ledger.Deposit(token.Symbol, sanitized.TotalAmount); err != nil {
		return nil, err
	}
	if err := ledger.Reserve(token.Symbol, sanitized.TotalAmount); err != nil {
		return nil, err
	}
	sanitized.ID = desk.NextConsignmentID
	desk.NextConsignmentID++
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	if err := e.state.ConsignmentPut(sanitized); err != nil {
		return nil, err
	}
	e.emit(NewConsignmentCreatedEvent(sanitized))
	return sanitized.Clone(), nil
}

// WithdrawConsignment returns uncommitted tokens to the consigner. Tokens
// locked under open offers stay reserved until those offers resolve.
func (e *Engine) WithdrawConsignment(caller [20]byte, consignmentID uint64, amount *big.Int) (*Consignment, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	consignment, err := e.loadConsignment(consignmentID)
	if err != nil {
		return nil, err
	}
	if caller != consignment.Consigner && caller != desk.Owner {
		return nil, ErrNotConsigner
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if amount.Cmp(consignment.RemainingAmount) > 0 {
		return nil, ErrInsufficientInventory
	}
	ledger := e.ledger()
	if err := ledger.Release(consignment.Token, amount); err != nil {
		return nil, err
	}
	if err := ledger.Withdraw(consignment.Token, amount); err != nil {
		return nil, err
	}
	if err := e.transfer(desk.Vault, consignment.Consigner, consignment.Token, amount); err != nil {
		return nil, err
	}
	consignment.RemainingAmount = new(big.Int).Sub(consignment.RemainingAmount, amount)
	consignment.TotalAmount = new(big.Int).Sub(consignment.TotalAmount, amount)
	if consignment.RemainingAmount.Sign() == 0 {
		consignment.Active = false
	}
	if err := e.state.ConsignmentPut(consignment); err != nil {
		return nil, err
	}
	e.emit(NewConsignmentWithdrawnEvent(consignment))
	return consignment.Clone(), nil
}

// SetConsignmentActive lets the consigner (or the owner) stop new offers
// without withdrawing escrowed tokens.
func (e *Engine) SetConsignmentActive(caller [20]byte, consignmentID uint64, active bool) error {
	if err := e.requireState(); err != nil {
		return err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	consignment, err := e.loadConsignment(consignmentID)
	if err != nil {
		return err
	}
	if caller != consignment.Consigner && caller != desk.Owner {
		return ErrNotConsigner
	}
	if active && consignment.RemainingAmount.Sign() == 0 {
		return ErrInsufficientInventory
	}
	consignment.Active = active
	return e.state.ConsignmentPut(consignment)
}

func validateTerms(c *Consignment, discountBps uint16, lockupDays uint32) error {
	if c.Negotiable {
		if discountBps < c.MinDiscountBps || discountBps > c.MaxDiscountBps {
			return ErrDiscountOutOfRange
		}
		if lockupDays < c.MinLockupDays || lockupDays > c.MaxLockupDays {
			return ErrLockupOutOfRange
		}
		return nil
	}
	if discountBps != c.FixedDiscountBps || lockupDays != c.FixedLockupDays {
		return ErrTermsMismatch
	}
	return nil
}

// CreateOffer commits a slice of a consignment to a buyer at a frozen price
// snapshot. The committed amount leaves the consignment's remaining pool
// immediately.
func (e *Engine) CreateOffer(buyer [20]byte, consignmentID uint64, tokenAmount *big.Int, discountBps uint16, lockupDays uint32, currency Currency) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	if !currency.Valid() {
		return nil, ErrUnsupportedCurrency
	}
	consignment, err := e.loadConsignment(consignmentID)
	if err != nil {
		return nil, err
	}
	if !consignment.Active {
		return nil, ErrNotActive
	}
	if !consignment.Allows(buyer) {
		return nil, ErrNotAllowListed
	}
	token, err := e.loadToken(consignment.Token)
	if err != nil {
		return nil, err
	}
	if !token.Active {
		return nil, ErrTokenInactive
	}
	if err := checkAmount(tokenAmount); err != nil {
		return nil, err
	}
	if err := validateTerms(consignment, discountBps, lockupDays); err != nil {
		return nil, err
	}
	lockupSecs := int64(lockupDays) * secondsPerDay
	if desk.MaxLockupSecs > 0 && lockupSecs > desk.MaxLockupSecs {
		return nil, ErrLockupOutOfRange
	}
	if consignment.MinDealAmount.Sign() > 0 && tokenAmount.Cmp(consignment.MinDealAmount) < 0 {
		return nil, ErrInvalidDealAmount
	}
	if consignment.MaxDealAmount.Sign() > 0 && tokenAmount.Cmp(consignment.MaxDealAmount) > 0 {
		return nil, ErrInvalidDealAmount
	}
	if desk.MaxTokenPerOrder != nil && desk.MaxTokenPerOrder.Sign() > 0 && tokenAmount.Cmp(desk.MaxTokenPerOrder) > 0 {
		return nil, ErrInvalidDealAmount
	}
	if tokenAmount.Cmp(consignment.RemainingAmount) > 0 {
		return nil, ErrInsufficientInventory
	}
	if !consignment.Fractionalized && tokenAmount.Cmp(consignment.RemainingAmount) != 0 {
		return nil, ErrInvalidDealAmount
	}

	priceUsd8, _, err := e.oracle.PriceUsd8(token.Symbol)
	if err != nil {
		return nil, err
	}
	var refPriceUsd8 uint64
	if currency == CurrencyNative {
		refPriceUsd8, _, err = e.oracle.PriceUsd8(AssetNative)
		if err != nil {
			return nil, err
		}
	}
	grossUsd8, err := GrossUsd8(tokenAmount, priceUsd8, token.Decimals)
	if err != nil {
		return nil, err
	}
	netUsd8, err := NetUsd8(grossUsd8, discountBps)
	if err != nil {
		return nil, err
	}
	if desk.MinUsdAmount8 > 0 && netUsd8.Cmp(new(big.Int).SetUint64(desk.MinUsdAmount8)) < 0 {
		return nil, ErrMinUsdNotMet
	}

	now := e.now()
	offer := &Offer{
		ID:                   desk.NextOfferID,
		ConsignmentID:        consignment.ID,
		Token:                token.Symbol,
		Beneficiary:          buyer,
		TokenAmount:          cloneBigInt(tokenAmount),
		DiscountBps:          discountBps,
		CreatedAt:            now,
		LockupSecs:           lockupSecs,
		PriceUsd8:            priceUsd8,
		RefPriceUsd8:         refPriceUsd8,
		MaxPriceDeviationBps: consignment.MaxPriceVolatilityBps,
		Currency:             currency,
		AmountPaid:           big.NewInt(0),
	}
	if err := e.index().Append(offer.ID, now); err != nil {
		return nil, err
	}
	desk.NextOfferID++
	if err := e.state.DeskPut(desk); err != nil {
		return nil, err
	}
	consignment.RemainingAmount = new(big.Int).Sub(consignment.RemainingAmount, tokenAmount)
	if err := e.state.ConsignmentPut(consignment); err != nil {
		return nil, err
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	ids, err := e.state.BeneficiaryOffersGet(buyer)
	if err != nil {
		return nil, err
	}
	if err := e.state.BeneficiaryOffersPut(buyer, append(ids, offer.ID)); err != nil {
		return nil, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return offer.Clone(), nil
}

func (e *Engine) checkVolatility(offer *Offer) error {
	if offer.MaxPriceDeviationBps == 0 {
		return nil
	}
	current, _, err := e.oracle.PriceUsd8(offer.Token)
	if err != nil {
		return err
	}
	if deviationBps(offer.PriceUsd8, current) > uint64(offer.MaxPriceDeviationBps) {
		return ErrPriceVolatilityExceeded
	}
	return nil
}

// ApproveOffer records one approver's sign-off. The offer flips to approved
// once the quorum is met. The live price is rechecked against the frozen
// snapshot on every approval.
func (e *Engine) ApproveOffer(caller [20]byte, offerID uint64) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	if !desk.IsApprover(caller) {
		return nil, ErrNotApprover
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if !offer.Open() {
		return nil, ErrOfferNotOpen
	}
	if offer.Paid {
		return nil, ErrAlreadyFulfilled
	}
	if offer.HasApproval(caller) {
		return nil, ErrAlreadyApproved
	}
	if err := e.checkVolatility(offer); err != nil {
		return nil, err
	}
	offer.Approvals = append(offer.Approvals, caller)
	if uint32(len(offer.Approvals)) >= desk.RequiredApprovals {
		offer.Approved = true
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferApprovedEvent(offer, caller))
	return offer.Clone(), nil
}

// RequiredPaymentAmount returns the settlement amount owed for the offer in
// its chosen currency's smallest unit.
func (e *Engine) RequiredPaymentAmount(offerID uint64) (*big.Int, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	token, err := e.loadToken(offer.Token)
	if err != nil {
		return nil, err
	}
	return RequiredPayment(offer, token.Decimals, desk.StableDecimals, desk.NativeDecimals)
}

// FulfillOffer settles the payment leg. The payer must cover the full
// required amount; the exact amount moves to the vault and the lockup clock
// starts.
func (e *Engine) FulfillOffer(payer [20]byte, offerID uint64, payment *big.Int) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if !offer.Open() {
		return nil, ErrOfferNotOpen
	}
	if offer.Paid {
		return nil, ErrAlreadyFulfilled
	}
	if !offer.Approved {
		return nil, ErrNotApproved
	}
	if desk.RestrictFulfillToBeneficiary && payer != offer.Beneficiary && !desk.IsPrivileged(payer) {
		return nil, ErrFulfillRestricted
	}
	if desk.RequireApproverToFulfill && !desk.IsPrivileged(payer) {
		return nil, ErrFulfillRestricted
	}
	now := e.now()
	if desk.QuoteExpirySecs > 0 && now-offer.CreatedAt > desk.QuoteExpirySecs {
		return nil, ErrQuoteExpired
	}
	consignment, err := e.loadConsignment(offer.ConsignmentID)
	if err != nil {
		return nil, err
	}
	if consignment.MaxTimeToExecuteSecs > 0 && now-offer.CreatedAt > consignment.MaxTimeToExecuteSecs {
		return nil, ErrQuoteExpired
	}
	if err := e.checkVolatility(offer); err != nil {
		return nil, err
	}
	token, err := e.loadToken(offer.Token)
	if err != nil {
		return nil, err
	}
	required, err := RequiredPayment(offer, token.Decimals, desk.StableDecimals, desk.NativeDecimals)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Cmp(required) < 0 {
		return nil, ErrInsufficientPayment
	}
	if err := e.transfer(payer, desk.Vault, currencyAsset(offer.Currency), required); err != nil {
		return nil, err
	}
	offer.Paid = true
	offer.Payer = payer
	offer.AmountPaid = required
	offer.PaidAt = now
	offer.UnlockTime = now + offer.LockupSecs
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferPaidEvent(offer))
	return offer.Clone(), nil
}

func (e *Engine) settle(desk *Desk, offer *Offer) (*Offer, error) {
	if err := e.ledger().Consume(offer.Token, offer.TokenAmount); err != nil {
		return nil, err
	}
	if err := e.transfer(desk.Vault, offer.Beneficiary, offer.Token, offer.TokenAmount); err != nil {
		return nil, err
	}
	offer.Fulfilled = true
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	if err := e.index().Remove(offer.ID); err != nil {
		return nil, err
	}
	return offer, nil
}

// Claim releases the tokens to the beneficiary once the lockup has elapsed.
// Privileged callers may trigger the claim, but tokens only ever flow to the
// beneficiary.
func (e *Engine) Claim(caller [20]byte, offerID uint64) (*Offer, error) {
	return e.claim(caller, offerID, false)
}

// autoClaimMaxBatch bounds a single AutoClaim sweep.
const autoClaimMaxBatch = 10

// AutoClaimResult reports the outcome of one id within an AutoClaim batch.
type AutoClaimResult struct {
	OfferID uint64
	Offer   *Offer
	Err     error
}

// AutoClaim is the operational sweep: a privileged caller settles matured
// offers on their beneficiaries' behalf. Each id settles independently; one
// failing id does not abort the rest of the batch.
func (e *Engine) AutoClaim(caller [20]byte, offerIDs []uint64) ([]AutoClaimResult, error) {
	if len(offerIDs) == 0 {
		return nil, nil
	}
	if len(offerIDs) > autoClaimMaxBatch {
		return nil, ErrInvalidMax
	}
	results := make([]AutoClaimResult, 0, len(offerIDs))
	for _, id := range offerIDs {
		offer, err := e.claim(caller, id, true)
		results = append(results, AutoClaimResult{OfferID: id, Offer: offer, Err: err})
	}
	return results, nil
}

func (e *Engine) claim(caller [20]byte, offerID uint64, privilegedOnly bool) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if offer.Cancelled {
		return nil, ErrOfferNotOpen
	}
	if !offer.Paid {
		return nil, ErrNotPaid
	}
	if privilegedOnly {
		if !desk.IsPrivileged(caller) {
			return nil, ErrNotApprover
		}
	} else if caller != offer.Beneficiary && !desk.IsPrivileged(caller) {
		return nil, ErrNotBeneficiary
	}
	if e.now() < offer.UnlockTime {
		return nil, ErrLocked
	}
	settled, err := e.settle(desk, offer)
	if err != nil {
		return nil, err
	}
	e.emit(NewOfferClaimedEvent(settled))
	return settled.Clone(), nil
}

// CancelOffer aborts an unpaid offer and returns the committed amount to the
// consignment's remaining pool. Privileged callers may cancel at any time; the
// beneficiary must wait out the execution window first.
func (e *Engine) CancelOffer(caller [20]byte, offerID uint64) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if !offer.Open() {
		return nil, ErrOfferNotOpen
	}
	if offer.Paid {
		return nil, ErrAlreadyFulfilled
	}
	privileged := desk.IsPrivileged(caller)
	if caller != offer.Beneficiary && !privileged {
		return nil, ErrNotBeneficiary
	}
	if !privileged {
		consignment, err := e.loadConsignment(offer.ConsignmentID)
		if err != nil {
			return nil, err
		}
		window := consignment.MaxTimeToExecuteSecs
		if window == 0 {
			window = desk.QuoteExpirySecs
		}
		if window > 0 && e.now()-offer.CreatedAt < window {
			return nil, ErrNotExpired
		}
	}
	if err := e.restock(offer); err != nil {
		return nil, err
	}
	offer.Cancelled = true
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	if err := e.index().Remove(offer.ID); err != nil {
		return nil, err
	}
	e.emit(NewOfferCancelledEvent(offer, caller))
	return offer.Clone(), nil
}

func (e *Engine) restock(offer *Offer) error {
	consignment, err := e.loadConsignment(offer.ConsignmentID)
	if err != nil {
		return err
	}
	consignment.RemainingAmount = new(big.Int).Add(consignment.RemainingAmount, offer.TokenAmount)
	return e.state.ConsignmentPut(consignment)
}

// EmergencyRefund returns a paid offer's payment to the payer once the refund
// waiting period past unlock has elapsed. The tokens return to the consignment
// pool.
func (e *Engine) EmergencyRefund(caller [20]byte, offerID uint64) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	if !desk.EmergencyRefundEnabled {
		return nil, ErrEmergencyRefundsDisabled
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if offer.Cancelled {
		return nil, ErrOfferNotOpen
	}
	if !offer.Paid {
		return nil, ErrNotPaid
	}
	if caller != offer.Payer && caller != offer.Beneficiary && !desk.IsPrivileged(caller) {
		return nil, ErrNotBeneficiary
	}
	if e.now() < offer.UnlockTime+desk.EmergencyRefundDeadlineSecs {
		return nil, ErrTooEarlyForEmergencyRefund
	}
	if err := e.transfer(desk.Vault, offer.Payer, currencyAsset(offer.Currency), offer.AmountPaid); err != nil {
		return nil, err
	}
	if err := e.restock(offer); err != nil {
		return nil, err
	}
	offer.Cancelled = true
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	if err := e.index().Remove(offer.ID); err != nil {
		return nil, err
	}
	e.emit(NewOfferRefundedEvent(offer))
	return offer.Clone(), nil
}

// AdminRecover force-settles a paid offer whose beneficiary never claimed.
// Tokens still go to the beneficiary, never to the caller.
func (e *Engine) AdminRecover(caller [20]byte, offerID uint64) (*Offer, error) {
	desk, err := e.loadDeskOwner(caller)
	if err != nil {
		return nil, err
	}
	offer, err := e.loadOffer(offerID)
	if err != nil {
		return nil, err
	}
	if offer.Fulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if offer.Cancelled {
		return nil, ErrOfferNotOpen
	}
	if !offer.Paid {
		return nil, ErrNotPaid
	}
	if e.now() < offer.UnlockTime+desk.AdminRecoverySecs {
		return nil, ErrMustWaitLonger
	}
	settled, err := e.settle(desk, offer)
	if err != nil {
		return nil, err
	}
	e.emit(NewOfferRecoveredEvent(settled))
	return settled.Clone(), nil
}

// CleanupExpiredOffers compacts resolved entries out of the open-offer index.
// The pass is bounded by maxToProcess.
func (e *Engine) CleanupExpiredOffers(maxToProcess int) (int, error) {
	if err := e.requireState(); err != nil {
		return 0, err
	}
	removed, err := e.index().Cleanup(maxToProcess, e.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.emit(NewIndexCompactedEvent(removed))
	}
	return removed, nil
}

// OpenOfferIDs returns the current open-offer index.
func (e *Engine) OpenOfferIDs() ([]uint64, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	return e.index().OpenIDs()
}

// OffersForBeneficiary returns the offer IDs ever created for an address.
func (e *Engine) OffersForBeneficiary(addr [20]byte) ([]uint64, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	return e.state.BeneficiaryOffersGet(addr)
}

// AvailableInventory returns the ledger snapshot for a token.
func (e *Engine) AvailableInventory(symbol string) (*TokenInventory, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return e.ledger().Snapshot(normalized)
}

// GetDesk returns the stored desk configuration.
func (e *Engine) GetDesk() (*Desk, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	return desk.Clone(), nil
}

// GetToken returns a token registration.
func (e *Engine) GetToken(symbol string) (*TokenRegistration, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	token, err := e.loadToken(symbol)
	if err != nil {
		return nil, err
	}
	return token.Clone(), nil
}

// GetConsignment returns a consignment by ID.
func (e *Engine) GetConsignment(id uint64) (*Consignment, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	consignment, err := e.loadConsignment(id)
	if err != nil {
		return nil, err
	}
	return consignment.Clone(), nil
}

// GetOffer returns an offer by ID.
func (e *Engine) GetOffer(id uint64) (*Offer, error) {
	if err := e.requireState(); err != nil {
		return nil, err
	}
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	return offer.Clone(), nil
}
