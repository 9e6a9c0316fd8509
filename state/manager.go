package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"otcdesk/core/types"
	"otcdesk/native/otc"
	"otcdesk/storage"
)

// Manager persists desk state in a key-value store using RLP encoding. It
// implements the settlement engine's state interface. All methods are safe for
// concurrent use; the engine itself serialises mutating operations above this
// layer.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager returns a manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

func ensureBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// RLP has no signed integer support, so stored records widen int64 fields to
// uint64. Timestamps never go negative in practice.

type storedDesk struct {
	Owner                        [20]byte
	Agent                        [20]byte
	Vault                        [20]byte
	Approvers                    [][20]byte
	RequiredApprovals            uint32
	MinUsdAmount8                uint64
	MaxTokenPerOrder             *big.Int
	QuoteExpirySecs              uint64
	MaxLockupSecs                uint64
	MaxPriceAgeSecs              uint64
	ManualPriceMaxAgeSecs        uint64
	RestrictFulfillToBeneficiary bool
	RequireApproverToFulfill     bool
	EmergencyRefundEnabled       bool
	EmergencyRefundDeadlineSecs  uint64
	AdminRecoverySecs            uint64
	Paused                       bool
	NativeDecimals               uint8
	StableDecimals               uint8
	NextConsignmentID            uint64
	NextOfferID                  uint64
}

func deskToStored(d *otc.Desk) *storedDesk {
	return &storedDesk{
		Owner:                        d.Owner,
		Agent:                        d.Agent,
		Vault:                        d.Vault,
		Approvers:                    append([][20]byte{}, d.Approvers...),
		RequiredApprovals:            d.RequiredApprovals,
		MinUsdAmount8:                d.MinUsdAmount8,
		MaxTokenPerOrder:             ensureBig(d.MaxTokenPerOrder),
		QuoteExpirySecs:              uint64(d.QuoteExpirySecs),
		MaxLockupSecs:                uint64(d.MaxLockupSecs),
		MaxPriceAgeSecs:              uint64(d.MaxPriceAgeSecs),
		ManualPriceMaxAgeSecs:        uint64(d.ManualPriceMaxAgeSecs),
		RestrictFulfillToBeneficiary: d.RestrictFulfillToBeneficiary,
		RequireApproverToFulfill:     d.RequireApproverToFulfill,
		EmergencyRefundEnabled:       d.EmergencyRefundEnabled,
		EmergencyRefundDeadlineSecs:  uint64(d.EmergencyRefundDeadlineSecs),
		AdminRecoverySecs:            uint64(d.AdminRecoverySecs),
		Paused:                       d.Paused,
		NativeDecimals:               d.NativeDecimals,
		StableDecimals:               d.StableDecimals,
		NextConsignmentID:            d.NextConsignmentID,
		NextOfferID:                  d.NextOfferID,
	}
}

func (s *storedDesk) toDesk() *otc.Desk {
	return &otc.Desk{
		Owner:                        s.Owner,
		Agent:                        s.Agent,
		Vault:                        s.Vault,
		Approvers:                    append([][20]byte{}, s.Approvers...),
		RequiredApprovals:            s.RequiredApprovals,
		MinUsdAmount8:                s.MinUsdAmount8,
		MaxTokenPerOrder:             ensureBig(s.MaxTokenPerOrder),
		QuoteExpirySecs:              int64(s.QuoteExpirySecs),
		MaxLockupSecs:                int64(s.MaxLockupSecs),
		MaxPriceAgeSecs:              int64(s.MaxPriceAgeSecs),
		ManualPriceMaxAgeSecs:        int64(s.ManualPriceMaxAgeSecs),
		RestrictFulfillToBeneficiary: s.RestrictFulfillToBeneficiary,
		RequireApproverToFulfill:     s.RequireApproverToFulfill,
		EmergencyRefundEnabled:       s.EmergencyRefundEnabled,
		EmergencyRefundDeadlineSecs:  int64(s.EmergencyRefundDeadlineSecs),
		AdminRecoverySecs:            int64(s.AdminRecoverySecs),
		Paused:                       s.Paused,
		NativeDecimals:               s.NativeDecimals,
		StableDecimals:               s.StableDecimals,
		NextConsignmentID:            s.NextConsignmentID,
		NextOfferID:                  s.NextOfferID,
	}
}

// DeskGet loads the desk configuration.
func (m *Manager) DeskGet() (*otc.Desk, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedDesk
	ok, err := m.get([]byte(deskKey), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toDesk(), true, nil
}

// DeskPut stores the desk configuration.
func (m *Manager) DeskPut(d *otc.Desk) error {
	if d == nil {
		return fmt.Errorf("state: nil desk")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put([]byte(deskKey), deskToStored(d))
}

type storedToken struct {
	Symbol    string
	Decimals  uint8
	FeedID    string
	Active    bool
	CreatedAt uint64
}

// TokenGet loads a token registration by symbol.
func (m *Manager) TokenGet(symbol string) (*otc.TokenRegistration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedToken
	ok, err := m.get(tokenKey(symbol), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &otc.TokenRegistration{
		Symbol:    stored.Symbol,
		Decimals:  stored.Decimals,
		FeedID:    stored.FeedID,
		Active:    stored.Active,
		CreatedAt: int64(stored.CreatedAt),
	}, true, nil
}

// TokenPut stores a token registration.
func (m *Manager) TokenPut(t *otc.TokenRegistration) error {
	if t == nil {
		return fmt.Errorf("state: nil token registration")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(tokenKey(t.Symbol), &storedToken{
		Symbol:    t.Symbol,
		Decimals:  t.Decimals,
		FeedID:    t.FeedID,
		Active:    t.Active,
		CreatedAt: uint64(t.CreatedAt),
	})
}

type storedConsignment struct {
	ID                    uint64
	Token                 string
	Consigner             [20]byte
	TotalAmount           *big.Int
	RemainingAmount       *big.Int
	Negotiable            bool
	FixedDiscountBps      uint16
	FixedLockupDays       uint32
	MinDiscountBps        uint16
	MaxDiscountBps        uint16
	MinLockupDays         uint32
	MaxLockupDays         uint32
	MinDealAmount         *big.Int
	MaxDealAmount         *big.Int
	Fractionalized        bool
	Private               bool
	AllowList             [][20]byte
	MaxPriceVolatilityBps uint16
	MaxTimeToExecuteSecs  uint64
	Active                bool
	CreatedAt             uint64
}

func consignmentToStored(c *otc.Consignment) *storedConsignment {
	return &storedConsignment{
		ID:                    c.ID,
		Token:                 c.Token,
		Consigner:             c.Consigner,
		TotalAmount:           ensureBig(c.TotalAmount),
		RemainingAmount:       ensureBig(c.RemainingAmount),
		Negotiable:            c.Negotiable,
		FixedDiscountBps:      c.FixedDiscountBps,
		FixedLockupDays:       c.FixedLockupDays,
		MinDiscountBps:        c.MinDiscountBps,
		MaxDiscountBps:        c.MaxDiscountBps,
		MinLockupDays:         c.MinLockupDays,
		MaxLockupDays:         c.MaxLockupDays,
		MinDealAmount:         ensureBig(c.MinDealAmount),
		MaxDealAmount:         ensureBig(c.MaxDealAmount),
		Fractionalized:        c.Fractionalized,
		Private:               c.Private,
		AllowList:             append([][20]byte{}, c.AllowList...),
		MaxPriceVolatilityBps: c.MaxPriceVolatilityBps,
		MaxTimeToExecuteSecs:  uint64(c.MaxTimeToExecuteSecs),
		Active:                c.Active,
		CreatedAt:             uint64(c.CreatedAt),
	}
}

func (s *storedConsignment) toConsignment() *otc.Consignment {
	return &otc.Consignment{
		ID:                    s.ID,
		Token:                 s.Token,
		Consigner:             s.Consigner,
		TotalAmount:           ensureBig(s.TotalAmount),
		RemainingAmount:       ensureBig(s.RemainingAmount),
		Negotiable:            s.Negotiable,
		FixedDiscountBps:      s.FixedDiscountBps,
		FixedLockupDays:       s.FixedLockupDays,
		MinDiscountBps:        s.MinDiscountBps,
		MaxDiscountBps:        s.MaxDiscountBps,
		MinLockupDays:         s.MinLockupDays,
		MaxLockupDays:         s.MaxLockupDays,
		MinDealAmount:         ensureBig(s.MinDealAmount),
		MaxDealAmount:         ensureBig(s.MaxDealAmount),
		Fractionalized:        s.Fractionalized,
		Private:               s.Private,
		AllowList:             append([][20]byte{}, s.AllowList...),
		MaxPriceVolatilityBps: s.MaxPriceVolatilityBps,
		MaxTimeToExecuteSecs:  int64(s.MaxTimeToExecuteSecs),
		Active:                s.Active,
		CreatedAt:             int64(s.CreatedAt),
	}
}

// ConsignmentGet loads a consignment by ID.
func (m *Manager) ConsignmentGet(id uint64) (*otc.Consignment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedConsignment
	ok, err := m.get(consignmentKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toConsignment(), true, nil
}

// ConsignmentPut stores a consignment.
func (m *Manager) ConsignmentPut(c *otc.Consignment) error {
	if c == nil {
		return fmt.Errorf("state: nil consignment")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(consignmentKey(c.ID), consignmentToStored(c))
}

type storedOffer struct {
	ID                   uint64
	ConsignmentID        uint64
	Token                string
	Beneficiary          [20]byte
	TokenAmount          *big.Int
	DiscountBps          uint16
	CreatedAt            uint64
	LockupSecs           uint64
	UnlockTime           uint64
	PaidAt               uint64
	PriceUsd8            uint64
	RefPriceUsd8         uint64
	MaxPriceDeviationBps uint16
	Currency             uint8
	Approvals            [][20]byte
	Approved             bool
	Paid                 bool
	Fulfilled            bool
	Cancelled            bool
	Payer                [20]byte
	AmountPaid           *big.Int
}

func offerToStored(o *otc.Offer) *storedOffer {
	return &storedOffer{
		ID:                   o.ID,
		ConsignmentID:        o.ConsignmentID,
		Token:                o.Token,
		Beneficiary:          o.Beneficiary,
		TokenAmount:          ensureBig(o.TokenAmount),
		DiscountBps:          o.DiscountBps,
		CreatedAt:            uint64(o.CreatedAt),
		LockupSecs:           uint64(o.LockupSecs),
		UnlockTime:           uint64(o.UnlockTime),
		PaidAt:               uint64(o.PaidAt),
		PriceUsd8:            o.PriceUsd8,
		RefPriceUsd8:         o.RefPriceUsd8,
		MaxPriceDeviationBps: o.MaxPriceDeviationBps,
		Currency:             uint8(o.Currency),
		Approvals:            append([][20]byte{}, o.Approvals...),
		Approved:             o.Approved,
		Paid:                 o.Paid,
		Fulfilled:            o.Fulfilled,
		Cancelled:            o.Cancelled,
		Payer:                o.Payer,
		AmountPaid:           ensureBig(o.AmountPaid),
	}
}

func (s *storedOffer) toOffer() *otc.Offer {
	return &otc.Offer{
		ID:                   s.ID,
		ConsignmentID:        s.ConsignmentID,
		Token:                s.Token,
		Beneficiary:          s.Beneficiary,
		TokenAmount:          ensureBig(s.TokenAmount),
		DiscountBps:          s.DiscountBps,
		CreatedAt:            int64(s.CreatedAt),
		LockupSecs:           int64(s.LockupSecs),
		UnlockTime:           int64(s.UnlockTime),
		PaidAt:               int64(s.PaidAt),
		PriceUsd8:            s.PriceUsd8,
		RefPriceUsd8:         s.RefPriceUsd8,
		MaxPriceDeviationBps: s.MaxPriceDeviationBps,
		Currency:             otc.Currency(s.Currency),
		Approvals:            append([][20]byte{}, s.Approvals...),
		Approved:             s.Approved,
		Paid:                 s.Paid,
		Fulfilled:            s.Fulfilled,
		Cancelled:            s.Cancelled,
		Payer:                s.Payer,
		AmountPaid:           ensureBig(s.AmountPaid),
	}
}

// OfferGet loads an offer by ID.
func (m *Manager) OfferGet(id uint64) (*otc.Offer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedOffer
	ok, err := m.get(offerKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toOffer(), true, nil
}

// OfferPut stores an offer.
func (m *Manager) OfferPut(o *otc.Offer) error {
	if o == nil {
		return fmt.Errorf("state: nil offer")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(offerKey(o.ID), offerToStored(o))
}

type storedInventory struct {
	Token     string
	Deposited *big.Int
	Reserved  *big.Int
}

// InventoryGet loads the inventory record for a token.
func (m *Manager) InventoryGet(token string) (*otc.TokenInventory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedInventory
	ok, err := m.get(inventoryKey(token), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &otc.TokenInventory{
		Token:     stored.Token,
		Deposited: ensureBig(stored.Deposited),
		Reserved:  ensureBig(stored.Reserved),
	}, true, nil
}

// InventoryPut stores the inventory record for a token.
func (m *Manager) InventoryPut(inv *otc.TokenInventory) error {
	if inv == nil {
		return fmt.Errorf("state: nil inventory")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(inventoryKey(inv.Token), &storedInventory{
		Token:     inv.Token,
		Deposited: ensureBig(inv.Deposited),
		Reserved:  ensureBig(inv.Reserved),
	})
}

type storedIDList struct {
	IDs []uint64
}

// OpenOffersGet loads the open-offer index.
func (m *Manager) OpenOffersGet() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedIDList
	ok, err := m.get([]byte(openOffersKey), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.IDs, nil
}

// OpenOffersPut stores the open-offer index.
func (m *Manager) OpenOffersPut(ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put([]byte(openOffersKey), &storedIDList{IDs: ids})
}

// BeneficiaryOffersGet loads the IDs of offers created for an address.
func (m *Manager) BeneficiaryOffersGet(addr [20]byte) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedIDList
	ok, err := m.get(beneficiaryKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.IDs, nil
}

// BeneficiaryOffersPut stores the offer index for an address.
func (m *Manager) BeneficiaryOffersPut(addr [20]byte, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(beneficiaryKey(addr), &storedIDList{IDs: ids})
}

type balanceEntry struct {
	Asset  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []balanceEntry
}

// Account loads an account, returning an empty record when none is stored.
func (m *Manager) Account(addr [20]byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stored storedAccount
	ok, err := m.get(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balances: make(map[string]*big.Int)}
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	for _, entry := range stored.Balances {
		account.Balances[entry.Asset] = ensureBig(entry.Amount)
	}
	return account, nil
}

// PutAccount stores an account. Balances serialise as a sorted asset list so
// the encoding is deterministic.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := &storedAccount{Nonce: account.Nonce}
	assets := make([]string, 0, len(account.Balances))
	for asset := range account.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		stored.Balances = append(stored.Balances, balanceEntry{
			Asset:  asset,
			Amount: ensureBig(account.Balances[asset]),
		})
	}
	return m.put(accountKey(addr), stored)
}
