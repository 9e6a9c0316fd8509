package otc

import (
	"fmt"
	"math/big"
	"strings"
)

// Currency selects the settlement leg of an offer: the chain's native coin
// priced through the reference feed, or the stable asset settled 1:1 with USD.
type Currency uint8

const (
	CurrencyNative Currency = iota
	CurrencyStable
)

// Valid reports whether the currency value is supported.
func (c Currency) Valid() bool {
	return c == CurrencyNative || c == CurrencyStable
}

func (c Currency) String() string {
	switch c {
	case CurrencyNative:
		return "native"
	case CurrencyStable:
		return "stable"
	default:
		return fmt.Sprintf("currency(%d)", uint8(c))
	}
}

const (
	bpsDenominator = 10_000
	// Prices are 8-decimal fixed point USD: 1_0000_0000 == $1.
	usdUnit8 = 100_000_000

	maxApprovers  = 32
	maxQuorum     = 10
	secondsPerDay = 86_400
)

// Asset symbols for the settlement legs. Consigned tokens use their own
// registered symbol.
const (
	AssetNative = "NATIVE"
	AssetStable = "USDC"
)

// NormalizeSymbol canonicalises a token symbol to uppercase, rejecting blanks.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("otc: token symbol required")
	}
	return trimmed, nil
}

// TokenRegistration describes a token the desk will consign. Immutable after
// creation except for the active toggle.
type TokenRegistration struct {
	Symbol    string
	Decimals  uint8
	FeedID    string
	Active    bool
	CreatedAt int64
}

// Clone returns a copy of the registration.
func (t *TokenRegistration) Clone() *TokenRegistration {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Consignment is a seller's escrowed pool of tokens offered under fixed or
// negotiable terms. RemainingAmount tracks the portion not yet committed to
// open offers.
type Consignment struct {
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
	MaxTimeToExecuteSecs  int64
	Active                bool
	CreatedAt             int64
}

// Clone returns a deep copy of the consignment.
func (c *Consignment) Clone() *Consignment {
	if c == nil {
		return nil
	}
	clone := *c
	clone.TotalAmount = cloneBigInt(c.TotalAmount)
	clone.RemainingAmount = cloneBigInt(c.RemainingAmount)
	clone.MinDealAmount = cloneBigInt(c.MinDealAmount)
	clone.MaxDealAmount = cloneBigInt(c.MaxDealAmount)
	clone.AllowList = append([][20]byte{}, c.AllowList...)
	return &clone
}

// Allows reports whether the supplied address may buy from this consignment.
func (c *Consignment) Allows(addr [20]byte) bool {
	if c == nil {
		return false
	}
	if !c.Private {
		return true
	}
	for _, entry := range c.AllowList {
		if entry == addr {
			return true
		}
	}
	return false
}

// SanitizeConsignment validates and normalises a consignment definition,
// returning a clone with canonical token casing and non-nil amounts.
func SanitizeConsignment(c *Consignment) (*Consignment, error) {
	if c == nil {
		return nil, fmt.Errorf("otc: nil consignment")
	}
	clone := c.Clone()
	token, err := NormalizeSymbol(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.TotalAmount == nil || clone.TotalAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if clone.RemainingAmount.Sign() < 0 || clone.RemainingAmount.Cmp(clone.TotalAmount) > 0 {
		return nil, fmt.Errorf("otc: remaining amount out of bounds")
	}
	if clone.MaxDealAmount.Sign() > 0 && clone.MinDealAmount.Cmp(clone.MaxDealAmount) > 0 {
		return nil, ErrInvalidRange
	}
	if clone.Negotiable {
		if clone.MinDiscountBps > clone.MaxDiscountBps || clone.MinLockupDays > clone.MaxLockupDays {
			return nil, ErrInvalidRange
		}
	}
	if clone.MaxDiscountBps > bpsDenominator || clone.FixedDiscountBps > bpsDenominator {
		return nil, ErrInvalidRange
	}
	return clone, nil
}

// Offer is a buyer's committed deal against a consignment, carrying a frozen
// price snapshot taken at creation.
type Offer struct {
	ID                   uint64
	ConsignmentID        uint64
	Token                string
	Beneficiary          [20]byte
	TokenAmount          *big.Int
	DiscountBps          uint16
	CreatedAt            int64
	LockupSecs           int64
	UnlockTime           int64
	PaidAt               int64
	PriceUsd8            uint64
	RefPriceUsd8         uint64
	MaxPriceDeviationBps uint16
	Currency             Currency
	Approvals            [][20]byte
	Approved             bool
	Paid                 bool
	Fulfilled            bool
	Cancelled            bool
	Payer                [20]byte
	AmountPaid           *big.Int
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.TokenAmount = cloneBigInt(o.TokenAmount)
	clone.AmountPaid = cloneBigInt(o.AmountPaid)
	clone.Approvals = append([][20]byte{}, o.Approvals...)
	return &clone
}

// Open reports whether the offer has reached no terminal state.
func (o *Offer) Open() bool {
	return o != nil && !o.Fulfilled && !o.Cancelled
}

// HasApproval reports whether the supplied approver already approved.
func (o *Offer) HasApproval(addr [20]byte) bool {
	if o == nil {
		return false
	}
	for _, entry := range o.Approvals {
		if entry == addr {
			return true
		}
	}
	return false
}

// SanitizeOffer validates and normalises an offer definition.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("otc: nil offer")
	}
	clone := o.Clone()
	token, err := NormalizeSymbol(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.TokenAmount == nil || clone.TokenAmount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if clone.DiscountBps > bpsDenominator {
		return nil, ErrInvalidRange
	}
	if !clone.Currency.Valid() {
		return nil, ErrUnsupportedCurrency
	}
	if clone.Fulfilled && clone.Cancelled {
		return nil, fmt.Errorf("otc: offer in contradictory terminal state")
	}
	return clone, nil
}

// Desk holds the engine's global configuration and counters.
type Desk struct {
	Owner                        [20]byte
	Agent                        [20]byte
	Vault                        [20]byte
	Approvers                    [][20]byte
	RequiredApprovals            uint32
	MinUsdAmount8                uint64
	MaxTokenPerOrder             *big.Int
	QuoteExpirySecs              int64
	MaxLockupSecs                int64
	MaxPriceAgeSecs              int64
	ManualPriceMaxAgeSecs        int64
	RestrictFulfillToBeneficiary bool
	RequireApproverToFulfill     bool
	EmergencyRefundEnabled       bool
	EmergencyRefundDeadlineSecs  int64
	AdminRecoverySecs            int64
	Paused                       bool
	NativeDecimals               uint8
	StableDecimals               uint8
	NextConsignmentID            uint64
	NextOfferID                  uint64
}

// Clone returns a deep copy of the desk record.
func (d *Desk) Clone() *Desk {
	if d == nil {
		return nil
	}
	clone := *d
	clone.MaxTokenPerOrder = cloneBigInt(d.MaxTokenPerOrder)
	clone.Approvers = append([][20]byte{}, d.Approvers...)
	return &clone
}

// IsApprover reports whether the address may approve offers. The agent always
// counts as an approver.
func (d *Desk) IsApprover(addr [20]byte) bool {
	if d == nil {
		return false
	}
	if d.Agent != ([20]byte{}) && addr == d.Agent {
		return true
	}
	for _, entry := range d.Approvers {
		if entry == addr {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the address is the owner, the agent or an
// approver. Privileged callers pass the restricted-fulfil and cancellation
// checks.
func (d *Desk) IsPrivileged(addr [20]byte) bool {
	if d == nil {
		return false
	}
	return addr == d.Owner || d.IsApprover(addr)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
