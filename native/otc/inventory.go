package otc

import (
	"fmt"
	"math/big"
)

// TokenInventory carries the custody counters for a single token: Deposited is
// everything the desk vault holds, Reserved the portion committed to live
// consignments and unresolved offers.
type TokenInventory struct {
	Token     string
	Deposited *big.Int
	Reserved  *big.Int
}

// Clone returns a deep copy of the inventory row.
func (i *TokenInventory) Clone() *TokenInventory {
	if i == nil {
		return nil
	}
	return &TokenInventory{
		Token:     i.Token,
		Deposited: cloneBigInt(i.Deposited),
		Reserved:  cloneBigInt(i.Reserved),
	}
}

// Available returns the unreserved portion of the deposits.
func (i *TokenInventory) Available() *big.Int {
	if i == nil {
		return big.NewInt(0)
	}
	dep := cloneBigInt(i.Deposited)
	res := cloneBigInt(i.Reserved)
	if dep.Cmp(res) < 0 {
		return big.NewInt(0)
	}
	return dep.Sub(dep, res)
}

// InventoryState is the persistence surface the ledger operates against.
type InventoryState interface {
	InventoryGet(token string) (*TokenInventory, bool, error)
	InventoryPut(*TokenInventory) error
}

// InventoryLedger enforces the custody invariant reserved <= deposited over
// pure counter arithmetic. Underflow on any counter is an invariant violation,
// never a silently clamped value.
type InventoryLedger struct {
	state InventoryState
}

// NewInventoryLedger binds a ledger to the supplied state backend.
func NewInventoryLedger(state InventoryState) *InventoryLedger {
	return &InventoryLedger{state: state}
}

func (l *InventoryLedger) load(token string) (*TokenInventory, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("otc: inventory ledger not configured")
	}
	symbol, err := NormalizeSymbol(token)
	if err != nil {
		return nil, err
	}
	inv, ok, err := l.state.InventoryGet(symbol)
	if err != nil {
		return nil, err
	}
	if !ok || inv == nil {
		return &TokenInventory{Token: symbol, Deposited: big.NewInt(0), Reserved: big.NewInt(0)}, nil
	}
	clone := inv.Clone()
	clone.Token = symbol
	if clone.Deposited == nil {
		clone.Deposited = big.NewInt(0)
	}
	if clone.Reserved == nil {
		clone.Reserved = big.NewInt(0)
	}
	return clone, nil
}

func (l *InventoryLedger) store(inv *TokenInventory) error {
	if inv.Deposited.Sign() < 0 || inv.Reserved.Sign() < 0 {
		return fmt.Errorf("%w: negative counter for %s", ErrInvariantViolation, inv.Token)
	}
	if inv.Reserved.Cmp(inv.Deposited) > 0 {
		return fmt.Errorf("%w: reserved exceeds deposited for %s", ErrInvariantViolation, inv.Token)
	}
	return l.state.InventoryPut(inv)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}

// Deposit records tokens entering desk custody.
func (l *InventoryLedger) Deposit(token string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	inv, err := l.load(token)
	if err != nil {
		return err
	}
	inv.Deposited.Add(inv.Deposited, amount)
	return l.store(inv)
}

// Reserve commits deposited tokens, failing when the unreserved balance is
// insufficient.
func (l *InventoryLedger) Reserve(token string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	inv, err := l.load(token)
	if err != nil {
		return err
	}
	if amount.Cmp(inv.Available()) > 0 {
		return ErrInsufficientAvailable
	}
	inv.Reserved.Add(inv.Reserved, amount)
	return l.store(inv)
}

// Release returns reserved tokens to the unreserved pool.
func (l *InventoryLedger) Release(token string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	inv, err := l.load(token)
	if err != nil {
		return err
	}
	if amount.Cmp(inv.Reserved) > 0 {
		return fmt.Errorf("%w: release exceeds reserved for %s", ErrInvariantViolation, inv.Token)
	}
	inv.Reserved.Sub(inv.Reserved, amount)
	return l.store(inv)
}

// Consume removes reserved tokens from custody entirely, used when tokens
// physically leave the vault on claim or withdrawal.
func (l *InventoryLedger) Consume(token string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	inv, err := l.load(token)
	if err != nil {
		return err
	}
	if amount.Cmp(inv.Reserved) > 0 || amount.Cmp(inv.Deposited) > 0 {
		return fmt.Errorf("%w: consume exceeds counters for %s", ErrInvariantViolation, inv.Token)
	}
	inv.Reserved.Sub(inv.Reserved, amount)
	inv.Deposited.Sub(inv.Deposited, amount)
	return l.store(inv)
}

// Withdraw removes unreserved tokens from custody (owner float withdrawals).
func (l *InventoryLedger) Withdraw(token string, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	inv, err := l.load(token)
	if err != nil {
		return err
	}
	if amount.Cmp(inv.Available()) > 0 {
		return ErrInsufficientAvailable
	}
	inv.Deposited.Sub(inv.Deposited, amount)
	return l.store(inv)
}

// Snapshot returns a copy of the inventory row for the token.
func (l *InventoryLedger) Snapshot(token string) (*TokenInventory, error) {
	return l.load(token)
}
