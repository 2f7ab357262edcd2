// Package ledger implements the account balance book of the simulated
// exchange: per-symbol available and borrowed funds, plus a hold table
// keyed by (owner id, symbol) that reserves funds against open orders and
// loan collateral.
//
// Every mutating operation is transactional: updates are staged, verified
// against the no-negative-balance invariant, and committed only if the
// whole set passes. On failure the ledger is untouched and the caller gets
// errs.ErrNotEnoughBalance, or errs.ErrIllegalState from RepayLoan when the
// repayment exceeds the borrowed amount.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"barsim/internal/errs"
	"barsim/pkg/money"
)

// OrderView is the slice of an order the ledger needs to settle holds.
type OrderView interface {
	ID() string
	IsOpen() bool
	Amount() decimal.Decimal
	AmountFilled() decimal.Decimal
}

// AccountBalances tracks funds for a single account.
type AccountBalances struct {
	available map[string]decimal.Decimal
	borrowed  map[string]decimal.Decimal

	// holds is the live hold per owner id (order or loan) and symbol.
	// initialHolds remembers the hold placed at acceptance so that the
	// expected hold of a partially filled order can be derived pro rata.
	holds        map[string]money.ValueMap
	initialHolds map[string]money.ValueMap
}

// NewAccountBalances creates the ledger with the given initial available
// balances. Negative initial amounts are a programming error and panic.
func NewAccountBalances(initial money.ValueMap) *AccountBalances {
	a := &AccountBalances{
		available:    make(map[string]decimal.Decimal),
		borrowed:     make(map[string]decimal.Decimal),
		holds:        make(map[string]money.ValueMap),
		initialHolds: make(map[string]money.ValueMap),
	}
	for symbol, amount := range initial {
		if amount.IsNegative() {
			panic(fmt.Sprintf("negative initial balance %s %s", amount, symbol))
		}
		a.available[symbol] = amount
	}
	return a
}

// Available returns the spendable balance for symbol.
func (a *AccountBalances) Available(symbol string) decimal.Decimal {
	return a.available[symbol]
}

// Borrowed returns the outstanding borrowed balance for symbol.
func (a *AccountBalances) Borrowed(symbol string) decimal.Decimal {
	return a.borrowed[symbol]
}

// OnHold returns the total held balance for symbol across all owners.
func (a *AccountBalances) OnHold(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, held := range a.holds {
		total = total.Add(held.Get(symbol))
	}
	return total
}

// OnHoldForID returns the balance held for a specific order or loan.
func (a *AccountBalances) OnHoldForID(id, symbol string) decimal.Decimal {
	return a.holds[id].Get(symbol)
}

// Symbols returns every symbol the ledger has seen, sorted.
func (a *AccountBalances) Symbols() []string {
	seen := map[string]struct{}{}
	for symbol := range a.available {
		seen[symbol] = struct{}{}
	}
	for symbol := range a.borrowed {
		seen[symbol] = struct{}{}
	}
	for _, held := range a.holds {
		for symbol := range held {
			seen[symbol] = struct{}{}
		}
	}
	ret := make([]string, 0, len(seen))
	for symbol := range seen {
		ret = append(ret, symbol)
	}
	sort.Strings(ret)
	return ret
}

// OrderAccepted reserves the required balances for a newly accepted order,
// moving them from available to the order's hold. All moves succeed or
// none do.
func (a *AccountBalances) OrderAccepted(order OrderView, required money.ValueMap) error {
	tx := a.begin()
	for _, symbol := range required.Symbols() {
		amount := required[symbol]
		if !amount.IsPositive() {
			continue
		}
		tx.add(symbol, amount.Neg())
	}
	if err := tx.verify(); err != nil {
		return err
	}
	tx.commit()

	held := money.ValueMap{}
	for symbol, amount := range required {
		if amount.IsPositive() {
			held[symbol] = amount
		}
	}
	if len(held) > 0 {
		a.holds[order.ID()] = held
		a.initialHolds[order.ID()] = held.Copy()
	}
	return nil
}

// OrderUpdated settles a fill (or a close) against the ledger. The final
// updates are applied to available balances; then the order's holds are
// rebalanced — released entirely if the order is no longer open, or shrunk
// pro rata to the unfilled remainder if it is. The whole settlement is one
// transaction.
func (a *AccountBalances) OrderUpdated(order OrderView, finalUpdates money.ValueMap) error {
	id := order.ID()
	tx := a.begin()
	for _, symbol := range finalUpdates.Symbols() {
		tx.add(symbol, finalUpdates[symbol])
	}

	release := a.holdRelease(order)
	for _, symbol := range release.Symbols() {
		tx.add(symbol, release[symbol])
	}
	if err := tx.verify(); err != nil {
		return err
	}
	tx.commit()

	if !order.IsOpen() {
		delete(a.holds, id)
		delete(a.initialHolds, id)
		return nil
	}
	held := a.holds[id]
	for symbol, amount := range release {
		remaining := held[symbol].Sub(amount)
		if remaining.IsPositive() {
			held[symbol] = remaining
		} else {
			delete(held, symbol)
		}
	}
	if len(held) == 0 {
		delete(a.holds, id)
	}
	return nil
}

// holdRelease computes how much of the order's hold goes back to
// available: everything for a closed order, the excess over the pro-rata
// expected hold for a still-open one.
func (a *AccountBalances) holdRelease(order OrderView) money.ValueMap {
	held := a.holds[order.ID()]
	if len(held) == 0 {
		return nil
	}
	if !order.IsOpen() {
		return held.Copy()
	}

	ratio := decimal.Zero
	if order.Amount().IsPositive() {
		ratio = order.Amount().Sub(order.AmountFilled()).Div(order.Amount())
	}
	initial := a.initialHolds[order.ID()]
	release := money.ValueMap{}
	for symbol, current := range held {
		expected := initial.Get(symbol).Mul(ratio)
		if expected.GreaterThan(current) {
			expected = current
		}
		if excess := current.Sub(expected); excess.IsPositive() {
			release[symbol] = excess
		}
	}
	return release
}

// AcceptLoan credits the borrowed amount to available, registers it as
// borrowed, and places the collateral on hold under the loan id. The
// collateral may be funded by the credited amount itself.
func (a *AccountBalances) AcceptLoan(loanID, symbol string, amount decimal.Decimal, collateral money.ValueMap) error {
	tx := a.begin()
	tx.add(symbol, amount)
	for _, colSymbol := range collateral.Symbols() {
		tx.add(colSymbol, collateral[colSymbol].Neg())
	}
	if err := tx.verify(); err != nil {
		return err
	}
	tx.commit()

	a.borrowed[symbol] = a.borrowed[symbol].Add(amount)
	if held := collateral.Prune(); len(held) > 0 {
		a.holds[loanID] = held
	}
	return nil
}

// RepayLoan returns the borrowed amount, debits the interest, and releases
// the loan's collateral hold, all atomically.
func (a *AccountBalances) RepayLoan(loanID, symbol string, amount decimal.Decimal, interest money.ValueMap) error {
	tx := a.begin()
	tx.add(symbol, amount.Neg())
	for _, intSymbol := range interest.Symbols() {
		tx.add(intSymbol, interest[intSymbol].Neg())
	}
	collateral := a.holds[loanID]
	for _, colSymbol := range collateral.Symbols() {
		tx.add(colSymbol, collateral[colSymbol])
	}
	if err := tx.verify(); err != nil {
		return err
	}
	if a.borrowed[symbol].Sub(amount).IsNegative() {
		return fmt.Errorf("repaying %s %s exceeds borrowed %s: %w",
			amount, symbol, a.borrowed[symbol], errs.ErrIllegalState)
	}
	tx.commit()

	a.borrowed[symbol] = a.borrowed[symbol].Sub(amount)
	delete(a.holds, loanID)
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Staged transactions
// ————————————————————————————————————————————————————————————————————————

// tx stages changes to available balances. Nothing is visible until
// commit; verify enforces the no-negative invariant over the staged view.
type tx struct {
	ledger *AccountBalances
	staged money.ValueMap
}

func (a *AccountBalances) begin() *tx {
	return &tx{ledger: a, staged: money.ValueMap{}}
}

func (t *tx) add(symbol string, amount decimal.Decimal) {
	if _, ok := t.staged[symbol]; !ok {
		t.staged[symbol] = t.ledger.available[symbol]
	}
	t.staged[symbol] = t.staged[symbol].Add(amount)
}

func (t *tx) verify() error {
	for _, symbol := range t.staged.Symbols() {
		if t.staged[symbol].IsNegative() {
			return fmt.Errorf("%s would go to %s: %w",
				symbol, t.staged[symbol], errs.ErrNotEnoughBalance)
		}
	}
	return nil
}

func (t *tx) commit() {
	for symbol, amount := range t.staged {
		t.ledger.available[symbol] = amount
	}
}
