// Package lending implements the loan subsystem: loans are created by a
// pluggable LendingStrategy that decides the interest model and collateral
// requirements, and the Manager keeps their lifecycle consistent with the
// balance ledger.
//
// The strategy holds a back-reference to the manager (handed over during
// initialization, not owned) so custom strategies can inspect open loans
// when pricing new ones.
package lending

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barsim/internal/config"
	"barsim/internal/container"
	"barsim/internal/errs"
	"barsim/internal/ledger"
	"barsim/pkg/money"
)

// LoanInfo is the externally visible snapshot of a loan.
type LoanInfo struct {
	ID             string
	IsOpen         bool
	BorrowedSymbol string
	BorrowedAmount decimal.Decimal
}

// Loan is a single open or repaid loan. Concrete types come from the
// lending strategy, which decides how interest accrues and what
// collateral is required.
type Loan interface {
	ID() string
	IsOpen() bool
	BorrowedSymbol() string
	BorrowedAmount() decimal.Decimal
	CreatedAt() time.Time
	Close()
	// CalculateInterest returns the interest owed at the given time,
	// per symbol, non-negative.
	CalculateInterest(at time.Time) money.ValueMap
	// CalculateCollateral returns the amounts to hold while the loan is
	// open, per symbol, non-negative.
	CalculateCollateral() money.ValueMap
	Info() LoanInfo
}

// BaseLoan carries the state every loan shares; strategies embed it.
type BaseLoan struct {
	id             string
	borrowedSymbol string
	borrowedAmount decimal.Decimal
	createdAt      time.Time
	open           bool
}

// NewBaseLoan initializes the shared loan state.
func NewBaseLoan(id, borrowedSymbol string, borrowedAmount decimal.Decimal, createdAt time.Time) BaseLoan {
	return BaseLoan{
		id:             id,
		borrowedSymbol: borrowedSymbol,
		borrowedAmount: borrowedAmount,
		createdAt:      createdAt,
		open:           true,
	}
}

func (l *BaseLoan) ID() string                      { return l.id }
func (l *BaseLoan) IsOpen() bool                    { return l.open }
func (l *BaseLoan) BorrowedSymbol() string          { return l.borrowedSymbol }
func (l *BaseLoan) BorrowedAmount() decimal.Decimal { return l.borrowedAmount }
func (l *BaseLoan) CreatedAt() time.Time            { return l.createdAt }
func (l *BaseLoan) Close()                          { l.open = false }

func (l *BaseLoan) Info() LoanInfo {
	return LoanInfo{
		ID:             l.id,
		IsOpen:         l.open,
		BorrowedSymbol: l.borrowedSymbol,
		BorrowedAmount: l.borrowedAmount,
	}
}

// ExchangeContext gives lending strategies access to the services they
// may need when constructing loans.
type ExchangeContext struct {
	Balances *ledger.AccountBalances
	Registry *config.Registry
}

// Strategy builds loans. The default is NoLoans.
type Strategy interface {
	// SetExchangeContext is called once while the exchange is wired up.
	SetExchangeContext(manager *Manager, ctx ExchangeContext)
	// CreateLoan constructs (but does not register) a loan.
	CreateLoan(symbol string, amount decimal.Decimal, createdAt time.Time) (Loan, error)
}

// ————————————————————————————————————————————————————————————————————————
// NoLoans
// ————————————————————————————————————————————————————————————————————————

// NoLoans rejects every loan request.
type NoLoans struct{}

func NewNoLoans() *NoLoans { return &NoLoans{} }

func (s *NoLoans) SetExchangeContext(*Manager, ExchangeContext) {}

func (s *NoLoans) CreateLoan(string, decimal.Decimal, time.Time) (Loan, error) {
	return nil, fmt.Errorf("lending is not supported: %w", errs.ErrNotSupported)
}

// ————————————————————————————————————————————————————————————————————————
// MarginLoans
// ————————————————————————————————————————————————————————————————————————

// MarginLoans lends any symbol at a fixed annual rate, accrued linearly
// on the borrowed amount, with collateral held as a fraction of the
// borrowed amount in the same symbol.
type MarginLoans struct {
	annualRate    decimal.Decimal // e.g. 0.08 for 8% per year
	collateralPct decimal.Decimal // e.g. 0.2 holds 20% of the amount
}

// NewMarginLoans builds the strategy; both parameters are fractions.
func NewMarginLoans(annualRate, collateralPct decimal.Decimal) *MarginLoans {
	return &MarginLoans{annualRate: annualRate, collateralPct: collateralPct}
}

func (s *MarginLoans) SetExchangeContext(*Manager, ExchangeContext) {}

func (s *MarginLoans) CreateLoan(symbol string, amount decimal.Decimal, createdAt time.Time) (Loan, error) {
	return &marginLoan{
		BaseLoan:      NewBaseLoan(uuid.NewString(), symbol, amount, createdAt),
		annualRate:    s.annualRate,
		collateralPct: s.collateralPct,
	}, nil
}

type marginLoan struct {
	BaseLoan
	annualRate    decimal.Decimal
	collateralPct decimal.Decimal
}

var secondsPerYear = decimal.NewFromInt(365 * 24 * 60 * 60)

func (l *marginLoan) CalculateInterest(at time.Time) money.ValueMap {
	elapsed := at.Sub(l.CreatedAt())
	if elapsed <= 0 {
		return nil
	}
	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	interest := l.BorrowedAmount().Mul(l.annualRate).Mul(seconds).Div(secondsPerYear)
	return money.ValueMap{l.BorrowedSymbol(): interest}
}

func (l *marginLoan) CalculateCollateral() money.ValueMap {
	collateral := l.BorrowedAmount().Mul(l.collateralPct)
	if !collateral.IsPositive() {
		return nil
	}
	return money.ValueMap{l.BorrowedSymbol(): collateral}
}

// ————————————————————————————————————————————————————————————————————————
// Manager
// ————————————————————————————————————————————————————————————————————————

// Manager owns the loan registry and keeps loan lifecycle transitions and
// ledger updates consistent.
type Manager struct {
	loans    *container.Container[Loan]
	strategy Strategy
	ctx      ExchangeContext
}

// NewManager wires the strategy to the ledger and hands it the manager
// back-reference.
func NewManager(strategy Strategy, ctx ExchangeContext) *Manager {
	m := &Manager{
		loans:    container.New[Loan](),
		strategy: strategy,
		ctx:      ctx,
	}
	strategy.SetExchangeContext(m, ctx)
	return m
}

// CreateLoan borrows amount of symbol: the ledger is credited, the
// borrowed balance incremented, and the strategy's collateral placed on
// hold, all atomically.
func (m *Manager) CreateLoan(symbol string, amount decimal.Decimal, now time.Time) (LoanInfo, error) {
	if !amount.IsPositive() {
		return LoanInfo{}, fmt.Errorf("loan amount %s must be positive: %w", amount, errs.ErrInvalidRequest)
	}
	loan, err := m.strategy.CreateLoan(symbol, amount, now)
	if err != nil {
		return LoanInfo{}, err
	}
	collateral := loan.CalculateCollateral()
	if err := m.ctx.Balances.AcceptLoan(loan.ID(), symbol, amount, collateral); err != nil {
		return LoanInfo{}, err
	}
	m.loans.Add(loan)
	return loan.Info(), nil
}

// OpenLoans returns the open loans in creation order.
func (m *Manager) OpenLoans() []LoanInfo {
	open := m.loans.Open()
	ret := make([]LoanInfo, 0, len(open))
	for _, loan := range open {
		ret = append(ret, loan.Info())
	}
	return ret
}

// Loan returns a loan by id.
func (m *Manager) Loan(loanID string) (LoanInfo, error) {
	loan, ok := m.loans.Get(loanID)
	if !ok {
		return LoanInfo{}, fmt.Errorf("loan %s: %w", loanID, errs.ErrNotFound)
	}
	return loan.Info(), nil
}

// RepayLoan returns the borrowed amount plus interest and releases the
// collateral. Interest amounts are truncated to each symbol's configured
// precision. On any shortfall nothing changes.
func (m *Manager) RepayLoan(loanID string, now time.Time) error {
	loan, ok := m.loans.Get(loanID)
	if !ok {
		return fmt.Errorf("loan %s: %w", loanID, errs.ErrNotFound)
	}
	if !loan.IsOpen() {
		return fmt.Errorf("loan %s is not open: %w", loanID, errs.ErrIllegalState)
	}

	interest := money.ValueMap{}
	for symbol, amount := range loan.CalculateInterest(now) {
		truncated := money.Truncate(amount, m.ctx.Registry.SymbolPrecision(symbol))
		if truncated.IsPositive() {
			interest[symbol] = truncated
		}
	}
	if err := m.ctx.Balances.RepayLoan(loanID, loan.BorrowedSymbol(), loan.BorrowedAmount(), interest); err != nil {
		return err
	}
	loan.Close()
	return nil
}
