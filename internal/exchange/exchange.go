// Package exchange implements the backtesting exchange: the public
// trading facade and the per-bar matching engine behind it.
//
// The exchange owns the balance ledger, the order and loan registries,
// and one liquidity strategy per pair. An external dispatcher delivers
// bar events in chronological order; on each bar the engine matches the
// pair's open orders in id-allocation order, applying liquidity limits,
// fees and balance updates as one consistent transaction per fill, and
// then forwards the bar to strategy subscribers.
//
// Everything is synchronous and single-threaded: a bar is fully processed
// before the next event is dispatched, and all public operations execute
// between bar events.
package exchange

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"barsim/internal/api"
	"barsim/internal/config"
	"barsim/internal/container"
	"barsim/internal/dispatch"
	"barsim/internal/errs"
	"barsim/internal/fees"
	"barsim/internal/ledger"
	"barsim/internal/lending"
	"barsim/internal/liquidity"
	"barsim/internal/orders"
	"barsim/pkg/money"
	"barsim/pkg/types"
)

// EventDispatcher is the slice of the dispatcher the exchange consumes:
// event delivery and the logical clock.
type EventDispatcher interface {
	Subscribe(source dispatch.Source, handler dispatch.Handler)
	Now() time.Time
}

// CreatedOrder is returned by the create_* operations.
type CreatedOrder struct {
	ID string
}

// CanceledOrder is returned by CancelOrder.
type CanceledOrder struct {
	ID string
}

// OpenOrder is the per-order entry returned by OpenOrders.
type OpenOrder struct {
	ID           string
	Operation    types.Side
	Amount       decimal.Decimal
	AmountFilled decimal.Decimal
}

// BarEventHandler receives the bars forwarded to strategy subscribers.
type BarEventHandler func(event types.BarEvent)

// Exchange simulates order and loan execution against a bar stream.
type Exchange struct {
	dispatcher EventDispatcher
	balances   *ledger.AccountBalances
	registry   *config.Registry

	liquidityFactory    liquidity.Factory
	liquidityStrategies map[types.Pair]liquidity.Strategy
	feeStrategy         fees.Strategy
	lendingStrategy     lending.Strategy
	loans               *lending.Manager

	orders     *container.Container[orders.Order]
	barSources map[types.Pair]*dispatch.FifoQueueSource
	lastBars   map[types.Pair]types.Bar

	bidAskSpread decimal.Decimal // percent of the last close

	dashboardEvents chan api.Event
	logger          *slog.Logger
}

// Option customizes the exchange at construction.
type Option func(*Exchange)

// WithLiquidityFactory sets the factory used to build the per-pair
// liquidity strategy. Default: VolumeShareImpact with stock parameters.
func WithLiquidityFactory(factory liquidity.Factory) Option {
	return func(e *Exchange) { e.liquidityFactory = factory }
}

// WithFeeStrategy sets the fee strategy. Default: NoFee.
func WithFeeStrategy(strategy fees.Strategy) Option {
	return func(e *Exchange) { e.feeStrategy = strategy }
}

// WithLendingStrategy sets the lending strategy. Default: NoLoans.
func WithLendingStrategy(strategy lending.Strategy) Option {
	return func(e *Exchange) { e.lendingStrategy = strategy }
}

// WithBidAskSpread sets the spread used by BidAsk, as a percentage of the
// last close. Default: 0.5.
func WithBidAskSpread(spread decimal.Decimal) Option {
	return func(e *Exchange) { e.bidAskSpread = spread }
}

// WithRegistry sets the pair/symbol precision registry. Default: an empty
// registry falling back to base precision 0, quote precision 2.
func WithRegistry(registry *config.Registry) Option {
	return func(e *Exchange) { e.registry = registry }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) { e.logger = logger }
}

// New creates the exchange with the given initial available balances.
func New(dispatcher EventDispatcher, initialBalances money.ValueMap, opts ...Option) *Exchange {
	e := &Exchange{
		dispatcher:          dispatcher,
		balances:            ledger.NewAccountBalances(initialBalances),
		registry:            config.NewRegistry(types.PairInfo{BasePrecision: 0, QuotePrecision: 2}),
		liquidityFactory:    func() liquidity.Strategy { return liquidity.DefaultVolumeShareImpact() },
		liquidityStrategies: make(map[types.Pair]liquidity.Strategy),
		feeStrategy:         fees.NewNoFee(),
		lendingStrategy:     lending.NewNoLoans(),
		orders:              container.New[orders.Order](),
		barSources:          make(map[types.Pair]*dispatch.FifoQueueSource),
		lastBars:            make(map[types.Pair]types.Bar),
		bidAskSpread:        decimal.RequireFromString("0.5"),
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "exchange")
	e.loans = lending.NewManager(e.lendingStrategy, lending.ExchangeContext{
		Balances: e.balances,
		Registry: e.registry,
	})
	return e
}

// ————————————————————————————————————————————————————————————————————————
// Balances and prices
// ————————————————————————————————————————————————————————————————————————

// Balance returns the balance for a symbol.
func (e *Exchange) Balance(symbol string) types.Balance {
	return types.NewBalance(
		e.balances.Available(symbol),
		e.balances.OnHold(symbol),
		e.balances.Borrowed(symbol),
		decimal.Zero,
	)
}

// Balances returns every symbol's balance.
func (e *Exchange) Balances() map[string]types.Balance {
	ret := make(map[string]types.Balance)
	for _, symbol := range e.balances.Symbols() {
		ret[symbol] = e.Balance(symbol)
	}
	return ret
}

// BidAsk derives bid and ask prices from the last bar's close and the
// configured spread. ok is false until a bar has been seen for the pair.
func (e *Exchange) BidAsk(pair types.Pair) (bid, ask decimal.Decimal, ok bool) {
	last, seen := e.lastBars[pair]
	if !seen {
		return decimal.Zero, decimal.Zero, false
	}
	info := e.registry.PairInfo(pair)
	hundred := decimal.NewFromInt(100)
	two := decimal.NewFromInt(2)
	halfSpread := money.Truncate(last.Close.Mul(e.bidAskSpread).Div(hundred).Div(two), info.QuotePrecision)
	return last.Close.Sub(halfSpread), last.Close.Add(halfSpread), true
}

// PairInfo returns the precisions for a pair.
func (e *Exchange) PairInfo(pair types.Pair) types.PairInfo {
	return e.registry.PairInfo(pair)
}

// SetPairInfo registers the precisions for a pair. This is a
// construction-phase concern: call it before the first order.
func (e *Exchange) SetPairInfo(pair types.Pair, info types.PairInfo) {
	e.registry.SetPairInfo(pair, info)
}

// SetSymbolPrecision registers the precision used to truncate loan
// interest in a symbol.
func (e *Exchange) SetSymbolPrecision(symbol string, precision int32) {
	e.registry.SetSymbolPrecision(symbol, precision)
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// CreateOrder validates the request, reserves the estimated required
// balances, and registers the order for matching on subsequent bars.
func (e *Exchange) CreateOrder(request orders.Request) (CreatedOrder, error) {
	info := e.registry.PairInfo(request.Pair())
	if err := request.Validate(info); err != nil {
		return CreatedOrder{}, err
	}

	required := e.estimateRequiredBalances(request, info)
	if err := e.requireBalances(required); err != nil {
		return CreatedOrder{}, err
	}

	order := request.CreateOrder(uuid.NewString(), info)
	e.orders.Add(order)
	e.logger.Debug("request accepted", "order_id", order.ID())

	if err := e.balances.OrderAccepted(order, required); err != nil {
		return CreatedOrder{}, err
	}
	e.emit("order", api.OrderEvent{
		OrderID:   order.ID(),
		Pair:      order.Pair().String(),
		Operation: string(order.Operation()),
		Status:    "ACCEPTED",
		Amount:    order.Amount(),
	})
	return CreatedOrder{ID: order.ID()}, nil
}

// CreateMarketOrder creates an order that executes on the next bar at the
// open price, within the liquidity budget. Whatever is unfilled after
// that bar is canceled.
func (e *Exchange) CreateMarketOrder(operation types.Side, pair types.Pair, amount decimal.Decimal) (CreatedOrder, error) {
	return e.CreateOrder(orders.NewMarketRequest(operation, pair, amount))
}

// CreateLimitOrder creates an order that executes at the limit price once
// a bar touches it; fills are priced at the limit itself, never better.
func (e *Exchange) CreateLimitOrder(operation types.Side, pair types.Pair, amount, limitPrice decimal.Decimal) (CreatedOrder, error) {
	return e.CreateOrder(orders.NewLimitRequest(operation, pair, amount, limitPrice))
}

// CreateStopOrder creates an order that becomes a market order once the
// stop price is reached.
func (e *Exchange) CreateStopOrder(operation types.Side, pair types.Pair, amount, stopPrice decimal.Decimal) (CreatedOrder, error) {
	return e.CreateOrder(orders.NewStopRequest(operation, pair, amount, stopPrice))
}

// CreateStopLimitOrder creates an order that becomes a limit order once
// the stop price is reached.
func (e *Exchange) CreateStopLimitOrder(operation types.Side, pair types.Pair, amount, stopPrice, limitPrice decimal.Decimal) (CreatedOrder, error) {
	return e.CreateOrder(orders.NewStopLimitRequest(operation, pair, amount, stopPrice, limitPrice))
}

// CancelOrder cancels an open order and releases its holds.
func (e *Exchange) CancelOrder(orderID string) (CanceledOrder, error) {
	order, ok := e.orders.Get(orderID)
	if !ok {
		return CanceledOrder{}, fmt.Errorf("order %s: %w", orderID, errs.ErrNotFound)
	}
	if !order.IsOpen() {
		return CanceledOrder{}, fmt.Errorf("order %s is in %s state and can't be canceled: %w",
			orderID, order.State(), errs.ErrIllegalState)
	}
	order.Cancel()
	if err := e.balances.OrderUpdated(order, nil); err != nil {
		return CanceledOrder{}, err
	}
	e.emit("order", api.OrderEvent{
		OrderID:   order.ID(),
		Pair:      order.Pair().String(),
		Operation: string(order.Operation()),
		Status:    "CANCELED",
		Amount:    order.Amount(),
	})
	return CanceledOrder{ID: orderID}, nil
}

// OrderInfo returns the full state of an order, including its fills.
func (e *Exchange) OrderInfo(orderID string) (orders.Info, error) {
	order, ok := e.orders.Get(orderID)
	if !ok {
		return orders.Info{}, fmt.Errorf("order %s: %w", orderID, errs.ErrNotFound)
	}
	return order.Info(), nil
}

// OpenOrders returns all open orders in id-allocation order.
func (e *Exchange) OpenOrders() []OpenOrder {
	return e.openOrders(nil)
}

// OpenOrdersForPair returns the open orders for one pair.
func (e *Exchange) OpenOrdersForPair(pair types.Pair) []OpenOrder {
	return e.openOrders(&pair)
}

func (e *Exchange) openOrders(pair *types.Pair) []OpenOrder {
	ret := []OpenOrder{}
	for _, order := range e.orders.Open() {
		if pair != nil && order.Pair() != *pair {
			continue
		}
		ret = append(ret, OpenOrder{
			ID:           order.ID(),
			Operation:    order.Operation(),
			Amount:       order.Amount(),
			AmountFilled: order.AmountFilled(),
		})
	}
	return ret
}

// ————————————————————————————————————————————————————————————————————————
// Loans
// ————————————————————————————————————————————————————————————————————————

// CreateLoan borrows amount of symbol under the configured lending
// strategy.
func (e *Exchange) CreateLoan(symbol string, amount decimal.Decimal) (lending.LoanInfo, error) {
	info, err := e.loans.CreateLoan(symbol, amount, e.dispatcher.Now())
	if err != nil {
		return lending.LoanInfo{}, err
	}
	e.emit("loan", api.LoanEvent{LoanID: info.ID, Symbol: symbol, Amount: amount, Status: "CREATED"})
	return info, nil
}

// OpenLoans returns all open loans.
func (e *Exchange) OpenLoans() []lending.LoanInfo {
	return e.loans.OpenLoans()
}

// Loan returns a loan by id.
func (e *Exchange) Loan(loanID string) (lending.LoanInfo, error) {
	return e.loans.Loan(loanID)
}

// RepayLoan repays an open loan plus accrued interest and releases its
// collateral.
func (e *Exchange) RepayLoan(loanID string) error {
	if err := e.loans.RepayLoan(loanID, e.dispatcher.Now()); err != nil {
		return err
	}
	if info, err := e.loans.Loan(loanID); err == nil {
		e.emit("loan", api.LoanEvent{
			LoanID: info.ID, Symbol: info.BorrowedSymbol, Amount: info.BorrowedAmount, Status: "REPAID",
		})
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Event wiring
// ————————————————————————————————————————————————————————————————————————

// AddBarSource registers an event source that produces types.BarEvent
// values; these drive the backtest.
func (e *Exchange) AddBarSource(source dispatch.Source) {
	e.dispatcher.Subscribe(source, e.onBarEvent)
}

// SubscribeToBarEvents registers a handler invoked after each of the
// pair's bars has been matched. An order created inside the handler is
// seen by the matching engine from the next bar on.
func (e *Exchange) SubscribeToBarEvents(pair types.Pair, handler BarEventHandler) {
	source, ok := e.barSources[pair]
	if !ok {
		source = dispatch.NewFifoQueueSource()
		e.barSources[pair] = source
	}
	e.dispatcher.Subscribe(source, func(event dispatch.Event) {
		if barEvent, ok := event.(types.BarEvent); ok {
			handler(barEvent)
		}
	})
}

func (e *Exchange) onBarEvent(event dispatch.Event) {
	barEvent, ok := event.(types.BarEvent)
	if !ok {
		e.logger.Error("unexpected event on bar source", "event", fmt.Sprintf("%T", event))
		return
	}
	bar := barEvent.Bar
	e.lastBars[bar.Pair] = bar
	e.processOrders(bar)

	// Forward to strategy subscribers, if any.
	if source, ok := e.barSources[bar.Pair]; ok {
		source.Push(barEvent)
	}
	e.emit("bar", api.BarEvent{
		Pair: bar.Pair.String(), When: bar.When,
		Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
	})
}

// ————————————————————————————————————————————————————————————————————————
// Matching
// ————————————————————————————————————————————————————————————————————————

func (e *Exchange) processOrders(bar types.Bar) {
	liq, ok := e.liquidityStrategies[bar.Pair]
	if !ok {
		liq = e.liquidityFactory()
		e.liquidityStrategies[bar.Pair] = liq
	}
	liq.OnBar(bar)

	for _, order := range e.orders.Open() {
		if order.Pair() == bar.Pair {
			e.processOrder(order, bar, liq)
		}
	}
}

func (e *Exchange) processOrder(order orders.Order, bar types.Bar, liq liquidity.Strategy) {
	notFilled := func() {
		order.NotFilled()
		// Release any pending hold if the order is no longer open.
		if !order.IsOpen() {
			if err := e.balances.OrderUpdated(order, nil); err != nil {
				e.logger.Error("failed to release holds", "order_id", order.ID(), "error", err)
			}
			e.logger.Debug("order not filled", "order_id", order.ID(), "order_state", order.State())
		}
	}

	e.logger.Debug("processing order",
		"order_id", order.ID(), "order_type", order.Type(),
		"bar_open", bar.Open, "bar_high", bar.High, "bar_low", bar.Low,
		"bar_close", bar.Close, "bar_volume", bar.Volume,
	)
	prevState := order.State()
	updates := order.GetBalanceUpdates(bar, liq)
	if order.State() != prevState {
		e.logger.Error("order state changed inside GetBalanceUpdates", "order_id", order.ID())
		return
	}
	if len(updates) == 0 {
		notFilled()
		return
	}

	// Sanity check: a fill moves base and quote in opposite directions.
	if err := checkUpdateSigns(updates, order.Pair(), order.Operation()); err != nil {
		e.logger.Error("malformed balance updates", "order_id", order.ID(), "error", err)
		notFilled()
		return
	}

	// If rounding wiped out either side the fill is abandoned.
	updates = e.roundBalanceUpdates(order.Pair(), updates)
	e.logger.Debug("processing order", "order_id", order.ID(), "balance_updates", updates)
	if updates.Get(order.Pair().Base).IsZero() || updates.Get(order.Pair().Quote).IsZero() {
		notFilled()
		return
	}

	feeMap := e.roundFees(order.Pair(), e.feeStrategy.CalculateFees(order, updates))
	e.logger.Debug("processing order", "order_id", order.ID(), "fees", feeMap)
	finalUpdates := updates.Minus(feeMap).Prune()

	// The order's own holds count toward what it can spend.
	required := finalUpdates.Negatives()
	if !e.coveredWithHolds(required, order.ID()) {
		notFilled()
		return
	}

	liq.TakeLiquidity(updates.Get(order.Pair().Base).Abs())
	order.AddFill(bar.When, updates, feeMap)
	if err := e.balances.OrderUpdated(order, finalUpdates); err != nil {
		// coveredWithHolds guarantees this cannot happen; nothing was
		// committed to the ledger if it does.
		e.logger.Error("balance settlement failed", "order_id", order.ID(), "error", err)
		return
	}
	e.logger.Debug("order updated",
		"order_id", order.ID(), "final_updates", finalUpdates, "order_state", order.State())
	e.emit("fill", api.FillEvent{
		OrderID:        order.ID(),
		Pair:           order.Pair().String(),
		Operation:      string(order.Operation()),
		State:          string(order.State()),
		BalanceUpdates: updates,
		Fees:           feeMap,
	})
}

// checkUpdateSigns verifies that a non-empty balance update carries a
// base amount matching the operation's sign and a quote amount opposing
// it.
func checkUpdateSigns(updates money.ValueMap, pair types.Pair, operation types.Side) error {
	baseSign := operation.BaseSign().IntPart()
	base := updates.Get(pair.Base)
	if base.IsZero() || int64(base.Sign()) != baseSign {
		return fmt.Errorf("base update %s has the wrong sign for %s", base, operation)
	}
	quote := updates.Get(pair.Quote)
	if quote.IsZero() || int64(quote.Sign()) != -baseSign {
		return fmt.Errorf("quote update %s has the wrong sign for %s", quote, operation)
	}
	return nil
}

// roundBalanceUpdates applies the pair's precisions: the base amount is
// truncated so a fill can never exceed the granted liquidity, the quote
// amount is rounded half-even. Symbols outside the pair pass through.
func (e *Exchange) roundBalanceUpdates(pair types.Pair, updates money.ValueMap) money.ValueMap {
	info := e.registry.PairInfo(pair)
	ret := updates.Copy()
	if base, ok := ret[pair.Base]; ok {
		ret[pair.Base] = money.Truncate(base, info.BasePrecision)
	}
	if quote, ok := ret[pair.Quote]; ok {
		ret[pair.Quote] = money.Round(quote, info.QuotePrecision)
	}
	return ret.Prune()
}

// roundFees rounds fee amounts up to the relevant precision. Fees in
// symbols other than base/quote are left untouched since their precision
// is unknown.
func (e *Exchange) roundFees(pair types.Pair, feeMap money.ValueMap) money.ValueMap {
	info := e.registry.PairInfo(pair)
	ret := feeMap.Copy()
	if base, ok := ret[pair.Base]; ok {
		ret[pair.Base] = money.RoundUp(base, info.BasePrecision)
	}
	if quote, ok := ret[pair.Quote]; ok {
		ret[pair.Quote] = money.RoundUp(quote, info.QuotePrecision)
	}
	return ret.Prune()
}

// estimateRequiredBalances projects the balances an order request will
// need: the base amount it sells, or the quote it pays at the estimated
// fill price, plus fees when a price estimate exists.
func (e *Exchange) estimateRequiredBalances(request orders.Request, info types.PairInfo) money.ValueMap {
	pair := request.Pair()
	baseSign := request.Operation().BaseSign()
	estimated := money.ValueMap{pair.Base: request.Amount().Mul(baseSign)}

	price, ok := request.EstimatedFillPrice()
	if !ok {
		if last, seen := e.lastBars[pair]; seen {
			price, ok = last.Close, true
		}
	}
	if ok {
		estimated[pair.Quote] = request.Amount().Mul(price).Mul(baseSign).Neg()
	}
	estimated = e.roundBalanceUpdates(pair, estimated)

	// Fees can only be estimated when both sides are known.
	feeMap := money.ValueMap{}
	if len(estimated) == 2 {
		temporary := request.CreateOrder("temporary", info)
		feeMap = e.roundFees(pair, e.feeStrategy.CalculateFees(temporary, estimated))
	}
	return estimated.Minus(feeMap).Negatives()
}

// requireBalances fails with ErrNotEnoughBalance when any required amount
// exceeds the available balance.
func (e *Exchange) requireBalances(required money.ValueMap) error {
	for _, symbol := range required.Symbols() {
		available := e.balances.Available(symbol)
		if required[symbol].GreaterThan(available) {
			return fmt.Errorf("not enough %s available: %s required, %s available: %w",
				symbol, required[symbol], available, errs.ErrNotEnoughBalance)
		}
	}
	return nil
}

// coveredWithHolds reports whether the required amounts fit within the
// available balances plus the order's own holds.
func (e *Exchange) coveredWithHolds(required money.ValueMap, orderID string) bool {
	for _, symbol := range required.Symbols() {
		headroom := e.balances.Available(symbol).Add(e.balances.OnHoldForID(orderID, symbol))
		if required[symbol].GreaterThan(headroom) {
			e.logger.Debug("balance is short",
				"order_id", orderID, "symbol", symbol,
				"short", required[symbol].Sub(headroom))
			return false
		}
	}
	return true
}

// ————————————————————————————————————————————————————————————————————————
// Dashboard
// ————————————————————————————————————————————————————————————————————————

// EnableDashboardEvents allocates the event stream consumed by the
// dashboard server. Call before the backtest starts.
func (e *Exchange) EnableDashboardEvents() {
	if e.dashboardEvents == nil {
		e.dashboardEvents = make(chan api.Event, 256)
	}
}

// DashboardEvents returns the dashboard event stream, nil unless enabled.
func (e *Exchange) DashboardEvents() <-chan api.Event {
	return e.dashboardEvents
}

// Snapshot builds the dashboard's point-in-time view.
func (e *Exchange) Snapshot() api.Snapshot {
	snapshot := api.Snapshot{
		GeneratedAt: e.dispatcher.Now(),
		Balances:    make(map[string]api.BalanceSnapshot),
		OpenOrders:  []api.OrderSnapshot{},
		LastBars:    []api.BarEvent{},
		OpenLoans:   []api.LoanSnapshot{},
	}
	for symbol, balance := range e.Balances() {
		snapshot.Balances[symbol] = api.BalanceSnapshot{
			Available: balance.Available,
			Hold:      balance.Hold,
			Borrowed:  balance.Borrowed,
			Interest:  balance.Interest,
			Total:     balance.Total,
		}
	}
	for _, order := range e.orders.Open() {
		snapshot.OpenOrders = append(snapshot.OpenOrders, api.OrderSnapshot{
			ID:           order.ID(),
			Pair:         order.Pair().String(),
			Operation:    string(order.Operation()),
			Amount:       order.Amount(),
			AmountFilled: order.AmountFilled(),
		})
	}
	for _, bar := range e.lastBars {
		snapshot.LastBars = append(snapshot.LastBars, api.BarEvent{
			Pair: bar.Pair.String(), When: bar.When,
			Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
		})
	}
	for _, loan := range e.loans.OpenLoans() {
		snapshot.OpenLoans = append(snapshot.OpenLoans, api.LoanSnapshot{
			ID:     loan.ID,
			Symbol: loan.BorrowedSymbol,
			Amount: loan.BorrowedAmount,
		})
	}
	return snapshot
}

func (e *Exchange) emit(eventType string, data any) {
	if e.dashboardEvents == nil {
		return
	}
	select {
	case e.dashboardEvents <- api.Event{Type: eventType, Timestamp: e.dispatcher.Now(), Data: data}:
	default:
		e.logger.Warn("dashboard channel full, dropping event")
	}
}
