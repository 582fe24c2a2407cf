package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/quantfx/backtest-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker simulates order execution against bid/ask bars.
//
// It owns the trade lifecycle: positions open after RiskManager approval,
// are marked to market on every subsequent bar, and close on stop, target or
// holding-time hits with CostModel applied at entry and exit. Fills use the
// ask for BUY and the bid for SELL, never the midpoint.
//
// Open trades live in an arena keyed by id; trades hold no reference back to
// the broker. Margin discipline is enforced at entry only: an open trade is
// never force-closed when the balance later falls. That keeps simulated
// behavior simple and predictable, at the documented price of allowing
// drawdown beyond the nominal risk budget on fast-moving markets.
type Broker struct {
	logger *zap.Logger
	cfg    *types.Config
	costs  *CostModel
	pips   *PipValuer
	risk   *RiskManager
	rates  RateTable

	balance  decimal.Decimal
	trades   map[string]*types.Trade
	barsHeld map[string]int
	closed   []types.ClosedTrade
	rejected int
}

// NewBroker creates a broker with a fresh arena and the configured starting
// balance. Each backtest run constructs its own broker; nothing is shared.
func NewBroker(logger *zap.Logger, cfg *types.Config, rates RateTable) *Broker {
	return &Broker{
		logger:   logger,
		cfg:      cfg,
		costs:    NewCostModel(cfg),
		pips:     NewPipValuer(cfg.AccountCurrency),
		risk:     NewRiskManager(logger, cfg.Risk),
		rates:    rates,
		balance:  cfg.InitialBalance,
		trades:   make(map[string]*types.Trade),
		barsHeld: make(map[string]int),
	}
}

// Open submits a candidate signal for execution at the current bar.
//
// A margin rejection (authorized units of zero) is absorbed: the trade is
// skipped, logged and counted, and Open returns (nil, nil). An unresolved
// currency conversion is returned as an error so the caller rejects the
// entry rather than pricing it wrongly.
func (b *Broker) Open(signal *types.Signal, bar *types.Bar, session types.Session, isNewsEvent bool) (*types.Trade, error) {
	if len(b.trades) >= b.cfg.Risk.MaxOpenTrades {
		b.logger.Debug("signal skipped: max open trades reached",
			zap.String("instrument", bar.Instrument))
		return nil, nil
	}

	entryPrice := bar.AskClose
	if signal.Direction == types.DirectionSell {
		entryPrice = bar.BidClose
	}

	pipValuePerUnit, err := b.pips.PipValue(bar.Instrument, 1, entryPrice, b.rates)
	if err != nil {
		return nil, fmt.Errorf("pip value for %s: %w", bar.Instrument, err)
	}

	stopPips := entryPrice.Sub(signal.StopPrice).Abs().Div(types.PipSize(bar.Instrument))
	auth := b.risk.AuthorizeSize(b.balance, stopPips, pipValuePerUnit, b.cfg.Risk.RiskPercent, entryPrice)
	if auth.Units == 0 {
		b.rejected++
		b.logger.Debug("signal rejected by risk manager",
			zap.String("instrument", bar.Instrument),
			zap.String("balance", b.balance.StringFixed(2)),
		)
		return nil, nil
	}

	units := signal.DesiredUnits
	if units <= 0 || units > auth.Units {
		units = auth.Units
	}

	cost := b.costs.CostFor(bar, session, isNewsEvent, 0, signal.Direction)

	trade := &types.Trade{
		ID:            uuid.New().String(),
		Instrument:    bar.Instrument,
		Direction:     signal.Direction,
		Units:         units,
		EntryPrice:    entryPrice,
		EntryTime:     bar.Timestamp,
		EntryCostPips: cost.EntryCostPips,
		StopPrice:     signal.StopPrice,
		TargetPrice:   signal.TargetPrice,
		Status:        types.TradeStatusOpen,
	}
	b.trades[trade.ID] = trade
	b.barsHeld[trade.ID] = 0

	b.logger.Debug("opened position",
		zap.String("id", trade.ID),
		zap.String("instrument", trade.Instrument),
		zap.String("direction", string(trade.Direction)),
		zap.Int64("units", units),
		zap.String("entry", entryPrice.String()),
		zap.String("binding", string(auth.Binding)),
	)
	return trade, nil
}

// MarkToMarket advances every open trade by one bar, closing those whose
// stop, target or holding limit was hit. Exit checks run in a fixed order
// per trade: stop first (the conservative assumption when both levels fall
// inside one bar's range), then target, then the time limit. At most one
// exit fires per trade per bar.
func (b *Broker) MarkToMarket(bar *types.Bar, session types.Session, isNewsEvent bool) {
	for _, id := range b.sortedOpenIDs() {
		trade := b.trades[id]
		if trade.Instrument != bar.Instrument {
			continue
		}
		b.barsHeld[id]++

		if b.stopHit(trade, bar) {
			b.close(trade, bar, session, isNewsEvent, types.ExitReasonStop, types.TradeStatusClosedStop)
			continue
		}
		if b.targetHit(trade, bar) {
			b.close(trade, bar, session, isNewsEvent, types.ExitReasonTarget, types.TradeStatusClosedTarget)
			continue
		}
		if b.cfg.MaxHoldingBars > 0 && b.barsHeld[id] >= b.cfg.MaxHoldingBars {
			b.close(trade, bar, session, isNewsEvent, types.ExitReasonTime, types.TradeStatusClosedTime)
		}
	}
}

// CloseAll closes every remaining open trade at the given bar, used at the
// end of a run so no position survives the simulation.
func (b *Broker) CloseAll(bar *types.Bar, session types.Session) {
	for _, id := range b.sortedOpenIDs() {
		b.close(b.trades[id], bar, session, false, types.ExitReasonManual, types.TradeStatusClosedManual)
	}
}

func (b *Broker) stopHit(t *types.Trade, bar *types.Bar) bool {
	if t.Direction == types.DirectionBuy {
		// Long positions exit on the bid.
		return bar.BidLow.LessThanOrEqual(t.StopPrice)
	}
	// Short positions exit on the ask.
	return bar.AskHigh.GreaterThanOrEqual(t.StopPrice)
}

func (b *Broker) targetHit(t *types.Trade, bar *types.Bar) bool {
	if t.Direction == types.DirectionBuy {
		return bar.BidHigh.GreaterThanOrEqual(t.TargetPrice)
	}
	return bar.AskLow.LessThanOrEqual(t.TargetPrice)
}

// close executes the exit fill, applies exit-side costs, converts the net
// pip result to account currency and moves the trade to the closed ledger.
func (b *Broker) close(trade *types.Trade, bar *types.Bar, session types.Session, isNewsEvent bool, reason types.ExitReason, status types.TradeStatus) {
	exitPrice := bar.BidClose
	if trade.Direction == types.DirectionSell {
		exitPrice = bar.AskClose
	}

	holdingDays := bar.Timestamp.Sub(trade.EntryTime).Hours() / 24
	cost := b.costs.CostFor(bar, session, isNewsEvent, holdingDays, trade.Direction)

	grossPips := PipsBetween(trade.Instrument, trade.Direction, trade.EntryPrice, exitPrice)
	totalCostPips := trade.EntryCostPips.Add(cost.ExitCostPips)
	netPips := grossPips.Sub(totalCostPips)

	pipValuePerUnit, err := b.pips.PipValue(trade.Instrument, 1, exitPrice, b.rates)
	if err != nil {
		// The conversion path resolved at entry; losing it mid-run means the
		// rate table changed under us, which a single run never does.
		b.logger.Error("pip value lost at exit", zap.Error(err), zap.String("id", trade.ID))
		pipValuePerUnit = decimal.Zero
	}
	profit := netPips.Mul(pipValuePerUnit).Mul(decimal.NewFromInt(trade.Units))

	b.balance = b.balance.Add(profit)
	trade.Status = status

	closed := types.ClosedTrade{
		Trade:         *trade,
		ExitPrice:     exitPrice,
		ExitTime:      bar.Timestamp,
		ExitReason:    reason,
		GrossPips:     grossPips,
		TotalCostPips: totalCostPips,
		NetPips:       netPips,
		Profit:        profit,
	}
	b.closed = append(b.closed, closed)
	delete(b.trades, trade.ID)
	delete(b.barsHeld, trade.ID)

	b.logger.Debug("closed position",
		zap.String("id", trade.ID),
		zap.String("reason", string(reason)),
		zap.String("netPips", netPips.StringFixed(1)),
		zap.String("profit", profit.StringFixed(2)),
	)
}

// Equity returns balance plus unrealized P&L of open trades valued at the
// bar's applicable close.
func (b *Broker) Equity(bar *types.Bar) decimal.Decimal {
	equity := b.balance
	for _, t := range b.trades {
		if t.Instrument != bar.Instrument {
			continue
		}
		price := bar.BidClose
		if t.Direction == types.DirectionSell {
			price = bar.AskClose
		}
		pips := PipsBetween(t.Instrument, t.Direction, t.EntryPrice, price)
		pipValue, err := b.pips.PipValue(t.Instrument, 1, price, b.rates)
		if err != nil {
			continue
		}
		equity = equity.Add(pips.Mul(pipValue).Mul(decimal.NewFromInt(t.Units)))
	}
	return equity
}

// Balance returns the realized account balance.
func (b *Broker) Balance() decimal.Decimal { return b.balance }

// OpenTrades returns the open positions in a deterministic order.
func (b *Broker) OpenTrades() []*types.Trade {
	out := make([]*types.Trade, 0, len(b.trades))
	for _, id := range b.sortedOpenIDs() {
		out = append(out, b.trades[id])
	}
	return out
}

// ClosedTrades returns the closed-trade ledger in close order.
func (b *Broker) ClosedTrades() []types.ClosedTrade { return b.closed }

// RejectedSignals returns how many signals the risk manager rejected.
func (b *Broker) RejectedSignals() int { return b.rejected }

// sortedOpenIDs keeps iteration deterministic: map order would otherwise
// vary between runs, breaking ledger reproducibility.
func (b *Broker) sortedOpenIDs() []string {
	ids := make([]string, 0, len(b.trades))
	for id := range b.trades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := b.trades[ids[i]], b.trades[ids[j]]
		if !ti.EntryTime.Equal(tj.EntryTime) {
			return ti.EntryTime.Before(tj.EntryTime)
		}
		return ids[i] < ids[j]
	})
	return ids
}
