package engine

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/quantfx/backtest-engine/pkg/types"
)

var ledgerHeader = []string{
	"entry_time", "exit_time", "instrument", "direction", "units",
	"entry_price", "exit_price", "exit_reason",
	"gross_pips", "cost_pips", "net_pips", "profit",
}

// WriteLedgerCSV writes the closed-trade ledger as CSV, one row per trade in
// close order. An empty ledger still writes the header row.
func WriteLedgerCSV(w io.Writer, trades []types.ClosedTrade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			t.Instrument,
			string(t.Direction),
			strconv.FormatInt(t.Units, 10),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			string(t.ExitReason),
			t.GrossPips.StringFixed(1),
			t.TotalCostPips.StringFixed(1),
			t.NetPips.StringFixed(1),
			t.Profit.StringFixed(2),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
