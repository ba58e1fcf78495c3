package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"

	scoperr "github.com/mevscope/mevscope/errors"
	"github.com/mevscope/mevscope/query"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func validFormat(format string) error {
	if format != formatText && format != formatJSON {
		return scoperr.NewParseError("--format", fmt.Sprintf("unknown format %q, use text or json", format))
	}
	return nil
}

// matchView is the serialized form of one match.
type matchView struct {
	Block            uint64  `json:"block"`
	Position         uint32  `json:"position"`
	Hash             string  `json:"hash"`
	Success          bool    `json:"success"`
	From             string  `json:"from"`
	FromName         string  `json:"from_name,omitempty"`
	To               string  `json:"to,omitempty"`
	ToName           string  `json:"to_name,omitempty"`
	Method           string  `json:"method,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	Value            float64 `json:"value"`
	ValueUSD         float64 `json:"value_usd,omitempty"`
	GasUsed          uint64  `json:"gas_used"`
	Cost             float64 `json:"cost"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
	CoinbaseTransfer float64 `json:"coinbase_transfer,omitempty"`
	RealCost         float64 `json:"real_cost,omitempty"`
	TraceUnavailable bool    `json:"trace_unavailable,omitempty"`
	Explorer         string  `json:"explorer,omitempty"`
}

// describeMatch flattens one match for output, resolving the method
// text, reverse names and the native USD quote through the caches.
func describeMatch(ctx context.Context, m query.Match, rt *runtime) matchView {
	tx := m.Tx
	view := matchView{
		Block:            m.Block.Number,
		Position:         tx.Position,
		Hash:             tx.Hash.Hex(),
		Success:          tx.Success,
		From:             tx.From.Hex(),
		Value:            toNative(tx.Value),
		GasUsed:          tx.GasUsed,
		Cost:             toNative(tx.Cost()),
		TraceUnavailable: m.TraceUnavailable,
		Currency:         rt.nativeCurrency(),
	}

	if name, ok := rt.meta.ReverseName(ctx, tx.From); ok {
		view.FromName = name
	}
	if tx.To != nil {
		view.To = tx.To.Hex()
		if name, ok := rt.meta.ReverseName(ctx, *tx.To); ok {
			view.ToName = name
		}
	}

	if selector := tx.Selector(); selector != nil {
		if text, ok := rt.meta.MethodText(ctx, selector); ok {
			view.Method = text
		} else {
			view.Method = "0x" + strings.ToLower(fmt.Sprintf("%x", selector))
		}
	}

	if m.Trace != nil {
		if m.Trace.CoinbaseTransfer != nil {
			view.CoinbaseTransfer = toNative(m.Trace.CoinbaseTransfer)
		}
		view.RealCost = toNative(m.Trace.RealCost(tx))
	}

	if price, ok := rt.pricer.NativeUSD(ctx); ok {
		view.ValueUSD = view.Value * price
		view.CostUSD = view.Cost * price
	}

	if rt.entry != nil && rt.entry.ExplorerURL != "" {
		view.Explorer = strings.TrimRight(rt.entry.ExplorerURL, "/") + "/tx/" + view.Hash
	}

	return view
}

func printMatch(w io.Writer, format string, view matchView) {
	if format == formatJSON {
		_ = json.NewEncoder(w).Encode(view)
		return
	}

	status := "ok"
	if !view.Success {
		status = "failed"
	}
	from := view.From
	if view.FromName != "" {
		from = view.FromName
	}
	to := view.To
	if view.ToName != "" {
		to = view.ToName
	}
	if to == "" {
		to = "(create)"
	}

	fmt.Fprintf(w, "block %d pos %-3d %s [%s]", view.Block, view.Position, view.Hash, status)
	if view.Method != "" {
		fmt.Fprintf(w, " %s", view.Method)
	}
	fmt.Fprintf(w, " %s -> %s", from, to)
	fmt.Fprintf(w, " value %s", formatAmount(view.Value, view.ValueUSD, view.Currency))
	fmt.Fprintf(w, " cost %s", formatAmount(view.Cost, view.CostUSD, view.Currency))
	if view.RealCost > view.Cost {
		fmt.Fprintf(w, " real %s bribe %s",
			formatAmount(view.RealCost, 0, view.Currency),
			formatAmount(view.CoinbaseTransfer, 0, view.Currency))
	}
	if view.TraceUnavailable {
		fmt.Fprint(w, " [trace unavailable]")
	}
	if view.Explorer != "" {
		fmt.Fprintf(w, " %s", view.Explorer)
	}
	fmt.Fprintln(w)
}

// eventView is one decoded log line in the tx view.
type eventView struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
	Topic0  string `json:"topic0,omitempty"`
	Text    string `json:"text,omitempty"`
}

// txView is the detailed single-transaction output.
type txView struct {
	matchView
	Time    string      `json:"time,omitempty"`
	Events  []eventView `json:"events,omitempty"`
	Opcodes []string    `json:"opcodes,omitempty"`
}

func describeTx(ctx context.Context, m query.Match, rt *runtime, opcodes []string) txView {
	view := txView{
		matchView: describeMatch(ctx, m, rt),
		Time:      time.Unix(int64(m.Block.Time), 0).UTC().Format(time.RFC3339),
		Opcodes:   opcodes,
	}

	for _, log := range m.Tx.Logs {
		event := eventView{Address: log.Address.Hex()}
		if symbol, ok := rt.meta.TokenSymbol(ctx, log.Address); ok {
			event.Symbol = symbol
		}
		if len(log.Topics) > 0 {
			event.Topic0 = log.Topics[0].Hex()
			if text, ok := rt.meta.EventText(ctx, log.Topics[0]); ok {
				event.Text = text
			}
		}
		view.Events = append(view.Events, event)
	}
	return view
}

func printTx(w io.Writer, format string, view txView) {
	if format == formatJSON {
		_ = json.NewEncoder(w).Encode(view)
		return
	}

	printMatch(w, formatText, view.matchView)
	if view.Time != "" {
		fmt.Fprintf(w, "  mined %s\n", view.Time)
	}
	for _, event := range view.Events {
		label := event.Address
		if event.Symbol != "" {
			label = fmt.Sprintf("%s (%s)", event.Symbol, event.Address)
		}
		text := event.Text
		if text == "" {
			text = event.Topic0
		}
		fmt.Fprintf(w, "  event %s %s\n", label, text)
	}
	for _, line := range view.Opcodes {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func (rt *runtime) nativeCurrency() string {
	if rt.entry != nil && rt.entry.Currency != "" {
		return rt.entry.Currency
	}
	return "ETH"
}

// toNative converts wei to the native unit as a float. Display only;
// threshold math stays in integers.
func toNative(wei *uint256.Int) float64 {
	if wei == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei.ToBig()),
		big.NewFloat(1e18),
	).Float64()
	return value
}

func formatAmount(native, usd float64, currency string) string {
	if usd > 0 {
		return fmt.Sprintf("%.6f %s ($%.2f)", native, currency, usd)
	}
	return fmt.Sprintf("%.6f %s", native, currency)
}
