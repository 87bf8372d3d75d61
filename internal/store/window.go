package store

import (
	"time"

	"marketmaker/pkg/types"
)

// RollingWindow is a finite-duration view over two time-ordered sequences:
// top-of-book snapshots and public trades. It auto-trims on every append
// to [end - duration, end], per spec §4.2/§8.
//
// Unlike yoghaf-market-indikator's fixed-capacity RingBuffer, the window's
// bound is wall-clock duration rather than element count, so it's backed
// by a plain growable slice with front-trimming instead of a circular
// buffer sized in advance.
type RollingWindow struct {
	Duration time.Duration

	TopOfBook []types.TopOfBookRow
	Trades    []types.TradeRow

	end time.Time // latest timestamp seen across either stream
}

// NewRollingWindow creates an empty window of the given duration.
func NewRollingWindow(duration time.Duration) *RollingWindow {
	return &RollingWindow{Duration: duration}
}

// AppendTopOfBook adds a row and trims the window.
func (w *RollingWindow) AppendTopOfBook(row types.TopOfBookRow) {
	w.TopOfBook = append(w.TopOfBook, row)
	w.bumpEnd(time.UnixMilli(row.TimestampMs))
	w.trim()
}

// AppendTrade adds a row and trims the window.
func (w *RollingWindow) AppendTrade(row types.TradeRow) {
	w.Trades = append(w.Trades, row)
	w.bumpEnd(time.UnixMilli(row.TimestampMs))
	w.trim()
}

func (w *RollingWindow) bumpEnd(t time.Time) {
	if t.After(w.end) {
		w.end = t
	}
}

// trim drops entries older than [end-duration, end] from both streams.
func (w *RollingWindow) trim() {
	if w.end.IsZero() || w.Duration <= 0 {
		return
	}
	cutoff := w.end.Add(-w.Duration).UnixMilli()

	i := 0
	for i < len(w.TopOfBook) && w.TopOfBook[i].TimestampMs < cutoff {
		i++
	}
	if i > 0 {
		w.TopOfBook = w.TopOfBook[i:]
	}

	j := 0
	for j < len(w.Trades) && w.Trades[j].TimestampMs < cutoff {
		j++
	}
	if j > 0 {
		w.Trades = w.Trades[j:]
	}
}

// EndTime returns the latest timestamp seen across either stream.
func (w *RollingWindow) EndTime() time.Time {
	return w.end
}

// TradeCount returns the count of trades of type TRADE (used by the
// simple counting κ estimator, which excludes liquidations/deleverages).
func (w *RollingWindow) TradeCount() int {
	n := 0
	for _, t := range w.Trades {
		if t.TradeType == types.TradeTypeTrade {
			n++
		}
	}
	return n
}
