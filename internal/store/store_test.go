package store

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestWriteTradeDedupByID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, "BTC-PERP", 5, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	trade := types.TradeRow{
		TimestampMs: 1000, Market: "BTC-PERP", Side: types.Buy,
		Price: dec("100"), Size: dec("1"), TradeID: "t1", TradeType: types.TradeTypeTrade,
	}
	s.WriteTrade(trade)
	s.WriteTrade(trade) // duplicate, should be dropped
	s.Close()

	got, err := LoadTrades(dir, "BTC-PERP", time.UnixMilli(0))
	if err != nil {
		t.Fatalf("LoadTrades: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("trade count = %d, want 1 (duplicate dropped)", len(got))
	}
}

func TestWriteTradeRejectsOlderTimestamp(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, "m", 5, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.WriteTrade(types.TradeRow{TimestampMs: 2000, Market: "m", TradeID: "a", Price: dec("1"), Size: dec("1"), TradeType: types.TradeTypeTrade})
	s.WriteTrade(types.TradeRow{TimestampMs: 1000, Market: "m", TradeID: "b", Price: dec("1"), Size: dec("1"), TradeType: types.TradeTypeTrade})
	s.Close()

	got, _ := LoadTrades(dir, "m", time.UnixMilli(0))
	if len(got) != 1 || got[0].TradeID != "a" {
		t.Errorf("trades = %v, want only the first (newer-first write) trade", got)
	}
}

func TestWriteTopOfBookDropsOutOfOrderSeq(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, "m", 5, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.WriteTopOfBook(types.TopOfBookRow{TimestampMs: 1000, Market: "m", Seq: 5, BidPrice: dec("1"), BidSize: dec("1"), AskPrice: dec("2"), AskSize: dec("1"), Mid: dec("1.5"), Spread: dec("1"), SpreadBps: dec("100")})
	s.WriteTopOfBook(types.TopOfBookRow{TimestampMs: 1001, Market: "m", Seq: 3, BidPrice: dec("9"), BidSize: dec("1"), AskPrice: dec("10"), AskSize: dec("1"), Mid: dec("9.5"), Spread: dec("1"), SpreadBps: dec("100")})
	s.Close()

	w, err := LoadWindow(dir, "m", 24)
	if err != nil {
		t.Fatalf("LoadWindow: %v", err)
	}
	if len(w.TopOfBook) != 1 || w.TopOfBook[0].Seq != 5 {
		t.Errorf("top-of-book rows = %v, want only seq=5 kept", w.TopOfBook)
	}
}

func TestResumeLoadsSeenTradeIDs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s1, err := Open(dir, "m", 5, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.WriteTrade(types.TradeRow{TimestampMs: 1000, Market: "m", TradeID: "dup", Price: dec("1"), Size: dec("1"), TradeType: types.TradeTypeTrade})
	s1.Close()

	s2, err := Open(dir, "m", 5, testLogger())
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	s2.WriteTrade(types.TradeRow{TimestampMs: 1001, Market: "m", TradeID: "dup", Price: dec("1"), Size: dec("1"), TradeType: types.TradeTypeTrade})
	s2.Close()

	got, _ := LoadTrades(dir, "m", time.UnixMilli(0))
	if len(got) != 1 {
		t.Errorf("trade count after resume = %d, want 1 (dedup survives restart)", len(got))
	}
}

func TestLoadWindowTrimsToHours(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, "m", 5, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	now := time.Now()
	old := now.Add(-48 * time.Hour).UnixMilli()
	recent := now.UnixMilli()

	s.WriteTopOfBook(types.TopOfBookRow{TimestampMs: old, Market: "m", Seq: 1, BidPrice: dec("1"), BidSize: dec("1"), AskPrice: dec("2"), AskSize: dec("1"), Mid: dec("1.5"), Spread: dec("1"), SpreadBps: dec("100")})
	s.WriteTopOfBook(types.TopOfBookRow{TimestampMs: recent, Market: "m", Seq: 2, BidPrice: dec("1"), BidSize: dec("1"), AskPrice: dec("2"), AskSize: dec("1"), Mid: dec("1.5"), Spread: dec("1"), SpreadBps: dec("100")})
	s.Close()

	w, err := LoadWindow(dir, "m", 24)
	if err != nil {
		t.Fatalf("LoadWindow: %v", err)
	}
	if len(w.TopOfBook) != 1 || w.TopOfBook[0].Seq != 2 {
		t.Errorf("windowed rows = %v, want only the recent (24h) row", w.TopOfBook)
	}
}

func TestWriteDepthPadsMissingLevels(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir, "m", 3, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.WriteDepth(types.DepthRow{
		TimestampMs: 1000, Market: "m", Seq: 1,
		Bids: []types.PriceLevel{{Price: dec("10"), Size: dec("1")}},
		Asks: []types.PriceLevel{{Price: dec("11"), Size: dec("1")}},
	})
	s.Close()

	data, err := os.ReadFile(dir + "/orderbook_depth.csv")
	if err != nil {
		t.Fatalf("read depth file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected depth file to contain a row")
	}
	// One real level per side, then two zero-padded levels of 4 columns each.
	if !strings.Contains(string(data), ",10,1,11,1,0,0,0,0,0,0,0,0\n") {
		t.Errorf("depth row not padded to 3 levels: %q", string(data))
	}
}
