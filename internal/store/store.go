// Package store persists the bot's time-series streams to append-only CSV
// files and loads them back into a RollingWindow.
//
// Three streams are kept per market, each its own file under the
// configured data directory:
//   - orderbook.csv        top-of-book snapshots (write_top_of_book)
//   - orderbook_depth.csv  wide N-level depth rows (write_depth)
//   - trades.csv           public trade prints (write_trade)
//
// Writes are idempotent (trade-ID dedup, sequence/wall-clock monotonicity
// per file), buffered, and flushed periodically; CollectorState is
// persisted every writeStatePeriod writes using the same atomic
// write-tmp-then-rename discipline the bot uses for pnl_state.json.
package store

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketmaker/pkg/types"
)

const (
	flushPeriod      = 5 * time.Second
	writeStatePeriod = 100

	topOfBookHeader = "timestamp_ms,datetime,market,seq,bid_price,bid_quantity,ask_price,ask_quantity,mid_price,spread,spread_bps"
	tradeHeader     = "timestamp_ms,datetime,market,side,price,quantity,trade_id,trade_type"
	depthHeaderBase = "timestamp_ms,datetime,market,seq"
)

// Store writes and reloads the bot's CSV time-series for one market.
type Store struct {
	dir    string
	market string
	logger *slog.Logger

	mu sync.Mutex

	topFile   *os.File
	topW      *bufio.Writer
	tradeFile *os.File
	tradeW    *bufio.Writer
	depthFile *os.File
	depthW    *bufio.Writer
	depthN    int

	lastFlush time.Time
	writes    int

	seenTradeIDs map[string]struct{}
	lastTradeTs  int64
	lastBookSeq  int64
	lastBookTs   int64

	state types.CollectorState
}

// Open creates (or resumes) a Store backed by dir for the given market.
// Existing trades.csv rows are loaded so exact trade-ID dedup survives a
// restart, per spec §4.2 invariant (e).
func Open(dir, market string, depthLevels int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		dir:          dir,
		market:       market,
		logger:       logger,
		depthN:       depthLevels,
		seenTradeIDs: make(map[string]struct{}),
	}

	if err := s.loadSeenTradeIDs(); err != nil {
		return nil, err
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	if err := s.openFiles(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openFiles() error {
	var err error
	s.topFile, s.topW, err = openAppendCSV(filepath.Join(s.dir, "orderbook.csv"), topOfBookHeader)
	if err != nil {
		return err
	}
	s.tradeFile, s.tradeW, err = openAppendCSV(filepath.Join(s.dir, "trades.csv"), tradeHeader)
	if err != nil {
		return err
	}
	s.depthFile, s.depthW, err = openAppendCSV(filepath.Join(s.dir, "orderbook_depth.csv"), depthHeader(s.depthN))
	if err != nil {
		return err
	}
	s.lastFlush = time.Now()
	return nil
}

// datetime renders timestamp_ms as the human-readable column spec §6
// pairs with every timestamp_ms in these CSVs.
func datetime(timestampMs int64) string {
	return time.UnixMilli(timestampMs).UTC().Format(time.RFC3339Nano)
}

func depthHeader(n int) string {
	h := depthHeaderBase
	for i := 0; i < n; i++ {
		h += fmt.Sprintf(",bid_px_%d,bid_sz_%d,ask_px_%d,ask_sz_%d", i, i, i, i)
	}
	return h
}

func openAppendCSV(path, header string) (*os.File, *bufio.Writer, error) {
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if statErr != nil || info.Size() == 0 {
		fmt.Fprintln(w, header)
	}
	return f, w, nil
}

// loadSeenTradeIDs reloads trade IDs from an existing trades.csv so
// restart-time dedup is exact.
func (s *Store) loadSeenTradeIDs() error {
	path := filepath.Join(s.dir, "trades.csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open trades.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		return nil // empty or header-only file
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(row) < 8 {
			continue
		}
		s.seenTradeIDs[row[6]] = struct{}{}
		if ts, err := strconv.ParseInt(row[0], 10, 64); err == nil && ts > s.lastTradeTs {
			s.lastTradeTs = ts
		}
	}
	return nil
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, "collector_state_"+s.market+".json")
}

func (s *Store) loadState() error {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read collector state: %w", err)
	}
	var cs types.CollectorState
	if err := json.Unmarshal(data, &cs); err != nil {
		return fmt.Errorf("unmarshal collector state: %w", err)
	}
	s.state = cs
	s.lastBookSeq = cs.LastOrderbookSeq
	s.lastBookTs = cs.LastOrderbookTs
	if cs.LastTradeTs > s.lastTradeTs {
		s.lastTradeTs = cs.LastTradeTs
	}
	return nil
}

// persistState atomically writes CollectorState to disk (best-effort: a
// caller that wants the error reported should log it).
func (s *Store) persistState() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshal collector state: %w", err)
	}
	path := s.statePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write collector state: %w", err)
	}
	return os.Rename(tmp, path)
}

// WriteTrade writes a trade unless its ID was already seen or its
// timestamp precedes the last one written, per spec §4.2.
func (s *Store) WriteTrade(t types.TradeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seenTradeIDs[t.TradeID]; dup {
		return
	}
	if t.TimestampMs < s.lastTradeTs {
		return
	}

	row := fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s\n",
		t.TimestampMs, datetime(t.TimestampMs), t.Market, t.Side, t.Price.String(), t.Size.String(), t.TradeID, t.TradeType)
	if _, err := s.tradeW.WriteString(row); err != nil {
		s.logger.Error("write trade row", "error", err)
		return
	}

	s.seenTradeIDs[t.TradeID] = struct{}{}
	s.lastTradeTs = t.TimestampMs
	s.state.LastTradeID = t.TradeID
	s.state.LastTradeTs = t.TimestampMs
	s.state.TradesCount++
	s.afterWrite()
}

// WriteTopOfBook writes a top-of-book row keyed on (seq, ts), dropping
// out-of-order rows per the same ordering discipline as trades.
func (s *Store) WriteTopOfBook(row types.TopOfBookRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.Seq <= s.lastBookSeq || row.TimestampMs < s.lastBookTs {
		return
	}

	line := fmt.Sprintf("%d,%s,%s,%d,%s,%s,%s,%s,%s,%s,%s\n",
		row.TimestampMs, datetime(row.TimestampMs), row.Market, row.Seq,
		row.BidPrice.String(), row.BidSize.String(),
		row.AskPrice.String(), row.AskSize.String(),
		row.Mid.String(), row.Spread.String(), row.SpreadBps.String())
	if _, err := s.topW.WriteString(line); err != nil {
		s.logger.Error("write top-of-book row", "error", err)
		return
	}

	s.lastBookSeq = row.Seq
	s.lastBookTs = row.TimestampMs
	s.state.LastOrderbookSeq = row.Seq
	s.state.LastOrderbookTs = row.TimestampMs
	s.state.TopOfBookCount++
	s.afterWrite()
}

// WriteDepth writes one wide row with 4*N columns from the given depth
// row (caller is expected to have already taken N levels per side).
func (s *Store) WriteDepth(row types.DepthRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%d,%s,%s,%d", row.TimestampMs, datetime(row.TimestampMs), row.Market, row.Seq)
	for i := 0; i < s.depthN; i++ {
		bp, bq := levelOrZero(row.Bids, i)
		ap, aq := levelOrZero(row.Asks, i)
		line += fmt.Sprintf(",%s,%s,%s,%s", bp, bq, ap, aq)
	}
	line += "\n"
	if _, err := s.depthW.WriteString(line); err != nil {
		s.logger.Error("write depth row", "error", err)
		return
	}

	s.state.DepthCount++
	s.afterWrite()
}

func levelOrZero(levels []types.PriceLevel, i int) (string, string) {
	if i >= len(levels) {
		return "0", "0"
	}
	return levels[i].Price.String(), levels[i].Size.String()
}

// afterWrite runs the periodic flush / state-persistence discipline.
// Caller must hold s.mu.
func (s *Store) afterWrite() {
	s.writes++

	if time.Since(s.lastFlush) >= flushPeriod {
		s.flushLocked()
	}
	if s.writes%writeStatePeriod == 0 {
		if err := s.persistState(); err != nil {
			s.logger.Error("persist collector state", "error", err)
		}
	}
}

func (s *Store) flushLocked() {
	s.topW.Flush()
	s.tradeW.Flush()
	s.depthW.Flush()
	s.lastFlush = time.Now()
}

// Flush forces a flush of all buffered writers.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Close flushes, persists final state, and closes all open files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flushLocked()
	if err := s.persistState(); err != nil {
		s.logger.Error("persist collector state on close", "error", err)
	}

	var firstErr error
	for _, f := range []*os.File{s.topFile, s.tradeFile, s.depthFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadWindow parses orderbook.csv and trades.csv for market and returns a
// RollingWindow trimmed to the last `hours`, per spec §4.2 load_window.
func LoadWindow(dir, market string, hours float64) (*RollingWindow, error) {
	duration := time.Duration(hours * float64(time.Hour))
	w := NewRollingWindow(duration)

	if err := loadTopOfBookInto(w, filepath.Join(dir, "orderbook.csv"), market); err != nil {
		return nil, err
	}
	if err := loadTradesInto(w, filepath.Join(dir, "trades.csv"), market); err != nil {
		return nil, err
	}
	return w, nil
}

// LoadTrades returns trade rows for market since the given time, reading
// trades.csv directly. Exposed as a standalone library call for operator
// tooling (a trade-history dump), independent of window trimming.
func LoadTrades(dir, market string, since time.Time) ([]types.TradeRow, error) {
	f, err := os.Open(filepath.Join(dir, "trades.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open trades.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil, nil
	}

	sinceMs := since.UnixMilli()
	var out []types.TradeRow
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		t, ok := parseTradeRow(row)
		if !ok || t.Market != market || t.TimestampMs < sinceMs {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func loadTopOfBookInto(w *RollingWindow, path, market string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open orderbook.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		tob, ok := parseTopOfBookRow(row)
		if !ok || tob.Market != market {
			continue
		}
		w.AppendTopOfBook(tob)
	}
	return nil
}

func loadTradesInto(w *RollingWindow, path, market string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open trades.csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, 1<<20))
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return nil
	}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		t, ok := parseTradeRow(row)
		if !ok || t.Market != market {
			continue
		}
		w.AppendTrade(t)
	}
	return nil
}

// parseTopOfBookRow parses spec §6's literal orderbook.csv schema:
// timestamp_ms, datetime, market, seq, bid_price, bid_quantity, ask_price,
// ask_quantity, mid_price, spread, spread_bps. datetime is derived from
// timestamp_ms on write and ignored on read.
func parseTopOfBookRow(row []string) (types.TopOfBookRow, bool) {
	if len(row) < 11 {
		return types.TopOfBookRow{}, false
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.TopOfBookRow{}, false
	}
	seq, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return types.TopOfBookRow{}, false
	}
	return types.TopOfBookRow{
		TimestampMs: ts,
		Market:      row[2],
		Seq:         seq,
		BidPrice:    mustDecimal(row[4]),
		BidSize:     mustDecimal(row[5]),
		AskPrice:    mustDecimal(row[6]),
		AskSize:     mustDecimal(row[7]),
		Mid:         mustDecimal(row[8]),
		Spread:      mustDecimal(row[9]),
		SpreadBps:   mustDecimal(row[10]),
	}, true
}

// parseTradeRow parses spec §6's literal trades.csv schema: timestamp_ms,
// datetime, market, side, price, quantity, trade_id, trade_type.
func parseTradeRow(row []string) (types.TradeRow, bool) {
	if len(row) < 8 {
		return types.TradeRow{}, false
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return types.TradeRow{}, false
	}
	return types.TradeRow{
		TimestampMs: ts,
		Market:      row[2],
		Side:        types.Side(row[3]),
		Price:       mustDecimal(row[4]),
		Size:        mustDecimal(row[5]),
		TradeID:     row[6],
		TradeType:   types.TradeType(row[7]),
	}, true
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
