package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"dn-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// CycleRecord is one close/reopen round trip. Exit fields are zero when the
// cycle had no previous pair to close.
type CycleRecord struct {
	Time       time.Time
	Seq        uint64
	Pair       string
	LongVenue  string
	ShortVenue string
	LongPnL    float64
	ShortPnL   float64
	TotalPnL   float64
	HasPnL     bool
	DeltaUSD   float64
	Opened     bool
}

// LegRecord is one filled entry order.
type LegRecord struct {
	Time     time.Time
	Seq      uint64
	Venue    string
	Symbol   string
	Side     string
	Price    float64
	Size     float64
	Notional float64
}

// Writer persists cycle history asynchronously. Inserts are queued on
// channels and dropped with a warning when the queue is full; the trading
// loop never blocks on the database.
type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	cycles    chan CycleRecord
	legs      chan LegRecord
	started   atomic.Bool
	dropCycle atomic.Uint64
	dropLeg   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleRecord, queueSize),
		legs:   make(chan LegRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(record CycleRecord) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- record:
		return
	default:
		if w.dropCycle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) EnqueueLeg(record LegRecord) {
	if w == nil {
		return
	}
	select {
	case w.legs <- record:
		return
	default:
		if w.dropLeg.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale leg queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-w.cycles:
			w.writeCycle(ctx, record)
		case record := <-w.legs:
			w.writeLeg(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		pair TEXT NOT NULL,
		long_venue TEXT NOT NULL,
		short_venue TEXT NOT NULL,
		long_pnl DOUBLE PRECISION NOT NULL,
		short_pnl DOUBLE PRECISION NOT NULL,
		total_pnl DOUBLE PRECISION NOT NULL,
		has_pnl BOOLEAN NOT NULL,
		delta_usd DOUBLE PRECISION NOT NULL,
		opened BOOLEAN NOT NULL
	)`, w.table("cycle_pnl"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		seq BIGINT NOT NULL,
		venue TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		notional DOUBLE PRECISION NOT NULL
	)`, w.table("entry_legs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("cycle_pnl"))); err != nil && w.log != nil {
		w.log.Warn("timescale cycle_pnl hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("entry_legs"))); err != nil && w.log != nil {
		w.log.Warn("timescale entry_legs hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, record CycleRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, seq, pair, long_venue, short_venue, long_pnl, short_pnl, total_pnl, has_pnl, delta_usd, opened
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	)`, w.table("cycle_pnl"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		int64(record.Seq),
		record.Pair,
		record.LongVenue,
		record.ShortVenue,
		record.LongPnL,
		record.ShortPnL,
		record.TotalPnL,
		record.HasPnL,
		record.DeltaUSD,
		record.Opened,
	); err != nil && w.log != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeLeg(ctx context.Context, record LegRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, seq, venue, symbol, side, price, size, notional
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)`, w.table("entry_legs"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		int64(record.Seq),
		record.Venue,
		record.Symbol,
		record.Side,
		record.Price,
		record.Size,
		record.Notional,
	); err != nil && w.log != nil {
		w.log.Warn("timescale leg insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
