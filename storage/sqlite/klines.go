// Package sqlite persists candlesticks retrieved from the gateway in a SQLite
// database, so that an interrupted history download can be resumed.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/shopspring/decimal"
	"github.com/y3sh/quote-sdk-go/common"

	_ "modernc.org/sqlite"
)

var logger = loggo.GetLogger("quote.storage")

const schema = `
CREATE TABLE IF NOT EXISTS klines (
	instrument  TEXT    NOT NULL,
	kl_type     TEXT    NOT NULL,
	time        INTEGER NOT NULL,
	open        TEXT    NOT NULL,
	high        TEXT    NOT NULL,
	low         TEXT    NOT NULL,
	close       TEXT    NOT NULL,
	last_close  TEXT    NOT NULL,
	volume      INTEGER NOT NULL,
	turnover    TEXT    NOT NULL,
	change_rate TEXT    NOT NULL,
	PRIMARY KEY (instrument, kl_type, time)
);

CREATE TABLE IF NOT EXISTS history_cursors (
	instrument TEXT NOT NULL,
	kl_type    TEXT NOT NULL,
	cursor     TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (instrument, kl_type)
);
`

// KLineStore is a SQLite-backed candlestick store. Candlesticks are keyed by
// instrument, period and time; saving one which exists already replaces it.
type KLineStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*KLineStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}

	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "opening %s", path)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		logger.Warningf("failed to set WAL mode on %s: %v", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "creating schema in %s", path)
	}

	logger.Debugf("opened kline store %s", path)

	return &KLineStore{db: db}, nil
}

// Close closes the database.
func (s *KLineStore) Close() error {
	return errors.Trace(s.db.Close())
}

// SaveKLines stores all klines in a single transaction.
func (s *KLineStore) SaveKLines(ctx context.Context, klines []common.KLine) error {
	if len(klines) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO klines (
			instrument, kl_type, time, open, high, low, close,
			last_close, volume, turnover, change_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Trace(err)
	}
	defer stmt.Close()

	for _, kl := range klines {
		if _, err := stmt.ExecContext(ctx,
			string(kl.Instrument), kl.KLType.String(), kl.Time.Unix(),
			kl.OHLC.Open.String(), kl.OHLC.High.String(), kl.OHLC.Low.String(), kl.OHLC.Close.String(),
			kl.LastClose.String(), kl.Volume, kl.Turnover.String(), kl.ChangeRate.String(),
		); err != nil {
			return errors.Annotatef(err, "saving kline %s %s %s", kl.Instrument, kl.KLType, kl.Time)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Trace(err)
	}

	logger.Tracef("saved %d klines", len(klines))

	return nil
}

// LoadKLines returns the klines of the instrument and period with time in
// [from, to], ordered by time. A zero to means no upper bound.
func (s *KLineStore) LoadKLines(
	ctx context.Context, inst common.Instrument, klType common.KLType, from, to time.Time,
) ([]common.KLine, error) {
	upper := int64(1<<63 - 1)
	if !to.IsZero() {
		upper = to.Unix()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT time, open, high, low, close, last_close, volume, turnover, change_rate
		FROM klines
		WHERE instrument = ? AND kl_type = ? AND time >= ? AND time <= ?
		ORDER BY time
	`, string(inst), klType.String(), from.Unix(), upper)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	var ret []common.KLine
	for rows.Next() {
		var (
			ts                              int64
			open, high, low, cls            string
			lastClose, turnover, changeRate string
			volume                          int64
		)

		if err := rows.Scan(&ts, &open, &high, &low, &cls, &lastClose, &volume, &turnover, &changeRate); err != nil {
			return nil, errors.Trace(err)
		}

		kl := common.KLine{
			Instrument: inst,
			KLType:     klType,
			Time:       time.Unix(ts, 0).UTC(),
			Volume:     volume,
		}

		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&kl.OHLC.Open, open},
			{&kl.OHLC.High, high},
			{&kl.OHLC.Low, low},
			{&kl.OHLC.Close, cls},
			{&kl.LastClose, lastClose},
			{&kl.Turnover, turnover},
			{&kl.ChangeRate, changeRate},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, errors.Annotatef(err, "kline %s %s at %d", inst, klType, ts)
			}
		}

		ret = append(ret, kl)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	return ret, nil
}

// SaveCursor records where an unfinished history download stopped. An empty
// cursor removes the record.
func (s *KLineStore) SaveCursor(ctx context.Context, inst common.Instrument, klType common.KLType, cursor string) error {
	if cursor == "" {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM history_cursors WHERE instrument = ? AND kl_type = ?",
			string(inst), klType.String(),
		)
		return errors.Trace(err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO history_cursors (instrument, kl_type, cursor, updated_at)
		VALUES (?, ?, ?, ?)
	`, string(inst), klType.String(), cursor, time.Now().Unix())

	return errors.Trace(err)
}

// LoadCursor returns the cursor saved by SaveCursor, or an empty string.
func (s *KLineStore) LoadCursor(ctx context.Context, inst common.Instrument, klType common.KLType) (string, error) {
	var cursor string

	err := s.db.QueryRowContext(ctx,
		"SELECT cursor FROM history_cursors WHERE instrument = ? AND kl_type = ?",
		string(inst), klType.String(),
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Trace(err)
	}

	return cursor, nil
}
