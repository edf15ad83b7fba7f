package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			coin_pair TEXT NOT NULL,
			config TEXT NOT NULL,
			created DATETIME NOT NULL,
			backtest_results TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_coin_pair ON strategies(coin_pair);`,
		`CREATE TABLE IF NOT EXISTS closed_positions (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			phase TEXT NOT NULL,
			average_entry TEXT NOT NULL,
			total_entered TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			leverage INTEGER NOT NULL,
			margin_type TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_positions_strategy ON closed_positions(strategy_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StrategyRepository implementation. The config column holds the builder's
// JSON export verbatim so the schema survives config shape changes.

func (s *SQLiteStore) Save(ctx context.Context, strategy *domain.StoredStrategy) error {
	cfg, err := json.Marshal(strategy.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `INSERT OR REPLACE INTO strategies (id, name, coin_pair, config, created, backtest_results)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		strategy.ID, strategy.Name, strategy.CoinPair, string(cfg),
		strategy.Created, string(strategy.BacktestResults))
	if err != nil {
		return fmt.Errorf("failed to save strategy: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.StoredStrategy, error) {
	query := `SELECT id, name, coin_pair, config, created, backtest_results FROM strategies WHERE id = ?`
	return scanStrategy(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) List(ctx context.Context) ([]*domain.StoredStrategy, error) {
	query := `SELECT id, name, coin_pair, config, created, backtest_results FROM strategies ORDER BY created`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.StoredStrategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrStrategyNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (*domain.StoredStrategy, error) {
	var (
		st       domain.StoredStrategy
		cfg      string
		backtest sql.NullString
		created  time.Time
	)
	if err := row.Scan(&st.ID, &st.Name, &st.CoinPair, &cfg, &created, &backtest); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &st.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	st.Created = created
	if backtest.Valid && backtest.String != "" {
		st.BacktestResults = json.RawMessage(backtest.String)
	}
	return &st, nil
}

// PositionArchive implementation. Decimals are stored as text to keep their
// exact representation.

func (s *SQLiteStore) Archive(ctx context.Context, pos *domain.ArchivedPosition) error {
	query := `INSERT OR REPLACE INTO closed_positions
			  (id, strategy_id, symbol, side, phase, average_entry, total_entered, realized_pnl, leverage, margin_type, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.ID, pos.StrategyID, pos.Symbol, string(pos.Side), string(pos.Phase),
		pos.AverageEntry.String(), pos.TotalEntered.String(), pos.RealizedPnL.String(),
		pos.Leverage, pos.MarginType, pos.OpenedAt, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to archive position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListClosed(ctx context.Context, limit int) ([]*domain.ArchivedPosition, error) {
	query := `SELECT id, strategy_id, symbol, side, phase, average_entry, total_entered, realized_pnl, leverage, margin_type, opened_at, closed_at
			  FROM closed_positions ORDER BY closed_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ArchivedPosition
	for rows.Next() {
		var (
			pos             domain.ArchivedPosition
			side, phase     string
			avg, total, pnl string
		)
		if err := rows.Scan(&pos.ID, &pos.StrategyID, &pos.Symbol, &side, &phase,
			&avg, &total, &pnl, &pos.Leverage, &pos.MarginType, &pos.OpenedAt, &pos.ClosedAt); err != nil {
			return nil, err
		}
		pos.Side = domain.Side(side)
		pos.Phase = domain.PositionPhase(phase)
		if pos.AverageEntry, err = decimal.NewFromString(avg); err != nil {
			return nil, err
		}
		if pos.TotalEntered, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		if pos.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, err
		}
		out = append(out, &pos)
	}
	return out, rows.Err()
}
