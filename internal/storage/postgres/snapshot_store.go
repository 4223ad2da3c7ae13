package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cds-eod-engine/internal/domain"
	"cds-eod-engine/internal/storage"
)

// SnapshotStore implements storage.MarketDataSnapshotStore using PostgreSQL.
// Quote collections are stored as JSONB; they are read and written as whole
// documents, never queried element-wise.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

var _ storage.MarketDataSnapshotStore = (*SnapshotStore)(nil)

// Insert adds a snapshot. Returns ErrDuplicateKey if one exists for the date.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.MarketDataSnapshot) error {
	spreads, curve, fx, recoveries, err := marshalQuotes(snap)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO market_data_snapshots (
			snapshot_date, snapshot_time, status, captured_by, completed_at, missing_data,
			cds_spreads, ir_curve, fx_rates, recovery_rates
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		snap.SnapshotDate, snap.SnapshotTime, string(snap.Status), snap.CapturedBy,
		snap.CompletedAt, snap.MissingData,
		spreads, curve, fx, recoveries,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Update replaces the snapshot for its date. Returns ErrNotFound if absent.
func (s *SnapshotStore) Update(ctx context.Context, snap *domain.MarketDataSnapshot) error {
	spreads, curve, fx, recoveries, err := marshalQuotes(snap)
	if err != nil {
		return err
	}

	query := `
		UPDATE market_data_snapshots SET
			snapshot_time = $2, status = $3, captured_by = $4, completed_at = $5,
			missing_data = $6, cds_spreads = $7, ir_curve = $8, fx_rates = $9,
			recovery_rates = $10
		WHERE snapshot_date = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		snap.SnapshotDate, snap.SnapshotTime, string(snap.Status), snap.CapturedBy,
		snap.CompletedAt, snap.MissingData,
		spreads, curve, fx, recoveries,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByDate retrieves the snapshot for a date. Returns ErrNotFound if absent.
func (s *SnapshotStore) GetByDate(ctx context.Context, date time.Time) (*domain.MarketDataSnapshot, error) {
	query := snapshotSelect + ` WHERE snapshot_date = $1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, date))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot by date: %w", err)
	}
	return snap, nil
}

// GetLatestComplete retrieves the most recent COMPLETE snapshot.
func (s *SnapshotStore) GetLatestComplete(ctx context.Context) (*domain.MarketDataSnapshot, error) {
	query := snapshotSelect + ` WHERE status = 'COMPLETE' ORDER BY snapshot_date DESC LIMIT 1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest complete snapshot: %w", err)
	}
	return snap, nil
}

const snapshotSelect = `
	SELECT snapshot_date, snapshot_time, status, captured_by, completed_at, missing_data,
		cds_spreads, ir_curve, fx_rates, recovery_rates
	FROM market_data_snapshots
`

func marshalQuotes(snap *domain.MarketDataSnapshot) (spreads, curve, fx, recoveries []byte, err error) {
	if spreads, err = json.Marshal(snap.CdsSpreads); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal cds spreads: %w", err)
	}
	if curve, err = json.Marshal(snap.IrCurve); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal ir curve: %w", err)
	}
	if fx, err = json.Marshal(snap.FxRates); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal fx rates: %w", err)
	}
	if recoveries, err = json.Marshal(snap.RecoveryRates); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal recovery rates: %w", err)
	}
	return spreads, curve, fx, recoveries, nil
}

func scanSnapshot(row pgx.Row) (*domain.MarketDataSnapshot, error) {
	var snap domain.MarketDataSnapshot
	var status string
	var spreads, curve, fx, recoveries []byte

	err := row.Scan(
		&snap.SnapshotDate, &snap.SnapshotTime, &status, &snap.CapturedBy,
		&snap.CompletedAt, &snap.MissingData,
		&spreads, &curve, &fx, &recoveries,
	)
	if err != nil {
		return nil, err
	}
	snap.Status = domain.SnapshotStatus(status)

	if err := json.Unmarshal(spreads, &snap.CdsSpreads); err != nil {
		return nil, fmt.Errorf("unmarshal cds spreads: %w", err)
	}
	if err := json.Unmarshal(curve, &snap.IrCurve); err != nil {
		return nil, fmt.Errorf("unmarshal ir curve: %w", err)
	}
	if err := json.Unmarshal(fx, &snap.FxRates); err != nil {
		return nil, fmt.Errorf("unmarshal fx rates: %w", err)
	}
	if err := json.Unmarshal(recoveries, &snap.RecoveryRates); err != nil {
		return nil, fmt.Errorf("unmarshal recovery rates: %w", err)
	}

	return &snap, nil
}
