package storage

// sqlite.go — histórico de valoraciones.
//
// Estrategia:
//   - `snapshots`: una fila por valoración con los totales.
//   - `snapshot_positions`: las posiciones valoradas de cada snapshot.
//   - Prune automático al arrancar: snapshots > 365d.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/trfolio/internal/domain"
	"github.com/alejandrodnm/trfolio/internal/ports"
)

const schema = `
-- Totales de cada valoración
CREATE TABLE IF NOT EXISTS snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at        DATETIME NOT NULL,
    positions       INTEGER  NOT NULL DEFAULT 0,
    total_buy_cost  REAL     NOT NULL DEFAULT 0,
    total_net_value REAL     NOT NULL DEFAULT 0,
    cash            REAL     NOT NULL DEFAULT 0
);

-- Posiciones valoradas por snapshot
CREATE TABLE IF NOT EXISTS snapshot_positions (
    snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    isin        TEXT    NOT NULL,
    name        TEXT,
    quantity    REAL    NOT NULL DEFAULT 0,
    avg_cost    REAL    NOT NULL DEFAULT 0,
    price       REAL    NOT NULL DEFAULT 0,
    buy_cost    REAL    NOT NULL DEFAULT 0,
    net_value   REAL    NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_snapshots_at     ON snapshots(taken_at DESC);
CREATE INDEX IF NOT EXISTS idx_snap_pos_id      ON snapshot_positions(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_snap_pos_isin    ON snapshot_positions(isin);
`

// retentionSnapshots: un año de histórico es más que suficiente para
// las gráficas de evolución.
const retentionSnapshots = 365 * 24 * time.Hour

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia snapshots antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveOverview persiste los totales y las posiciones de una valoración.
func (s *SQLiteStorage) SaveOverview(ctx context.Context, at time.Time, ov domain.Overview) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveOverview: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (taken_at, positions, total_buy_cost, total_net_value, cash)
		 VALUES (?, ?, ?, ?, ?)`,
		at.UTC(), len(ov.Positions), ov.Summary.TotalBuyCost, ov.Summary.TotalNetValue, ov.Summary.Cash,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveOverview: insert snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage.SaveOverview: snapshot id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_positions
			(snapshot_id, isin, name, quantity, avg_cost, price, buy_cost, net_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveOverview: prepare: %w", err)
	}
	defer stmt.Close()

	for _, pos := range ov.Positions {
		if _, err := stmt.ExecContext(ctx,
			snapshotID, pos.ISIN, pos.Name, pos.Quantity,
			pos.AvgCost, pos.Price, pos.BuyCost, pos.NetValue,
		); err != nil {
			return fmt.Errorf("storage.SaveOverview: insert position %s: %w", pos.ISIN, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveOverview: commit: %w", err)
	}
	return nil
}

// History devuelve los resúmenes de snapshot en el rango dado, del más
// reciente al más antiguo.
func (s *SQLiteStorage) History(ctx context.Context, from, to time.Time) ([]ports.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, positions, total_buy_cost, total_net_value, cash
		FROM snapshots
		WHERE taken_at BETWEEN ? AND ?
		ORDER BY taken_at DESC
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("storage.History: query: %w", err)
	}
	defer rows.Close()

	var snaps []ports.Snapshot
	for rows.Next() {
		var snap ports.Snapshot
		if err := rows.Scan(&snap.TakenAt, &snap.Positions,
			&snap.TotalBuyCost, &snap.TotalNetValue, &snap.Cash); err != nil {
			return nil, fmt.Errorf("storage.History: scan: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Close cierra la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld borra snapshots fuera de la ventana de retención. Errores
// solo se ignoran: perder el prune no justifica fallar el arranque.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionSnapshots)
	s.db.ExecContext(ctx, `DELETE FROM snapshot_positions WHERE snapshot_id IN
		(SELECT id FROM snapshots WHERE taken_at < ?)`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < ?`, cutoff)
}
