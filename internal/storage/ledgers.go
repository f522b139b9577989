package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"covdiff/internal/impact"
)

// LoadRiskLedger returns the risk ledger of an application, or nil when
// none was stored.
func (db *DB) LoadRiskLedger(ctx context.Context, groupID, appID string) (*impact.RiskLedger, error) {
	var blob []byte
	err := db.QueryRow(ctx, `
		SELECT payload FROM risk_ledgers WHERE group_id = ? AND app_id = ?
	`, groupID, appID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("risk ledger lookup failed: %w", err)
	}

	raw, err := db.codec.decompress(blob)
	if err != nil {
		return nil, err
	}
	var ledger impact.RiskLedger
	if err := json.Unmarshal(raw, &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode risk ledger: %w", err)
	}
	return &ledger, nil
}

// StoreRiskLedger replaces the risk ledger of an application.
func (db *DB) StoreRiskLedger(ctx context.Context, groupID, appID string, ledger *impact.RiskLedger) error {
	raw, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode risk ledger: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT OR REPLACE INTO risk_ledgers (group_id, app_id, baseline, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, groupID, appID, ledger.Baseline, db.codec.compress(raw), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to store risk ledger: %w", err)
	}
	return nil
}
