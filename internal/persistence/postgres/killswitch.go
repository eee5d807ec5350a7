package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/agentguard/agentguard/internal/plugins"
)

// KillSwitchStore implements plugins.StateStore against a single-row
// table: every state change overwrites the row with id=1.
type KillSwitchStore struct {
	db *DB
}

// NewKillSwitchStore constructs a KillSwitchStore over db. The caller is
// responsible for having created the backing table (see Schema).
func NewKillSwitchStore(db *DB) *KillSwitchStore {
	return &KillSwitchStore{db: db}
}

// Schema is the DDL for the backing table, for callers to run during
// migration.
const Schema = `
CREATE TABLE IF NOT EXISTS agentguard_kill_switch_state (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// OnStateChange upserts the current kill-switch state.
func (s *KillSwitchStore) OnStateChange(ctx context.Context, state plugins.KillSwitchState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling kill switch state: %w", err)
	}
	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO agentguard_kill_switch_state (id, state, updated_at)
			VALUES (1, $1, now())
			ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
		`, payload)
		return err
	})
}

// LoadState returns the persisted kill-switch state, or a zero-value
// state if no row has been written yet.
func (s *KillSwitchStore) LoadState(ctx context.Context) (plugins.KillSwitchState, error) {
	var payload []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT state FROM agentguard_kill_switch_state WHERE id = 1`).Scan(&payload)
	if err == pgx.ErrNoRows {
		return plugins.KillSwitchState{KilledAgents: map[string]string{}}, nil
	}
	if err != nil {
		return plugins.KillSwitchState{}, fmt.Errorf("loading kill switch state: %w", err)
	}

	var state plugins.KillSwitchState
	if err := json.Unmarshal(payload, &state); err != nil {
		return plugins.KillSwitchState{}, fmt.Errorf("decoding kill switch state: %w", err)
	}
	return state, nil
}
