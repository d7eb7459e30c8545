package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// SQLStore persists plans in SQLite so prepared writes survive process
// restarts. The pure-Go driver keeps the binary cgo-free.
type SQLStore struct {
	db *sql.DB

	now func() time.Time
}

const createPlansTable = `
CREATE TABLE IF NOT EXISTS confirmation_plans (
	id          TEXT PRIMARY KEY,
	tool        TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	expires_at  TIMESTAMP NOT NULL,
	data_json   TEXT NOT NULL
)`

// OpenSQLStore opens (or creates) the plan database at path. Use
// ":memory:" for an ephemeral store.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan database: %w", err)
	}
	store, err := NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing handle and ensures the schema.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(createPlansTable); err != nil {
		return nil, fmt.Errorf("create plans table: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Create(ctx context.Context, plan *models.ConfirmationPlan) error {
	if plan == nil || plan.ID == "" {
		return errors.New("plan with id is required")
	}
	data, err := json.Marshal(plan.Data)
	if err != nil {
		return fmt.Errorf("encode plan data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO confirmation_plans (id, tool, tenant_id, user_id, created_at, expires_at, data_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.Tool, plan.TenantID, plan.UserID,
		plan.CreatedAt.UTC(), plan.ExpiresAt.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// Consume reads and deletes the plan in one transaction. The delete's
// affected-row count is the consumption token: a concurrent consumer
// that lost the race sees zero rows and reports not-found.
func (s *SQLStore) Consume(ctx context.Context, planID, tenantID, userID string) (*models.ConfirmationPlan, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin consume: %w", err)
	}
	defer tx.Rollback()

	var plan models.ConfirmationPlan
	var dataJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT id, tool, tenant_id, user_id, created_at, expires_at, data_json
		 FROM confirmation_plans
		 WHERE id = ? AND tenant_id = ? AND user_id = ? AND expires_at > ?`,
		planID, tenantID, userID, s.now().UTC(),
	).Scan(&plan.ID, &plan.Tool, &plan.TenantID, &plan.UserID,
		&plan.CreatedAt, &plan.ExpiresAt, &dataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load plan: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM confirmation_plans WHERE id = ?`, planID)
	if err != nil {
		return nil, false, fmt.Errorf("delete plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("delete plan: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit consume: %w", err)
	}

	if err := json.Unmarshal([]byte(dataJSON), &plan.Data); err != nil {
		return nil, false, fmt.Errorf("decode plan data: %w", err)
	}
	return &plan, true, nil
}

// PruneExpired removes expired plans; intended for a periodic janitor.
func (s *SQLStore) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM confirmation_plans WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune plans: %w", err)
	}
	return res.RowsAffected()
}
