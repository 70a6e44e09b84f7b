package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repo persists Workflows over SQLite, matching the teacher's
// config.InitDatabase persistence style. Steps are stored as a single JSON
// column rather than a normalized per-step table, following the teacher's
// own models.Action{Type, Params map[string]interface{}} blob convention.
type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// Create inserts w and returns its assigned ID. If w.IsMaster is true, any
// existing master is demoted first inside the same transaction — at most
// one Workflow has is_master = true at a time (spec.md §3).
func (r *Repo) Create(ctx context.Context, w *Workflow) (int64, error) {
	stepsJSON, err := json.Marshal(w.Steps)
	if err != nil {
		return 0, fmt.Errorf("marshal steps: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if w.IsMaster {
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_master = 0 WHERE is_master = 1`); err != nil {
			return 0, err
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (name, description, screen_width, screen_height, is_master, mode_name, month_year, steps_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.Name, w.Description, w.ScreenWidth, w.ScreenHeight, boolToInt(w.IsMaster), w.ModeName, w.MonthYear, string(stepsJSON),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// SetMaster atomically demotes the current master and promotes id, so the
// single-master invariant never has a window with zero or two masters
// visible to a concurrent reader.
func (r *Repo) SetMaster(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE workflows SET is_master = 0 WHERE is_master = 1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET is_master = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("workflow %d not found", id)
	}
	return tx.Commit()
}

// Master returns the current master Workflow, if one exists.
func (r *Repo) Master(ctx context.Context) (*Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, screen_width, screen_height, is_master, mode_name, month_year, steps_json
		 FROM workflows WHERE is_master = 1 LIMIT 1`)
	return scanWorkflow(row)
}

// Get loads a Workflow by id.
func (r *Repo) Get(ctx context.Context, id int64) (*Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, screen_width, screen_height, is_master, mode_name, month_year, steps_json
		 FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// ForMode resolves a workflow for (modeName, monthYear): an exact
// (mode_name, month_year) match wins, falling back to the mode's
// month_year-less default, falling back to the master.
func (r *Repo) ForMode(ctx context.Context, modeName, monthYear string) (*Workflow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, screen_width, screen_height, is_master, mode_name, month_year, steps_json
		 FROM workflows WHERE mode_name = ? AND month_year = ? LIMIT 1`, modeName, monthYear)
	if w, err := scanWorkflow(row); err == nil {
		return w, nil
	}

	row = r.db.QueryRowContext(ctx,
		`SELECT id, name, description, screen_width, screen_height, is_master, mode_name, month_year, steps_json
		 FROM workflows WHERE mode_name = ? AND (month_year = '' OR month_year IS NULL) LIMIT 1`, modeName)
	if w, err := scanWorkflow(row); err == nil {
		return w, nil
	}

	return r.Master(ctx)
}

// List returns every workflow's summary fields without steps_json.
func (r *Repo) List(ctx context.Context) ([]Workflow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, screen_width, screen_height, is_master, mode_name, month_year FROM workflows ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var w Workflow
		var isMaster int
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.ScreenWidth, &w.ScreenHeight, &isMaster, &w.ModeName, &w.MonthYear); err != nil {
			return nil, err
		}
		w.IsMaster = isMaster != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

// Delete removes a workflow. Deleting the master leaves no master until a
// caller calls SetMaster again.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var w Workflow
	var isMaster int
	var stepsJSON string
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &w.ScreenWidth, &w.ScreenHeight, &isMaster, &w.ModeName, &w.MonthYear, &stepsJSON); err != nil {
		return nil, err
	}
	w.IsMaster = isMaster != 0
	if err := json.Unmarshal([]byte(stepsJSON), &w.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
