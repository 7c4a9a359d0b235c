package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/db"
	"github.com/agentmesh/agentmesh/internal/task/models"
	v1 "github.com/agentmesh/agentmesh/pkg/api/v1"
)

// SQLRepository stores tasks through the shared database pool. Queries are
// written with ? placeholders and rebound per driver, so the same code runs
// on SQLite and Postgres.
type SQLRepository struct {
	pool *db.Pool
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates the repository and ensures the schema exists.
func NewSQLRepository(pool *db.Pool) (*SQLRepository, error) {
	repo := &SQLRepository{pool: pool}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize task schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		instruction TEXT NOT NULL,
		intent TEXT DEFAULT '{}',
		target_agent_id TEXT DEFAULT '',
		user_id TEXT DEFAULT '',
		status TEXT NOT NULL,
		result TEXT DEFAULT '',
		error TEXT DEFAULT '',
		callback_url TEXT DEFAULT '',
		deadline TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_status_deadline ON tasks(status, deadline);
	`
	_, err := r.pool.Writer().Exec(schema)
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (r *SQLRepository) Close() error {
	return nil
}

type taskRow struct {
	ID            string       `db:"id"`
	Instruction   string       `db:"instruction"`
	Intent        string       `db:"intent"`
	TargetAgentID string       `db:"target_agent_id"`
	UserID        string       `db:"user_id"`
	Status        string       `db:"status"`
	Result        string       `db:"result"`
	Error         string       `db:"error"`
	CallbackURL   string       `db:"callback_url"`
	Deadline      sql.NullTime `db:"deadline"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (row *taskRow) toModel() (*models.Task, error) {
	task := &models.Task{
		ID:            row.ID,
		Instruction:   row.Instruction,
		TargetAgentID: row.TargetAgentID,
		UserID:        row.UserID,
		Status:        v1.TaskStatus(row.Status),
		Error:         row.Error,
		CallbackURL:   row.CallbackURL,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.Deadline.Valid {
		task.Deadline = row.Deadline.Time
	}
	if row.Intent != "" && row.Intent != "{}" {
		if err := json.Unmarshal([]byte(row.Intent), &task.Intent); err != nil {
			return nil, fmt.Errorf("failed to decode task intent: %w", err)
		}
	}
	if row.Result != "" {
		if err := json.Unmarshal([]byte(row.Result), &task.Result); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
	}
	return task, nil
}

func rowFromModel(task *models.Task) (*taskRow, error) {
	intent, err := json.Marshal(task.Intent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task intent: %w", err)
	}
	row := &taskRow{
		ID:            task.ID,
		Instruction:   task.Instruction,
		Intent:        string(intent),
		TargetAgentID: task.TargetAgentID,
		UserID:        task.UserID,
		Status:        string(task.Status),
		Error:         task.Error,
		CallbackURL:   task.CallbackURL,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
	if task.Result != nil {
		result, err := json.Marshal(task.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task result: %w", err)
		}
		row.Result = string(result)
	}
	if !task.Deadline.IsZero() {
		row.Deadline = sql.NullTime{Time: task.Deadline, Valid: true}
	}
	return row, nil
}

// CreateTask inserts a new task, assigning an ID and timestamps when unset.
func (r *SQLRepository) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}

	row, err := rowFromModel(task)
	if err != nil {
		return err
	}
	writer := r.pool.Writer()
	query := writer.Rebind(`
		INSERT INTO tasks (id, instruction, intent, target_agent_id, user_id, status,
			result, error, callback_url, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = writer.ExecContext(ctx, query,
		row.ID, row.Instruction, row.Intent, row.TargetAgentID, row.UserID, row.Status,
		row.Result, row.Error, row.CallbackURL, row.Deadline, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (r *SQLRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	reader := r.pool.Reader()
	query := reader.Rebind(`SELECT * FROM tasks WHERE id = ?`)

	var row taskRow
	if err := reader.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("task", id)
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return row.toModel()
}

// UpdateTask replaces an existing task record.
func (r *SQLRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	row, err := rowFromModel(task)
	if err != nil {
		return err
	}
	writer := r.pool.Writer()
	query := writer.Rebind(`
		UPDATE tasks SET instruction = ?, intent = ?, target_agent_id = ?, user_id = ?,
			status = ?, result = ?, error = ?, callback_url = ?, deadline = ?, updated_at = ?
		WHERE id = ?`)
	res, err := writer.ExecContext(ctx, query,
		row.Instruction, row.Intent, row.TargetAgentID, row.UserID,
		row.Status, row.Result, row.Error, row.CallbackURL, row.Deadline, row.UpdatedAt,
		row.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return errors.NotFound("task", task.ID)
	}
	return nil
}

// ListTasks returns tasks matching the options, newest first.
func (r *SQLRepository) ListTasks(ctx context.Context, opts ListOptions) ([]*models.Task, error) {
	query := `SELECT * FROM tasks WHERE 1 = 1`
	var args []interface{}
	if opts.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, opts.UserID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	reader := r.pool.Reader()
	var rows []taskRow
	if err := reader.SelectContext(ctx, &rows, reader.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return rowsToModels(rows)
}

// ListExpired returns non-terminal tasks whose deadline has passed.
func (r *SQLRepository) ListExpired(ctx context.Context, now time.Time) ([]*models.Task, error) {
	reader := r.pool.Reader()
	query := reader.Rebind(`
		SELECT * FROM tasks
		WHERE status IN (?, ?, ?) AND deadline IS NOT NULL AND deadline < ?`)

	var rows []taskRow
	err := reader.SelectContext(ctx, &rows, query,
		"PENDING", "ASSIGNED", "RUNNING", now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired tasks: %w", err)
	}
	return rowsToModels(rows)
}

func rowsToModels(rows []taskRow) ([]*models.Task, error) {
	result := make([]*models.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, nil
}
