package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskpilot/internal/domain"
	"taskpilot/internal/events"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Repository is the task store consumed by the service layer. Implementations
// hand out copies so callers never share state with the store.
type Repository interface {
	Get(ctx context.Context, id string) (domain.Task, error)
	List(ctx context.Context) ([]domain.Task, error)
	Insert(ctx context.Context, t domain.Task) error
	Update(ctx context.Context, t domain.Task) error
	Delete(ctx context.Context, id string) error
}

// SQLite persists tasks in the workspace database.
type SQLite struct {
	DB     *sql.DB
	Events events.Writer
}

func NewSQLite(db *sql.DB) SQLite {
	return SQLite{DB: db}
}

const taskColumns = `id,title,description,deadline,estimated_effort,impact,created_at,completed_at`

// timeLayout is fixed width so that text order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var deadline, createdAt string
	var completedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &deadline, &t.EstimatedEffort, &t.Impact, &createdAt, &completedAt); err != nil {
		return t, err
	}
	var err error
	if t.Deadline, err = parseTime(deadline); err != nil {
		return t, fmt.Errorf("task %s deadline: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	if completedAt.Valid {
		at, err := parseTime(completedAt.String)
		if err != nil {
			return t, fmt.Errorf("task %s completed_at: %w", t.ID, err)
		}
		t.CompletedAt = &at
	}
	t.Dependencies = []string{}
	return t, nil
}

func (r SQLite) Get(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, err
	}
	deps, err := r.listDependencies(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	t.Dependencies = deps
	return t, nil
}

func (r SQLite) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	deps, err := r.allDependencies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if d, ok := deps[res[i].ID]; ok {
			res[i].Dependencies = d
		}
	}
	return res, nil
}

func (r SQLite) Insert(ctx context.Context, t domain.Task) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE id=?`, t.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrExists)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, formatTime(t.Deadline), t.EstimatedEffort, t.Impact, formatTime(t.CreatedAt), nullableTime(t.CompletedAt)); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := setDependencies(ctx, tx, t.ID, t.Dependencies); err != nil {
		return err
	}
	if err := r.Events.Append(ctx, tx, events.TaskCreated, t.ID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r SQLite) Update(ctx context.Context, t domain.Task) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, deadline=?, estimated_effort=?, impact=?, completed_at=? WHERE id=?`,
		t.Title, t.Description, formatTime(t.Deadline), t.EstimatedEffort, t.Impact, nullableTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := setDependencies(ctx, tx, t.ID, t.Dependencies); err != nil {
		return err
	}
	if err := r.Events.Append(ctx, tx, events.TaskUpdated, t.ID, events.EventPayload{"completed": t.Completed()}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r SQLite) Delete(ctx context.Context, id string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := r.Events.Append(ctx, tx, events.TaskDeleted, id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestEvents returns up to limit events, newest first.
func (r SQLite) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(entity_id,''),payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func setDependencies(ctx context.Context, tx *sql.Tx, taskID string, deps []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_deps WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, d := range deps {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id, depends_on_task_id, position) VALUES (?,?,?)`, taskID, d, i); err != nil {
			return fmt.Errorf("insert dependency %s: %w", d, err)
		}
	}
	return nil
}

func (r SQLite) listDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY position`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	deps := []string{}
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func (r SQLite) allDependencies(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, depends_on_task_id FROM task_deps ORDER BY task_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var taskID, dep string
		if err := rows.Scan(&taskID, &dep); err != nil {
			return nil, err
		}
		res[taskID] = append(res[taskID], dep)
	}
	return res, rows.Err()
}
