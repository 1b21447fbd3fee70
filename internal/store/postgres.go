package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhub/internal/apperr"
	"taskhub/internal/model"
	"taskhub/pkg/logger"
	"taskhub/pkg/metrics"
	"taskhub/pkg/trace"
)

// notifyChannel 任务变更通知频道，payload 为 owner id
const notifyChannel = "task_changed"

// PostgresStore 基于 PostgreSQL 的任务存储，
// 用 LISTEN/NOTIFY 实现实时订阅：每次变更在同一事务内 pg_notify，
// 订阅方收到通知后重新查询完整集合并投递
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, log *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: log}
}

// EnsureSchema creates the tasks table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS tasks (
            id          BIGSERIAL PRIMARY KEY,
            owner_id    INT NOT NULL,
            text        TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            completed   BOOLEAN NOT NULL DEFAULT FALSE,
            priority    TEXT NOT NULL DEFAULT 'medium',
            due_date    TIMESTAMPTZ,
            tags        TEXT[] NOT NULL DEFAULT '{}',
            created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
        CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks (owner_id);
    `
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, fields TaskFields) (int64, error) {
	start := time.Now()
	s.logger.Debug("Creating task",
		zap.Int("owner_id", fields.OwnerID),
		zap.String("text", fields.Text),
		zap.String("priority", string(fields.Priority)),
	)

	if fields.Priority == "" {
		fields.Priority = model.PriorityMedium
	}
	tags := NormalizeTags(fields.Tags)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.RecordStoreOp("create", "failed", time.Since(start))
		return 0, apperr.Store("store.Create", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO tasks (owner_id, text, description, completed, priority, due_date, tags)
        VALUES ($1, $2, $3, FALSE, $4, $5, $6)
        RETURNING id
    `
	var id int64
	err = tx.QueryRow(ctx, query,
		fields.OwnerID,
		fields.Text,
		fields.Description,
		string(fields.Priority),
		fields.DueDate,
		tags,
	).Scan(&id)
	if err != nil {
		s.logger.Error("Failed to insert task",
			zap.Error(err),
			zap.Int("owner_id", fields.OwnerID),
		)
		metrics.RecordStoreOp("create", "failed", time.Since(start))
		return 0, apperr.Store("store.Create", err)
	}

	if err := s.notifyChange(ctx, tx, fields.OwnerID); err != nil {
		metrics.RecordStoreOp("create", "failed", time.Since(start))
		return 0, apperr.Store("store.Create", err)
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.RecordStoreOp("create", "failed", time.Since(start))
		return 0, apperr.Store("store.Create", err)
	}

	s.logger.Info("Task created successfully",
		zap.Int64("task_id", id),
		zap.Int("owner_id", fields.OwnerID),
	)
	metrics.RecordStoreOp("create", "success", time.Since(start))
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, id int64, patch TaskPatch) error {
	if patch.IsZero() {
		return nil
	}

	start := time.Now()
	s.logger.Debug("Updating task", zap.Int64("task_id", id))

	setClause, args := patchSQL(patch)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.RecordStoreOp("update", "failed", time.Since(start))
		return apperr.Store("store.Update", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(
		"UPDATE tasks SET %s WHERE id = $%d RETURNING owner_id",
		setClause, len(args)+1,
	)
	args = append(args, id)

	var ownerID int
	if err := tx.QueryRow(ctx, query, args...).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Warn("Update rejected: task not found", zap.Int64("task_id", id))
		} else {
			s.logger.Error("Failed to update task",
				zap.Error(err),
				zap.Int64("task_id", id),
			)
		}
		metrics.RecordStoreOp("update", "failed", time.Since(start))
		return apperr.Store("store.Update", err)
	}

	if err := s.notifyChange(ctx, tx, ownerID); err != nil {
		metrics.RecordStoreOp("update", "failed", time.Since(start))
		return apperr.Store("store.Update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.RecordStoreOp("update", "failed", time.Since(start))
		return apperr.Store("store.Update", err)
	}

	s.logger.Info("Task updated successfully", zap.Int64("task_id", id))
	metrics.RecordStoreOp("update", "success", time.Since(start))
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	s.logger.Debug("Deleting task", zap.Int64("task_id", id))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		metrics.RecordStoreOp("delete", "failed", time.Since(start))
		return apperr.Store("store.Delete", err)
	}
	defer tx.Rollback(ctx)

	var ownerID int
	err = tx.QueryRow(ctx, "DELETE FROM tasks WHERE id = $1 RETURNING owner_id", id).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		// 删除不存在的任务与成功无法区分
		s.logger.Debug("Delete of absent task treated as success", zap.Int64("task_id", id))
		metrics.RecordStoreOp("delete", "success", time.Since(start))
		return tx.Commit(ctx)
	}
	if err != nil {
		s.logger.Error("Failed to delete task",
			zap.Error(err),
			zap.Int64("task_id", id),
		)
		metrics.RecordStoreOp("delete", "failed", time.Since(start))
		return apperr.Store("store.Delete", err)
	}

	if err := s.notifyChange(ctx, tx, ownerID); err != nil {
		metrics.RecordStoreOp("delete", "failed", time.Since(start))
		return apperr.Store("store.Delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.RecordStoreOp("delete", "failed", time.Since(start))
		return apperr.Store("store.Delete", err)
	}

	s.logger.Info("Task deleted successfully", zap.Int64("task_id", id))
	metrics.RecordStoreOp("delete", "success", time.Since(start))
	return nil
}

// Subscribe 打开按 owner 过滤的实时订阅：
// 先同步投递一次当前完整集合，之后每次远端变更后重新投递。
// 返回的 Unsubscribe 必须被调用以释放监听连接。
func (s *PostgresStore) Subscribe(ctx context.Context, ownerID int, onChange Snapshot) (Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)

	conn, err := pgx.ConnectConfig(subCtx, s.pool.Config().ConnConfig.Copy())
	if err != nil {
		cancel()
		return nil, apperr.Store("store.Subscribe", err)
	}

	if _, err := conn.Exec(subCtx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(context.Background())
		cancel()
		return nil, apperr.Store("store.Subscribe", err)
	}

	tasks, err := s.listByOwner(subCtx, ownerID)
	if err != nil {
		conn.Close(context.Background())
		cancel()
		return nil, apperr.Store("store.Subscribe", err)
	}

	s.logger.Info("Live query subscription opened",
		zap.Int("owner_id", ownerID),
		zap.Int("initial_count", len(tasks)),
	)
	onChange(tasks)
	metrics.IncrementSnapshotDelivery("postgres")

	go func() {
		defer conn.Close(context.Background())
		payload := strconv.Itoa(ownerID)

		for {
			notification, err := conn.WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					s.logger.Info("Live query subscription released",
						zap.Int("owner_id", ownerID),
					)
					return
				}
				s.logger.Error("Live query listener failed",
					zap.Error(err),
					zap.Int("owner_id", ownerID),
				)
				return
			}
			if notification.Payload != payload {
				continue
			}

			deliveryCtx := trace.WithContext(subCtx, trace.GenerateTraceID())
			tasks, err := s.listByOwner(deliveryCtx, ownerID)
			if err != nil {
				// 本次推送丢失，等待下一次变更通知
				logger.WithTrace(deliveryCtx, s.logger).Error("Failed to refresh snapshot",
					zap.Error(err),
					zap.Int("owner_id", ownerID),
				)
				continue
			}

			logger.WithTrace(deliveryCtx, s.logger).Debug("Delivering snapshot",
				zap.Int("owner_id", ownerID),
				zap.Int("count", len(tasks)),
			)
			onChange(tasks)
			metrics.IncrementSnapshotDelivery("postgres")
		}
	}()

	return func() { cancel() }, nil
}

func (s *PostgresStore) notifyChange(ctx context.Context, tx pgx.Tx, ownerID int) error {
	_, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, strconv.Itoa(ownerID))
	return err
}

func (s *PostgresStore) listByOwner(ctx context.Context, ownerID int) ([]model.Task, error) {
	query := `
        SELECT id, owner_id, text, description, completed, priority, due_date, tags, created_at
        FROM tasks
        WHERE owner_id = $1
        ORDER BY id
    `
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		var t model.Task
		var priority string
		if err := rows.Scan(
			&t.ID,
			&t.OwnerID,
			&t.Text,
			&t.Description,
			&t.Completed,
			&priority,
			&t.DueDate,
			&t.Tags,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		t.Priority = model.Priority(priority)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// patchSQL 将部分更新记录编译为 SET 子句和参数列表
func patchSQL(p TaskPatch) (string, []any) {
	var set []string
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Text != nil {
		add("text", *p.Text)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Completed != nil {
		add("completed", *p.Completed)
	}
	if p.Priority != nil {
		add("priority", string(*p.Priority))
	}
	if p.ClearDueDate {
		set = append(set, "due_date = NULL")
	} else if p.DueDate != nil {
		add("due_date", *p.DueDate)
	}
	if p.Tags != nil {
		add("tags", NormalizeTags(*p.Tags))
	}

	return strings.Join(set, ", "), args
}
