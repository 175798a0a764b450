// Package queue は永続化テーブルを介したポーリング型ジョブキューを提供します。
//
// 同期点は ClaimNext のみで、獲得はトランザクション内の条件付きUPDATE
// 1回で成立します。複数ワーカーが同時に呼んでも同じ行を二重に掴むことは
// ありません。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/store"
)

// ErrJobNotFound は指定IDのジョブが存在しないことを表します。
var ErrJobNotFound = errors.New("queue: job not found")

// Queue はジョブの投入・獲得・完了・失敗を扱います。
type Queue struct {
	db          *gorm.DB
	log         *logging.Logger
	maxAttempts int
	backoff     BackoffFunc
	notifier    *Notifier
	now         func() time.Time
}

// Options は Queue の動作パラメータです。
type Options struct {
	MaxAttempts int
	Backoff     BackoffFunc
	Notifier    *Notifier // nilの場合は起床通知なし（ポーリングのみ）
}

// New は Queue を初期化します。
func New(db *gorm.DB, log *logging.Logger, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff
	}
	return &Queue{
		db:          db,
		log:         log.With("component", "queue"),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		notifier:    opts.Notifier,
		now:         time.Now,
	}
}

// Enqueue はジョブを投入します。runAfter がゼロ値の場合は即時実行可能になります。
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, runAfter time.Time) (uuid.UUID, error) {
	if jobType == "" {
		return uuid.Nil, fmt.Errorf("jobType is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now().UTC()
	if runAfter.IsZero() {
		runAfter = now
	}

	job := &store.Job{
		ID:        uuid.New(),
		JobType:   jobType,
		Payload:   datatypes.JSON(body),
		Status:    store.JobStatusQueued,
		RunAfter:  runAfter.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	if q.notifier != nil {
		q.notifier.Wake(ctx)
	}
	return job.ID, nil
}

// ClaimNext は実行可能なジョブを1件獲得し processing に遷移させます。
// 該当ジョブがない場合は (nil, nil) を返します。
func (q *Queue) ClaimNext(ctx context.Context, workerID string) (*store.Job, error) {
	now := q.now().UTC()
	var claimed *store.Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sel := tx.
			Where("status = ? AND run_after <= ?", store.JobStatusQueued, now).
			Order("run_after ASC")
		if tx.Dialector.Name() == "postgres" {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job store.Job
		if err := sel.First(&job).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		// 行ロックが使えない方言でも、status を条件に含めた更新で
		// 獲得の原子性を保証する。
		res := tx.Model(&store.Job{}).
			Where("id = ? AND status = ?", job.ID, store.JobStatusQueued).
			Updates(map[string]interface{}{
				"status":     store.JobStatusProcessing,
				"claimed_by": workerID,
				"claimed_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.First(&job, "id = ?", job.ID).Error; err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed, nil
}

// Complete はジョブを succeeded（終端）に遷移させます。
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID) error {
	now := q.now().UTC()
	res := q.db.WithContext(ctx).Model(&store.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     store.JobStatusSucceeded,
			"last_error": "",
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Fail は試行回数を加算し、上限未満ならバックオフ付きで再キュー、
// 上限に達したら failed（終端）へ遷移させます。
// すでに終端状態のジョブへの呼び出しは何もしません。
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	now := q.now().UTC()

	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job store.Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrJobNotFound
			}
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}

		attempts := job.Attempts + 1
		updates := map[string]interface{}{
			"attempts":   attempts,
			"last_error": errMsg,
			"claimed_by": "",
			"claimed_at": nil,
			"updated_at": now,
		}
		if attempts < q.maxAttempts {
			delay := q.backoff(attempts)
			updates["status"] = store.JobStatusQueued
			updates["run_after"] = now.Add(delay)
			q.log.Warn("job will retry",
				"job_id", job.ID, "job_type", job.JobType,
				"attempts", attempts, "delay", delay, "error", errMsg)
		} else {
			updates["status"] = store.JobStatusFailed
			q.log.Error("job failed permanently",
				"job_id", job.ID, "job_type", job.JobType,
				"attempts", attempts, "error", errMsg)
		}

		return tx.Model(&store.Job{}).Where("id = ?", job.ID).Updates(updates).Error
	})
}

// Get はジョブを1件取得します。
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	var job store.Job
	if err := q.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ReapStale は processing のまま一定時間更新されていないジョブを
// queued に戻します（クラッシュしたワーカーからの回復）。
func (q *Queue) ReapStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := q.now().UTC()
	cutoff := now.Add(-olderThan)

	res := q.db.WithContext(ctx).Model(&store.Job{}).
		Where("status = ? AND claimed_at IS NOT NULL AND claimed_at < ?", store.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     store.JobStatusQueued,
			"claimed_by": "",
			"claimed_at": nil,
			"run_after":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		q.log.Warn("requeued stale jobs", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
