package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/docforge/internal/blob"
	"github.com/yourusername/docforge/internal/logging"
	"github.com/yourusername/docforge/internal/queue"
	"github.com/yourusername/docforge/internal/store"
)

// Worker はジョブキューをポーリングし、派生アセットを生成するワーカーです。
// 複数プロセスで起動しても、獲得の調停はキュー側で行われます。
type Worker struct {
	db        *gorm.DB
	queue     *queue.Queue
	blobs     blob.Store
	producers map[store.AssetType]Producer
	log       *logging.Logger

	pollInterval time.Duration
	staleAfter   time.Duration
	reapInterval time.Duration
	slots        int
	notifier     *queue.Notifier
	now          func() time.Time
}

// Options はワーカーの動作パラメータです。
type Options struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	ReapInterval time.Duration
	Slots        int
	Notifier     *queue.Notifier
}

// NewWorker は Worker を初期化します。
func NewWorker(db *gorm.DB, q *queue.Queue, blobs blob.Store, producers []Producer, log *logging.Logger, opts Options) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if opts.Slots <= 0 {
		opts.Slots = 1
	}

	byType := make(map[store.AssetType]Producer, len(producers))
	for _, p := range producers {
		byType[p.AssetType()] = p
	}

	return &Worker{
		db:           db,
		queue:        q,
		blobs:        blobs,
		producers:    byType,
		log:          log.With("component", "pipeline"),
		pollInterval: opts.PollInterval,
		staleAfter:   opts.StaleAfter,
		reapInterval: opts.ReapInterval,
		slots:        opts.Slots,
		notifier:     opts.Notifier,
		now:          time.Now,
	}
}

// Run はワーカースロットと滞留ジョブ回収を起動し、ctx が終わるまでブロックします。
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var wake <-chan struct{}
	if w.notifier != nil {
		wake = w.notifier.Listen(ctx)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	for i := 0; i < w.slots; i++ {
		workerID := fmt.Sprintf("%s-%d", host, i)
		g.Go(func() error {
			return w.runSlot(ctx, workerID, wake)
		})
	}
	g.Go(func() error {
		return w.runReaper(ctx)
	})

	w.log.Info("worker started", "slots", w.slots, "poll_interval", w.pollInterval)
	return g.Wait()
}

func (w *Worker) runSlot(ctx context.Context, workerID string, wake <-chan struct{}) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := w.queue.ClaimNext(ctx, workerID)
		if err != nil {
			w.log.Error("failed to claim job", "worker_id", workerID, "error", err)
		} else if job != nil {
			w.process(ctx, job)
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}

func (w *Worker) runReaper(ctx context.Context) error {
	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.queue.ReapStale(ctx, w.staleAfter); err != nil {
				w.log.Error("failed to reap stale jobs", "error", err)
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job *store.Job) {
	start := w.now()
	err := w.dispatch(ctx, job)
	if err != nil {
		if failErr := w.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.log.Error("failed to record job failure",
				"job_id", job.ID, "error", failErr, "cause", err)
		}
		return
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.log.Error("failed to mark job succeeded", "job_id", job.ID, "error", err)
		return
	}
	w.log.Info("job completed",
		"job_id", job.ID, "job_type", job.JobType, "elapsed", w.now().Sub(start))
}

// dispatch はジョブ種別でペイロードを解釈して実行します。
// 未知の種別や不正なペイロードもエラーとして返し、通常のリトライ経路に乗せます。
func (w *Worker) dispatch(ctx context.Context, job *store.Job) error {
	switch job.JobType {
	case store.JobTypeAnalyzeDocument:
		payload, err := decodeAnalyzePayload(job.Payload)
		if err != nil {
			return err
		}
		return w.handleAnalyze(ctx, payload)
	case store.JobTypeDeriveAssets:
		payload, err := decodeDerivePayload(job.Payload)
		if err != nil {
			return err
		}
		return w.handleDerive(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

// handleAnalyze はドキュメントを検査し、生成可能なアセット種別の
// derive-assets ジョブを投入します。判定結果はバージョンのメタデータに残します。
func (w *Worker) handleAnalyze(ctx context.Context, p *AnalyzePayload) error {
	doc, version, err := w.loadTarget(ctx, p.DocumentID, p.VersionID)
	if err != nil {
		return err
	}

	types := supportedAssetTypes(doc)

	summary := map[string]any{
		"thumbnail_supported": thumbnailSupported(doc),
		"ocr_supported":       documentIsPDF(doc),
		"analyzed_at":         w.now().UTC().Format(time.RFC3339),
	}
	if err := w.mergeVersionMetadata(ctx, version, summary); err != nil {
		return fmt.Errorf("failed to record analysis summary: %w", err)
	}

	if len(types) == 0 {
		w.log.Info("no derivable asset types", "document_id", doc.ID, "version_id", version.ID)
		return nil
	}

	_, err = w.queue.Enqueue(ctx, store.JobTypeDeriveAssets, DerivePayload{
		DocumentID: doc.ID,
		VersionID:  version.ID,
		AssetTypes: types,
		Force:      p.Force,
	}, time.Time{})
	if err != nil {
		return fmt.Errorf("failed to enqueue derive job: %w", err)
	}
	return nil
}

// handleDerive は要求された各アセット種別についてプロデューサーを起動します。
// 既に完成済みのアセットは force=false の場合スキップされ、
// 少なくとも1回の実行保証の下でも冪等に収束します。
func (w *Worker) handleDerive(ctx context.Context, p *DerivePayload) error {
	doc, version, err := w.loadTarget(ctx, p.DocumentID, p.VersionID)
	if err != nil {
		return err
	}

	var content []byte
	loadContent := func() ([]byte, error) {
		if content != nil {
			return content, nil
		}
		data, err := w.blobs.Get(ctx, version.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch source content: %w", err)
		}
		content = data
		return content, nil
	}

	for _, typ := range p.AssetTypes {
		if err := w.deriveOne(ctx, doc, version, typ, p.Force, loadContent); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) deriveOne(ctx context.Context, doc *store.Document, version *store.DocumentVersion, typ store.AssetType, force bool, loadContent func() ([]byte, error)) error {
	prod, ok := w.producers[typ]
	if !ok {
		return fmt.Errorf("no producer registered for asset type %s", typ)
	}

	existing, err := w.assetFor(ctx, version.ID, typ)
	if err != nil {
		return err
	}
	if existing != nil && existing.CompletedAt != nil && !force {
		w.log.Info("asset already exists; skipping",
			"version_id", version.ID, "asset_type", typ, "asset_id", existing.ID)
		return nil
	}

	asset, err := w.ensureAssetRow(ctx, existing, version.ID, typ)
	if err != nil {
		return err
	}

	data, err := loadContent()
	if err != nil {
		return err
	}

	em := &dbEmitter{w: w, ctx: ctx, asset: asset, doc: doc, version: version}
	out, err := prod.Produce(ctx, Input{Document: doc, Version: version, Content: data}, em)
	if err != nil {
		return fmt.Errorf("producer %s: %w", typ, err)
	}

	cardinality := out.Cardinality
	if cardinality < em.maxOrdinal {
		cardinality = em.maxOrdinal
	}

	metaJSON, err := marshalMetadata(out.Metadata)
	if err != nil {
		return err
	}

	now := w.now().UTC()
	if err := w.db.WithContext(ctx).Model(&store.Asset{}).
		Where("id = ?", asset.ID).
		Updates(map[string]interface{}{
			"cardinality":  cardinality,
			"metadata":     metaJSON,
			"completed_at": now,
			"updated_at":   now,
		}).Error; err != nil {
		return fmt.Errorf("failed to finalize asset: %w", err)
	}

	// forceによる再生成でページ数が減った場合、余った序数を掃除する。
	if err := w.db.WithContext(ctx).
		Where("asset_id = ? AND ordinal > ?", asset.ID, cardinality).
		Delete(&store.AssetObject{}).Error; err != nil {
		return fmt.Errorf("failed to trim excess objects: %w", err)
	}

	w.log.Info("asset derived",
		"version_id", version.ID, "asset_type", typ,
		"asset_id", asset.ID, "cardinality", cardinality)
	return nil
}

// ensureAssetRow はアセット行を用意します。既存行がある場合は
// 完成フラグを倒して再利用します（IDとオブジェクトの親子関係を保つため）。
func (w *Worker) ensureAssetRow(ctx context.Context, existing *store.Asset, versionID uuid.UUID, typ store.AssetType) (*store.Asset, error) {
	now := w.now().UTC()

	if existing != nil {
		if err := w.db.WithContext(ctx).Model(&store.Asset{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"completed_at": nil,
				"updated_at":   now,
			}).Error; err != nil {
			return nil, fmt.Errorf("failed to reopen asset: %w", err)
		}
		existing.CompletedAt = nil
		existing.UpdatedAt = now
		return existing, nil
	}

	asset := &store.Asset{
		ID:                uuid.New(),
		DocumentVersionID: versionID,
		AssetType:         typ,
		Cardinality:       0,
		Metadata:          datatypes.JSON([]byte("{}")),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_version_id"}, {Name: "asset_type"}},
		DoNothing: true,
	}).Create(asset).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create asset row: %w", err)
	}

	// 競合した場合は勝った行を読み直す。
	var row store.Asset
	if err := w.db.WithContext(ctx).
		First(&row, "document_version_id = ? AND asset_type = ?", versionID, typ).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (w *Worker) assetFor(ctx context.Context, versionID uuid.UUID, typ store.AssetType) (*store.Asset, error) {
	var asset store.Asset
	err := w.db.WithContext(ctx).
		First(&asset, "document_version_id = ? AND asset_type = ?", versionID, typ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (w *Worker) loadTarget(ctx context.Context, documentID, versionID uuid.UUID) (*store.Document, *store.DocumentVersion, error) {
	var version store.DocumentVersion
	if err := w.db.WithContext(ctx).First(&version, "id = ?", versionID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load version %s: %w", versionID, err)
	}
	if version.DocumentID != documentID {
		return nil, nil, fmt.Errorf("document/version mismatch")
	}
	var doc store.Document
	if err := w.db.WithContext(ctx).First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	return &doc, &version, nil
}

func (w *Worker) mergeVersionMetadata(ctx context.Context, version *store.DocumentVersion, values map[string]any) error {
	merged := map[string]any{}
	if len(version.Metadata) > 0 {
		if err := json.Unmarshal(version.Metadata, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range values {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return w.db.WithContext(ctx).Model(&store.DocumentVersion{}).
		Where("id = ?", version.ID).
		Update("metadata", datatypes.JSON(raw)).Error
}

// dbEmitter は Emitter の実装です。blobの書き込み成功後にのみ
// 対応するオブジェクト行をコミットします。
type dbEmitter struct {
	w       *Worker
	ctx     context.Context
	asset   *store.Asset
	doc     *store.Document
	version *store.DocumentVersion

	maxOrdinal int
}

func (e *dbEmitter) Declare(cardinality int) error {
	if cardinality < 0 {
		return fmt.Errorf("declared cardinality must be >= 0 (received: %d)", cardinality)
	}
	now := e.w.now().UTC()
	return e.w.db.WithContext(e.ctx).Model(&store.Asset{}).
		Where("id = ?", e.asset.ID).
		Updates(map[string]interface{}{
			"cardinality": cardinality,
			"updated_at":  now,
		}).Error
}

func (e *dbEmitter) Emit(obj ObjectPayload) error {
	if obj.Ordinal < 1 {
		return fmt.Errorf("ordinal must be >= 1 (received: %d)", obj.Ordinal)
	}

	mime := obj.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	key := fmt.Sprintf("documents/%s/v%d/assets/%s/%d",
		e.doc.ID, e.version.VersionNumber, e.asset.AssetType, obj.Ordinal)

	if err := e.w.blobs.Put(e.ctx, key, obj.Data, mime); err != nil {
		return fmt.Errorf("failed to store object %d: %w", obj.Ordinal, err)
	}

	metaJSON, err := marshalMetadata(obj.Metadata)
	if err != nil {
		return err
	}

	row := &store.AssetObject{
		ID:         uuid.New(),
		AssetID:    e.asset.ID,
		Ordinal:    obj.Ordinal,
		StorageKey: key,
		MIMEType:   mime,
		Metadata:   metaJSON,
		CreatedAt:  e.w.now().UTC(),
	}
	err = e.w.db.WithContext(e.ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset_id"}, {Name: "ordinal"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"storage_key": key,
			"mime_type":   mime,
			"metadata":    metaJSON,
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to record object %d: %w", obj.Ordinal, err)
	}

	if obj.Ordinal > e.maxOrdinal {
		e.maxOrdinal = obj.Ordinal
	}
	return nil
}

func marshalMetadata(meta map[string]any) (datatypes.JSON, error) {
	if meta == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}
