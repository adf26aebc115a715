package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/erp/ledgersync/internal/domain/integration"
	"github.com/erp/ledgersync/internal/infrastructure/logger"
	"github.com/erp/ledgersync/internal/infrastructure/telemetry"
)

// PipelineConfig holds the tunables of the module pipeline
type PipelineConfig struct {
	// PageSize is passed to the provider; zero uses the provider default
	PageSize int
	// CacheRawPayloads also stores every raw record in the page transaction
	CacheRawPayloads bool
}

// PipelineDeps bundles the collaborators of the module pipeline
type PipelineDeps struct {
	Provider    integration.ProviderClient
	Transformer *Transformer
	Checkpoints integration.CheckpointStore
	Runs        integration.SyncRunRepository
	// Archive is optional
	Archive integration.PageArchive
	Metrics *telemetry.SyncMetrics
	Logger  *zap.Logger
}

// ModuleOutcome summarizes one pipeline invocation
type ModuleOutcome struct {
	Module   integration.ModuleID
	Cursor   string
	Progress integration.ModuleProgress
}

// Pipeline drives one module from its checkpoint to exhaustion, committing
// every page together with its checkpoint.
type Pipeline struct {
	provider    integration.ProviderClient
	transformer *Transformer
	checkpoints integration.CheckpointStore
	runs        integration.SyncRunRepository
	archive     integration.PageArchive
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	cfg         PipelineConfig
	now         func() time.Time
}

// NewPipeline creates a module pipeline
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	transformer := deps.Transformer
	if transformer == nil {
		transformer = NewTransformer()
	}
	return &Pipeline{
		provider:    deps.Provider,
		transformer: transformer,
		checkpoints: deps.Checkpoints,
		runs:        deps.Runs,
		archive:     deps.Archive,
		metrics:     deps.Metrics,
		logger:      log,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run processes module for run. The run's in-memory cursor and progress are
// updated after every committed page. Observing a cancellation request
// returns ErrRunCanceled once the current page is committed.
func (p *Pipeline) Run(ctx context.Context, run *integration.SyncRun, module integration.ModuleID) (ModuleOutcome, error) {
	outcome := ModuleOutcome{Module: module}
	if run.Mode == integration.RunModePeriod && module.IsSnapshot() {
		return outcome, fmt.Errorf("%w: module %s cannot run in period mode", integration.ErrModuleConfig, module)
	}

	ctx, span := telemetry.StartSpan(ctx, "sync.pipeline.module",
		attribute.String(telemetry.SpanAttrTenantID, run.TenantID.String()),
		attribute.String(telemetry.SpanAttrRunID, run.ID.String()),
		attribute.String(telemetry.SpanAttrModule, string(module)),
	)
	defer span.End()

	log := logger.For(ctx, p.logger).With(zap.String("module", string(module)))

	cursor, err := p.startCursor(ctx, run, module)
	if err != nil {
		telemetry.RecordError(span, err)
		return outcome, err
	}
	outcome.Cursor = cursor
	log.Info("Module started", zap.Int("cursor_len", len(cursor)))

	pageNo := run.Progress[module].Pages
	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		pageNo++
		next, hasMore, delta, err := p.processPage(ctx, run, module, cursor, pageNo)
		if err != nil {
			telemetry.RecordError(span, err)
			log.Warn("Module page failed",
				zap.Int64("page", pageNo),
				zap.Int("cursor_len", len(cursor)),
				zap.Error(err),
			)
			return outcome, err
		}
		cursor = next
		outcome.Cursor = next
		outcome.Progress = outcome.Progress.Add(delta)

		canceled, err := p.runs.IsCancelRequested(ctx, run.ID)
		if err != nil {
			return outcome, err
		}
		if canceled {
			log.Info("Cancellation observed after page", zap.Int64("page", pageNo))
			return outcome, integration.ErrRunCanceled
		}
		if !hasMore {
			break
		}
	}

	log.Info("Module completed",
		zap.Int64("pages", outcome.Progress.Pages),
		zap.Int64("fetched", outcome.Progress.Fetched),
		zap.Int64("upserted", outcome.Progress.Upserted),
		zap.Int64("skipped", outcome.Progress.Skipped),
		zap.Int64("failed", outcome.Progress.Failed),
	)
	return outcome, nil
}

// startCursor prefers the run checkpoint, then (incremental only) the
// cross-run cursor, then the start of the module.
func (p *Pipeline) startCursor(ctx context.Context, run *integration.SyncRun, module integration.ModuleID) (string, error) {
	if cur, ok := run.Checkpoint().CursorFor(module); ok {
		return cur, nil
	}
	if run.Mode != integration.RunModeIncremental {
		return "", nil
	}
	sc, err := p.checkpoints.FindCursor(ctx, run.TenantID, module)
	if errors.Is(err, integration.ErrCursorNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sc.Position, nil
}

// processPage fetches, transforms and commits one page. It returns the
// cursor now committed for the module.
func (p *Pipeline) processPage(ctx context.Context, run *integration.SyncRun, module integration.ModuleID, cursor string, pageNo int64) (string, bool, integration.ModuleProgress, error) {
	ctx, span := telemetry.StartSpan(ctx, "sync.pipeline.page",
		attribute.String(telemetry.SpanAttrModule, string(module)),
		attribute.Int64(telemetry.SpanAttrPage, pageNo),
	)
	defer span.End()

	var delta integration.ModuleProgress
	page, err := p.provider.FetchPage(ctx, integration.PageRequest{
		TenantID: run.TenantID,
		Module:   module,
		Cursor:   cursor,
		Window:   run.Window,
		PageSize: p.cfg.PageSize,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return cursor, false, delta, err
	}
	if page.HasMore && (page.NextCursor == "" || page.NextCursor == cursor) {
		err := fmt.Errorf("%w: module %s reported more pages without advancing the cursor",
			integration.ErrProviderInvalidResponse, module)
		telemetry.RecordError(span, err)
		return cursor, false, delta, err
	}

	now := p.now()
	scope := RecordScope{TenantID: run.TenantID, RunID: run.ID, SyncedAt: now}
	records, payloads, delta := p.transformPage(ctx, scope, module, page.Records)
	delta.Pages = 1

	next := page.NextCursor
	if next == "" {
		next = cursor
	}

	runCursor := run.Cursor.Clone()
	runCursor[module] = next
	runProgress := run.Progress.Clone()
	runProgress[module] = runProgress[module].Add(delta)

	err = p.checkpoints.CommitPage(ctx, integration.PageCommit{
		RunID:         run.ID,
		TenantID:      run.TenantID,
		Module:        module,
		Records:       records,
		RawPayloads:   payloads,
		Cursor:        next,
		RunCursor:     runCursor,
		RunProgress:   runProgress,
		PersistCursor: run.Mode == integration.RunModeIncremental,
		CommittedAt:   now,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return cursor, false, integration.ModuleProgress{}, err
	}

	run.RecordPage(module, next, delta, now)
	p.metrics.RecordPage(ctx, run.TenantID, string(module), delta.Upserted, delta.Skipped, delta.Failed)
	p.archivePage(ctx, run, module, pageNo, page.Body)

	logger.For(ctx, p.logger).Debug("Page committed",
		zap.String("module", string(module)),
		zap.Int64("page", pageNo),
		zap.Int64("fetched", delta.Fetched),
		zap.Int64("upserted", delta.Upserted),
		zap.Bool("has_more", page.HasMore),
	)
	return next, page.HasMore, delta, nil
}

// transformPage maps every raw record. Failures are counted and logged, they
// never abort the page.
func (p *Pipeline) transformPage(ctx context.Context, scope RecordScope, module integration.ModuleID, raws []integration.RawRecord) ([]integration.Record, []integration.RawPayload, integration.ModuleProgress) {
	delta := integration.ModuleProgress{Fetched: int64(len(raws))}
	records := make([]integration.Record, 0, len(raws))
	var payloads []integration.RawPayload

	for _, raw := range raws {
		out, err := p.transformer.Transform(scope, module, raw)
		if err != nil {
			delta.Failed++
			delta.LastError = err.Error()
			var te *integration.TransformError
			if errors.As(err, &te) {
				logger.For(ctx, p.logger).Warn("Skipping provider record",
					zap.String("module", string(module)),
					zap.String("external_id", te.ExternalID),
					zap.String("field", te.Field),
					zap.String("reason", te.Reason),
				)
			}
			continue
		}
		if len(out) == 0 {
			delta.Skipped++
			continue
		}
		records = append(records, out...)
		delta.Upserted += int64(len(out))

		if p.cfg.CacheRawPayloads {
			if payload, ok := rawPayload(scope, module, out[0].ExternalRef(), raw); ok {
				payloads = append(payloads, payload)
			}
		}
	}
	return records, payloads, delta
}

func rawPayload(scope RecordScope, module integration.ModuleID, externalID string, raw integration.RawRecord) (integration.RawPayload, bool) {
	body, err := json.Marshal(raw)
	if err != nil {
		return integration.RawPayload{}, false
	}
	return integration.RawPayload{
		TenantID:   scope.TenantID,
		Module:     module,
		ExternalID: externalID,
		RunID:      scope.RunID,
		Payload:    body,
		FetchedAt:  scope.SyncedAt,
	}, true
}

// archivePage copies the raw page to the archive. It runs after the commit
// and its failures only log.
func (p *Pipeline) archivePage(ctx context.Context, run *integration.SyncRun, module integration.ModuleID, pageNo int64, body []byte) {
	if p.archive == nil || len(body) == 0 {
		return
	}
	if err := p.archive.ArchivePage(ctx, run.TenantID, run.ID, module, pageNo, body); err != nil {
		logger.For(ctx, p.logger).Warn("Failed to archive provider page",
			zap.String("module", string(module)),
			zap.Int64("page", pageNo),
			zap.Error(err),
		)
	}
}
