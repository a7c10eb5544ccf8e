package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/db"
	"github.com/doppelganger/personaprep/internal/filter"
	"github.com/doppelganger/personaprep/internal/indexer"
	"github.com/doppelganger/personaprep/internal/ingest"
	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/internal/output"
	"github.com/doppelganger/personaprep/pkg/config"
	"github.com/doppelganger/personaprep/pkg/logging"
	"github.com/doppelganger/personaprep/pkg/telemetry"
)

// Deps are the collaborators a run can be given. Zero values select the
// defaults.
type Deps struct {
	Detector filter.LanguageDetector
	Now      func() time.Time
}

// Result describes a finished run
type Result struct {
	RunID    string
	Layout   output.Layout
	Stats    indexer.Snapshot
	Duration time.Duration
}

// Pipeline runs the four preprocessing passes over one source export:
// partition, filter and group, index, assemble.
type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	runID  string
	layout output.Layout
	stats  *indexer.StatsCollector
	filter *filter.QualityFilter
	logger *zap.Logger
}

// New creates a pipeline for one run. cfg must already be validated.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Detector == nil {
		deps.Detector = filter.NewWhatlangDetector()
	}

	runID := uuid.New().String()
	logger = logging.WithRun(logger, runID)

	qf := filter.New(filter.Options{
		MinLength:      cfg.Preprocess.MinTextLength,
		MaxMentions:    cfg.Preprocess.MaxMentions,
		TargetLanguage: cfg.Preprocess.TargetLanguage,
	}, deps.Detector, logger)

	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		runID:  runID,
		layout: output.NewLayout(&cfg.Output, deps.Now()),
		stats:  indexer.NewStatsCollector(),
		filter: qf,
		logger: logger.With(zap.String("component", "pipeline")),
	}
}

// RunID returns the id attached to every log line of the run
func (p *Pipeline) RunID() string {
	return p.runID
}

// Layout returns where the run writes its artifacts
func (p *Pipeline) Layout() output.Layout {
	return p.layout
}

// Stats returns the live statistics of the run
func (p *Pipeline) Stats() *indexer.StatsCollector {
	return p.stats
}

// Run executes every pass. Row and thread level problems are counted and
// skipped; anything that would leave an artifact incomplete aborts the run
// with a *StageError and leaves partial files in place.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := p.deps.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", p.runID), attribute.String("input", p.cfg.Input.Path))

	p.logger.Info("Starting preprocessing run",
		zap.String("input", p.cfg.Input.Path),
		zap.String("output_dir", p.layout.Dir),
		zap.Int("chunk_size", p.cfg.Preprocess.ChunkSize),
		zap.Int("min_thread_size", p.cfg.Preprocess.MinThreadSize),
		zap.String("root_policy", p.cfg.Preprocess.RootPolicy),
		zap.String("thread_mode", p.cfg.Preprocess.ThreadMode),
	)

	err := p.run(ctx)
	if err != nil {
		telemetry.Fail(span, err)
		p.logger.Error("Preprocessing run failed", zap.Error(err))
		return nil, err
	}

	res := &Result{
		RunID:    p.runID,
		Layout:   p.layout,
		Stats:    p.stats.Snapshot(),
		Duration: p.deps.Now().Sub(start),
	}
	p.logger.Info("Preprocessing run complete",
		zap.Duration("duration", res.Duration),
		zap.Int64("rows", res.Stats.RowsSeen),
		zap.Int64("posts_retained", res.Stats.PostsRetained),
		zap.Int64("users", res.Stats.Users),
		zap.Int64("threads", res.Stats.Threads),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) error {
	if err := p.partition(ctx); err != nil {
		return err
	}

	store, err := p.openIndex(ctx)
	if err != nil {
		return err
	}
	grouper := indexer.NewUserGrouper(db.NewAcceptedPostRepository(store.DB), p.cfg.Preprocess.FetchBatch, p.logger)
	index := indexer.NewThreadIndex(db.NewMessageRepository(store.DB), indexer.IndexOptions{
		Mode:         p.cfg.Preprocess.ThreadMode,
		MaxRootDepth: p.cfg.Preprocess.MaxRootDepth,
		FetchBatch:   p.cfg.Preprocess.FetchBatch,
		InsertBatch:  p.cfg.Preprocess.FetchBatch,
	}, p.logger)

	runErr := p.filterPosts(ctx, grouper)
	if runErr == nil {
		runErr = p.buildIndex(ctx, index)
	}
	if runErr == nil {
		runErr = p.assemble(ctx, index)
	}
	if err := store.Close(); err != nil && runErr == nil {
		runErr = stageErr(StageFinalize, "", fmt.Errorf("close index: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	return p.finalize()
}

// partition is pass 1: split the source into root posts and replies
func (p *Pipeline) partition(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.partition")
	defer span.End()

	rs, err := ingest.Open(p.cfg.Input.Path, p.cfg.Preprocess.ChunkSize, p.logger)
	if err != nil {
		return stageErr(StagePartition, p.cfg.Input.Path, err)
	}
	defer rs.Close()

	header := rs.Schema().Header()
	posts, err := ingest.CreateTable(p.layout.IntermediatePostsPath(), header)
	if err != nil {
		return stageErr(StagePartition, "", err)
	}
	defer posts.Close()
	replies, err := ingest.CreateTable(p.layout.IntermediateRepliesPath(), header)
	if err != nil {
		return stageErr(StagePartition, "", err)
	}
	defer replies.Close()

	err = p.eachBatch(ctx, rs, StagePartition, func(b *ingest.Batch) error {
		p.stats.RecordRows(len(b.Rows), len(b.Skipped))
		postRows, replyRows := ingest.Partition(b.Rows)
		p.stats.RecordPartition(len(postRows), len(replyRows))
		if err := posts.Append(postRows); err != nil {
			return err
		}
		return replies.Append(replyRows)
	})
	if err != nil {
		return err
	}

	if err := posts.Close(); err != nil {
		return stageErr(StagePartition, posts.Path(), err)
	}
	if err := replies.Close(); err != nil {
		return stageErr(StagePartition, replies.Path(), err)
	}
	p.logger.Info("Partition complete", zap.Int("posts", posts.Rows()), zap.Int("replies", replies.Rows()))
	return nil
}

// filterPosts is pass 2: quality filter root posts and group them by author.
// Only the first accepted post for an id is kept.
func (p *Pipeline) filterPosts(ctx context.Context, grouper *indexer.UserGrouper) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.filter")
	defer span.End()

	rs, err := ingest.Open(p.layout.IntermediatePostsPath(), p.cfg.Preprocess.ChunkSize, p.logger)
	if err != nil {
		return stageErr(StageFilter, p.layout.IntermediatePostsPath(), err)
	}
	defer rs.Close()

	out, err := ingest.CreateTable(p.layout.PostsPath(), rs.Schema().Header())
	if err != nil {
		return stageErr(StageFilter, "", err)
	}
	defer out.Close()

	err = p.eachBatch(ctx, rs, StageFilter, func(b *ingest.Batch) error {
		accepted := make([]ingest.Row, 0, len(b.Rows))
		for _, row := range b.Rows {
			v := p.filter.Check(row.Post.Text)
			p.stats.RecordVerdict(v)
			if v.Accepted {
				accepted = append(accepted, row)
			}
		}

		posts := make([]models.Post, len(accepted))
		for i := range accepted {
			posts[i] = accepted[i].Post
		}
		fresh, err := grouper.Add(ctx, posts)
		if err != nil {
			return err
		}
		kept := make([]ingest.Row, len(fresh))
		for i, j := range fresh {
			kept[i] = accepted[j]
		}
		p.stats.RecordRetained(len(kept), len(accepted)-len(kept))
		return out.Append(kept)
	})
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return stageErr(StageFilter, out.Path(), err)
	}

	users, err := grouper.Users(ctx)
	if err != nil {
		return stageErr(StageFilter, "", err)
	}
	p.stats.RecordUsers(users)
	if err := p.writeUsers(ctx, grouper); err != nil {
		return stageErr(StageFilter, p.layout.UsersPath(), err)
	}
	p.logger.Info("Filter complete", zap.Int("posts_retained", out.Rows()), zap.Int64("users", users))
	return nil
}

func (p *Pipeline) writeUsers(ctx context.Context, grouper *indexer.UserGrouper) error {
	ow, err := output.CreateObject(p.layout.UsersPath(), p.cfg.Output.Pretty)
	if err != nil {
		return err
	}
	err = grouper.ForEachUser(ctx, func(author string, posts []models.PostSummary) error {
		return ow.WriteEntry(author, posts)
	})
	if err != nil {
		ow.Abort()
		return err
	}
	return ow.Commit()
}

// openIndex opens a fresh index database holding the thread index and the
// accepted posts. A previous run's index is discarded.
func (p *Pipeline) openIndex(ctx context.Context) (*db.DB, error) {
	idxCfg := p.cfg.Index
	if idxCfg.Driver == config.DriverSQLite && idxCfg.DSN == "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := output.RemoveIfExists(p.layout.IndexPath() + suffix); err != nil {
				return nil, stageErr(StageIndex, p.layout.IndexPath(), err)
			}
		}
	}

	store, err := db.New(&idxCfg, p.layout.IndexPath(), p.cfg.Logging.Level, p.logger)
	if err != nil {
		return nil, stageErr(StageIndex, "", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, stageErr(StageIndex, "", err)
	}
	if err := db.NewMessageRepository(store.DB).Reset(ctx); err != nil {
		store.Close()
		return nil, stageErr(StageIndex, "", fmt.Errorf("reset index: %w", err))
	}
	if err := db.NewAcceptedPostRepository(store.DB).Reset(ctx); err != nil {
		store.Close()
		return nil, stageErr(StageIndex, "", fmt.Errorf("reset accepted posts: %w", err))
	}
	return store, nil
}

// buildIndex is pass 3: index every reply, plus the unfiltered root posts so
// thread roots resolve in the same lookups, then resolve roots
func (p *Pipeline) buildIndex(ctx context.Context, index *indexer.ThreadIndex) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.index")
	defer span.End()

	rs, err := ingest.Open(p.layout.IntermediateRepliesPath(), p.cfg.Preprocess.ChunkSize, p.logger)
	if err != nil {
		return stageErr(StageIndex, p.layout.IntermediateRepliesPath(), err)
	}
	defer rs.Close()

	out, err := ingest.CreateTable(p.layout.RepliesPath(), rs.Schema().Header())
	if err != nil {
		return stageErr(StageIndex, "", err)
	}
	defer out.Close()

	err = p.eachBatch(ctx, rs, StageIndex, func(b *ingest.Batch) error {
		if err := out.Append(b.Rows); err != nil {
			return err
		}
		return p.index(ctx, index, b.Rows)
	})
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return stageErr(StageIndex, out.Path(), err)
	}

	roots, err := ingest.Open(p.layout.IntermediatePostsPath(), p.cfg.Preprocess.ChunkSize, p.logger)
	if err != nil {
		return stageErr(StageIndex, p.layout.IntermediatePostsPath(), err)
	}
	defer roots.Close()
	err = p.eachBatch(ctx, roots, StageIndex, func(b *ingest.Batch) error {
		return p.index(ctx, index, b.Rows)
	})
	if err != nil {
		return err
	}

	res, err := index.ResolveRoots(ctx)
	if err != nil {
		return stageErr(StageIndex, "", err)
	}
	span.SetAttributes(attribute.Int("resolve_rounds", res.Rounds), attribute.Int64("detached", res.Detached))
	return nil
}

func (p *Pipeline) index(ctx context.Context, index *indexer.ThreadIndex, rows []ingest.Row) error {
	posts := make([]models.Post, len(rows))
	for i := range rows {
		posts[i] = rows[i].Post
	}
	n, err := index.InsertBatch(ctx, posts)
	if err != nil {
		return err
	}
	p.stats.RecordIndexed(n)
	return nil
}

// assemble is pass 4: walk the index and write the conversation document
func (p *Pipeline) assemble(ctx context.Context, index *indexer.ThreadIndex) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.assemble")
	defer span.End()

	ow, err := output.CreateObject(p.layout.ConversationsPath(), p.cfg.Output.Pretty)
	if err != nil {
		return stageErr(StageAssemble, p.layout.ConversationsPath(), err)
	}

	assembler := indexer.NewConversationAssembler(index, p.filter, p.stats, indexer.AssemblerOptions{
		MinThreadSize: p.cfg.Preprocess.MinThreadSize,
		RootPolicy:    p.cfg.Preprocess.RootPolicy,
	}, p.logger)

	every := p.cfg.Preprocess.ProgressEvery
	res, err := assembler.Assemble(ctx, func(t *models.Thread) error {
		if err := ow.WriteEntry(t.RootID, t.Entries()); err != nil {
			return err
		}
		if every > 0 && ow.Entries()%every == 0 {
			p.logger.Info("Assembly progress", zap.Int("threads", ow.Entries()))
		}
		return nil
	})
	if err != nil {
		ow.Abort()
		return stageErr(StageAssemble, "", err)
	}
	if err := ow.Commit(); err != nil {
		return stageErr(StageAssemble, p.layout.ConversationsPath(), err)
	}
	span.SetAttributes(attribute.Int("threads", res.Emitted), attribute.Int("candidates", res.Candidates))
	return nil
}

// finalize writes the stats document and removes scratch files
func (p *Pipeline) finalize() error {
	if err := output.WriteJSONFileAtomic(p.layout.StatsPath(), p.stats.Snapshot(), true); err != nil {
		return stageErr(StageFinalize, p.layout.StatsPath(), err)
	}

	var scratch []string
	if !p.cfg.Output.KeepIntermediates {
		scratch = append(scratch, p.layout.IntermediatePostsPath(), p.layout.IntermediateRepliesPath())
	}
	if !p.cfg.Output.KeepIndex && p.cfg.Index.Driver == config.DriverSQLite && p.cfg.Index.DSN == "" {
		scratch = append(scratch, p.layout.IndexPath(), p.layout.IndexPath()+"-wal", p.layout.IndexPath()+"-shm")
	}
	for _, path := range scratch {
		if err := output.RemoveIfExists(path); err != nil {
			p.logger.Warn("Failed to remove scratch file", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// eachBatch drains rs, logging progress after every batch. Errors from fn
// abort the pass as a StageError naming the batch.
func (p *Pipeline) eachBatch(ctx context.Context, rs *ingest.RowStream, stage Stage, fn func(*ingest.Batch) error) error {
	for {
		b, err := rs.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return stageErr(stage, "", err)
		}
		if err := fn(b); err != nil {
			return stageErr(stage, fmt.Sprintf("batch %d", b.Index), err)
		}
		p.logger.Info("Batch processed",
			zap.String("stage", string(stage)),
			zap.Int("batch", b.Index),
			zap.Int("rows_done", rs.Read()),
			zap.Int("rows_total", rs.Total()),
		)
	}
}
