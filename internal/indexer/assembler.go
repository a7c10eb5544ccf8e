package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/filter"
	"github.com/doppelganger/personaprep/internal/models"
	"github.com/doppelganger/personaprep/pkg/config"
)

// ErrMissingRecord is returned when an indexed member cannot be fetched
var ErrMissingRecord = errors.New("missing member record")

// ThreadSource is the part of the thread index the assembler reads
type ThreadSource interface {
	ForEachThread(ctx context.Context, n int, fn func(ThreadGroup) error) error
	FetchRecords(ctx context.Context, ids []string) ([]models.Post, error)
}

// RootChecker decides whether a root message is usable
type RootChecker interface {
	Check(text string) filter.Verdict
}

// AssemblerOptions configures thread assembly
type AssemblerOptions struct {
	MinThreadSize int
	RootPolicy    string // config.RootPolicyKeepRootless or config.RootPolicyDrop
}

// Outcome is what happened to one candidate thread
type Outcome int

const (
	OutcomeEmitted Outcome = iota
	OutcomeDropped
	OutcomeUndersized
	OutcomeError
)

// AssemblyResult summarizes a full assembly pass
type AssemblyResult struct {
	Candidates int
	Emitted    int
	Rootless   int
	Dropped    int
	Undersized int
	Errors     int
}

// ConversationAssembler turns index groups into ordered threads. Only the
// root message is quality checked; replies are kept verbatim.
type ConversationAssembler struct {
	source  ThreadSource
	checker RootChecker
	stats   *StatsCollector
	opts    AssemblerOptions
	logger  *zap.Logger
}

// NewConversationAssembler creates an assembler. stats may be nil.
func NewConversationAssembler(source ThreadSource, checker RootChecker, stats *StatsCollector, opts AssemblerOptions, logger *zap.Logger) *ConversationAssembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinThreadSize <= 0 {
		opts.MinThreadSize = 2
	}
	if opts.RootPolicy == "" {
		opts.RootPolicy = config.RootPolicyKeepRootless
	}
	return &ConversationAssembler{
		source:  source,
		checker: checker,
		stats:   stats,
		opts:    opts,
		logger:  logger.With(zap.String("component", "assembler")),
	}
}

// candidateThreshold is the number of index rows a root needs before it is
// worth fetching. The root record may supply the last member.
func (a *ConversationAssembler) candidateThreshold() int {
	if a.opts.MinThreadSize-1 < 1 {
		return 1
	}
	return a.opts.MinThreadSize - 1
}

// Assemble walks every candidate thread in index order and passes each
// finished thread to emit. A failure inside one thread is logged and the
// thread skipped; an error from emit or from the index itself aborts.
func (a *ConversationAssembler) Assemble(ctx context.Context, emit func(*models.Thread) error) (AssemblyResult, error) {
	var res AssemblyResult

	err := a.source.ForEachThread(ctx, a.candidateThreshold(), func(g ThreadGroup) error {
		res.Candidates++
		if a.stats != nil {
			a.stats.RecordCandidate()
		}

		thread, outcome, err := a.assembleOne(ctx, g)
		switch outcome {
		case OutcomeError:
			res.Errors++
			if a.stats != nil {
				a.stats.RecordAssemblyError()
			}
			a.logger.Error("Skipping thread", zap.String("root_id", g.RootID), zap.Error(err))
			return nil
		case OutcomeDropped:
			res.Dropped++
			if a.stats != nil {
				a.stats.RecordDropped()
			}
			return nil
		case OutcomeUndersized:
			res.Undersized++
			if a.stats != nil {
				a.stats.RecordUndersized()
			}
			return nil
		}

		if err := emit(thread); err != nil {
			return fmt.Errorf("failed to emit thread %s: %w", g.RootID, err)
		}
		res.Emitted++
		if thread.Rootless {
			res.Rootless++
		}
		if a.stats != nil {
			a.stats.RecordThread(thread.Size(), thread.Rootless)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	a.logger.Info("Threads assembled",
		zap.Int("candidates", res.Candidates),
		zap.Int("emitted", res.Emitted),
		zap.Int("rootless", res.Rootless),
		zap.Int("dropped", res.Dropped),
		zap.Int("undersized", res.Undersized),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

// AssembleOne assembles a single group outside of a full pass
func (a *ConversationAssembler) AssembleOne(ctx context.Context, g ThreadGroup) (*models.Thread, Outcome, error) {
	return a.assembleOne(ctx, g)
}

func (a *ConversationAssembler) assembleOne(ctx context.Context, g ThreadGroup) (thread *models.Thread, outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			thread, outcome, err = nil, OutcomeError, fmt.Errorf("panic assembling thread: %v", r)
		}
	}()

	if g.Err != nil {
		return nil, OutcomeError, g.Err
	}

	ids := make([]string, 0, len(g.MemberIDs)+1)
	ids = append(ids, g.RootID)
	ids = append(ids, g.MemberIDs...)

	records, err := a.source.FetchRecords(ctx, ids)
	if err != nil {
		return nil, OutcomeError, err
	}

	byID := make(map[string]models.Post, len(records))
	for _, p := range records {
		byID[p.ID] = p
	}

	members := make([]models.Post, 0, len(g.MemberIDs)+1)
	for _, id := range g.MemberIDs {
		if id == g.RootID {
			continue
		}
		p, ok := byID[id]
		if !ok {
			return nil, OutcomeError, fmt.Errorf("%w: %s", ErrMissingRecord, id)
		}
		members = append(members, p)
	}

	rootless := false
	root, found := byID[g.RootID]
	switch {
	case !found:
		rootless = true
		a.logger.Debug("Root not found", zap.String("root_id", g.RootID))
	default:
		if v := a.checker.Check(root.Text); !v.Accepted {
			rootless = true
			a.logger.Debug("Root rejected by quality filter",
				zap.String("root_id", g.RootID), zap.String("reason", string(v.Reason)))
		} else {
			members = append(members, root)
		}
	}

	if rootless && a.opts.RootPolicy == config.RootPolicyDrop {
		return nil, OutcomeDropped, nil
	}
	if len(members) < a.opts.MinThreadSize {
		return nil, OutcomeUndersized, nil
	}

	sort.SliceStable(members, func(i, j int) bool {
		return models.LessPost(&members[i], &members[j])
	})

	return &models.Thread{RootID: g.RootID, Members: members, Rootless: rootless}, OutcomeEmitted, nil
}
