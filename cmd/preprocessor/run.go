package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doppelganger/personaprep/internal/cache"
	"github.com/doppelganger/personaprep/internal/filter"
	"github.com/doppelganger/personaprep/internal/pipeline"
	"github.com/doppelganger/personaprep/pkg/config"
	"github.com/doppelganger/personaprep/pkg/logging"
	"github.com/doppelganger/personaprep/pkg/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the preprocessing passes over one export",
		Example: `  preprocessor run --input tweets.csv
  preprocessor run --input sample.csv --test --chunk-size 5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("input", "", "source CSV export")
	f.Bool("test", false, "write test_* artifacts under Tests/")
	f.String("output-dir", "", "write artifacts to this directory instead of a timestamped one")
	f.String("output-base-dir", "", "parent of the Results/ and Tests/ directories")
	f.Bool("keep-index", false, "keep the thread index database after the run")
	f.Bool("keep-intermediates", false, "keep the intermediate post and reply files")
	f.Bool("pretty", false, "indent the JSON documents")
	f.Int("chunk-size", 100000, "rows per batch")
	f.Int("min-thread-size", 2, "minimum messages per conversation")
	f.Int("min-text-length", 25, "minimum text length after mentions are stripped")
	f.Int("max-mentions", 1, "maximum @mentions per post")
	f.String("language", "en", "target language code")
	f.String("root-policy", config.RootPolicyKeepRootless, "keep_rootless or drop")
	f.String("thread-mode", config.ThreadModeTransitive, "transitive or direct")
	f.String("index-driver", config.DriverSQLite, "sqlite or postgres")
	f.String("index-dsn", "", "postgres DSN for the thread index")
	f.String("redis-url", "", "cache language verdicts in this Redis")

	bindFlags(cmd, map[string]string{
		"input":              "input",
		"test":               "test",
		"output_dir":         "output-dir",
		"output_base_dir":    "output-base-dir",
		"keep_index":         "keep-index",
		"keep_intermediates": "keep-intermediates",
		"pretty":             "pretty",
		"chunk_size":         "chunk-size",
		"min_thread_size":    "min-thread-size",
		"min_text_length":    "min-text-length",
		"max_mentions":       "max-mentions",
		"target_language":    "language",
		"root_policy":        "root-policy",
		"thread_mode":        "thread-mode",
		"index_driver":       "index-driver",
		"index_dsn":          "index-dsn",
		"redis_url":          "redis-url",
	}, false)

	return cmd
}

func runPreprocess(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync()

	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer telemetryShutdown()

	var detector filter.LanguageDetector = filter.NewWhatlangDetector()
	redisCache, err := cache.New(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("Language verdict cache unavailable", zap.Error(err))
	}
	defer redisCache.Close()
	detector = cache.NewCachedDetector(detector, redisCache, cfg.Redis.VerdictTTL, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.New(cfg, pipeline.Deps{Detector: detector}, logger).Run(ctx)
	if err != nil {
		return err
	}

	s := res.Stats
	fmt.Fprintf(os.Stdout, "run %s finished in %s\n", res.RunID, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "  output:        %s\n", res.Layout.Dir)
	fmt.Fprintf(os.Stdout, "  rows:          %d (%d malformed)\n", s.RowsSeen, s.MalformedRows)
	fmt.Fprintf(os.Stdout, "  posts:         %d retained of %d (%.1f%%), %d duplicate ids\n", s.PostsRetained, s.Posts, 100*s.RetentionRate(), s.DuplicatePosts)
	fmt.Fprintf(os.Stdout, "  replies:       %d\n", s.Replies)
	fmt.Fprintf(os.Stdout, "  users:         %d\n", s.Users)
	fmt.Fprintf(os.Stdout, "  conversations: %d (%d rootless, %d dropped)\n", s.Threads, s.RootlessThreads, s.DroppedThreads)
	return nil
}
