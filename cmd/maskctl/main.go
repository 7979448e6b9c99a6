package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-mask/internal/audit"
	"github.com/raaihank/sentinel-mask/internal/batch"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/stats"
)

const usage = `Usage: %[1]s <command> [options]

Commands:
  batch    mask a CSV, JSON lines or Parquet dataset into JSON lines
  mask     mask stdin to stdout
  unmask   restore stdin to stdout using saved mask maps
  stats    print or clear the Redis detection counters
  audit    summarize or purge the audit log

Examples:
  %[1]s batch -input dataset.csv -output masked.jsonl -workers 8
  %[1]s mask -scope req1 -map-out map.json < prompt.txt
  %[1]s unmask -maps map.json < reply.txt
  %[1]s stats -days 7
  %[1]s audit -since 24h -purge-older-than 720h
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "batch":
		err = runBatch(os.Args[2:], os.Stdout)
	case "mask":
		err = runMask(os.Args[2:], os.Stdin, os.Stdout)
	case "unmask":
		err = runUnmask(os.Args[2:], os.Stdin, os.Stdout)
	case "stats":
		err = runStats(os.Args[2:], os.Stdout)
	case "audit":
		err = runAudit(os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprintf(os.Stdout, usage, os.Args[0])
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// common holds the flags every command accepts
type common struct {
	configPath string
	envFile    string
	logLevel   string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Configuration file path")
	fs.StringVar(&c.envFile, "env-file", ".env", "Optional dotenv file")
	fs.StringVar(&c.logLevel, "log-level", "", "Override the configured log level")
}

// setup loads configuration and builds a logger that writes to stderr so
// stdout stays clean for data
func (c *common) setup() (*config.Config, *logger.Logger, error) {
	_ = godotenv.Load(c.envFile)

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runBatch(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	var c common
	c.register(fs)
	var (
		input       = fs.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		output      = fs.String("output", "", "Output file, stdout when empty")
		batchSize   = fs.Int("batch-size", 0, "Records per batch")
		workers     = fs.Int("workers", 0, "Number of worker goroutines")
		scope       = fs.String("scope", "", "Fixed token scope, record id when empty")
		includeMaps = fs.Bool("include-maps", false, "Write each record's mask map")
		recordStats = fs.Bool("record-stats", false, "Add totals to the Redis detection stats")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if *batchSize > 0 {
		cfg.Batch.BatchSize = *batchSize
	}
	if *workers > 0 {
		cfg.Batch.WorkerCount = *workers
	}
	if *scope != "" {
		cfg.Batch.Scope = *scope
	}
	if *includeMaps {
		cfg.Batch.IncludeMaps = true
	}

	engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return err
	}
	pipeline := batch.NewPipeline(engine, cfg.Batch, log)

	if *recordStats {
		recorder, err := stats.NewRecorder(cfg.Stats, log)
		if err != nil {
			return err
		}
		defer recorder.Close()
		pipeline.WithStats(recorder)
	}

	out := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := pipeline.ProcessFile(ctx, *input, out)
	if err != nil {
		return fmt.Errorf("batch masking failed: %w", err)
	}

	log.Info("Batch masking finished",
		zap.Int64("processed", result.Processed),
		zap.Int64("failed", result.Failed),
		zap.Int64("values_masked", result.ValuesMasked),
		zap.Duration("duration", result.Duration))
	return nil
}

func runMask(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("mask", flag.ContinueOnError)
	var c common
	c.register(fs)
	var (
		scope  = fs.String("scope", "", "Token scope, configured default when empty")
		mapOut = fs.String("map-out", "", "File receiving the mask map as JSON")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := privacy.ValidateScope(*scope); err != nil {
		return err
	}

	engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return err
	}

	text, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	result := engine.MaskText(string(text), *scope)
	if _, err := io.WriteString(stdout, result.MaskedText); err != nil {
		return err
	}

	if *mapOut != "" {
		data, err := json.MarshalIndent(result.MaskMap, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*mapOut, data, 0o600); err != nil {
			return fmt.Errorf("failed to write mask map: %w", err)
		}
	}

	log.Debug("Masked input", zap.Int("tokens", result.MaskMap.Len()))
	return nil
}

func runUnmask(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("unmask", flag.ContinueOnError)
	var c common
	c.register(fs)
	maps := fs.String("maps", "", "Comma-separated mask map files, earlier files win")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *maps == "" {
		return fmt.Errorf("-maps is required")
	}

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return err
	}

	var loaded []privacy.MaskMap
	for _, path := range strings.Split(*maps, ",") {
		mm, err := readMaskMap(strings.TrimSpace(path))
		if err != nil {
			return err
		}
		loaded = append(loaded, mm)
	}

	text, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	result := engine.UnmaskText(string(text), loaded...)
	if _, err := io.WriteString(stdout, result.Text); err != nil {
		return err
	}
	if len(result.Unresolved) > 0 {
		log.Warn("Unresolved tokens left in output", zap.Strings("tokens", result.Unresolved))
	}
	return nil
}

func readMaskMap(path string) (privacy.MaskMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mask map: %w", err)
	}
	var mm privacy.MaskMap
	if err := json.Unmarshal(data, &mm); err != nil {
		return nil, fmt.Errorf("failed to parse mask map %s: %w", path, err)
	}
	return mm, nil
}

func runStats(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var c common
	c.register(fs)
	var (
		days     = fs.Int("days", 7, "Number of days to print, newest first")
		clearAll = fs.Bool("clear", false, "Delete all counters instead of printing them")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	recorder, err := stats.NewRecorder(cfg.Stats, log)
	if err != nil {
		return err
	}
	defer recorder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *clearAll {
		return recorder.Clear(ctx)
	}

	recent, err := recorder.Recent(ctx, time.Now(), *days)
	if err != nil {
		return err
	}
	return writeIndented(stdout, recent)
}

func runAudit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	var c common
	c.register(fs)
	var (
		since      = fs.Duration("since", 24*time.Hour, "Summarize entries newer than this")
		purgeOlder = fs.Duration("purge-older-than", 0, "Delete entries older than this before summarizing")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, err := c.setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := audit.NewStore(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *purgeOlder > 0 {
		if _, err := store.Purge(ctx, time.Now().Add(-*purgeOlder)); err != nil {
			return err
		}
	}

	summary, err := store.Summary(ctx, time.Now().Add(-*since))
	if err != nil {
		return err
	}
	return writeIndented(stdout, summary)
}

func writeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
