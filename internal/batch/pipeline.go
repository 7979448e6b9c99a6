package batch

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"github.com/raaihank/sentinel-mask/internal/privacy"
	"github.com/raaihank/sentinel-mask/internal/stats"
)

// StatsRecorder receives one event per finished run
type StatsRecorder interface {
	Record(ctx context.Context, ev stats.Event) error
}

// Pipeline masks datasets record by record
type Pipeline struct {
	engine *privacy.Engine
	config config.BatchConfig
	logger *logger.Logger
	stats  StatsRecorder
}

type job struct {
	index int
	rec   *Record
}

type outcome struct {
	out    *Output
	counts map[string]int
	err    error
}

// NewPipeline creates a new batch pipeline
func NewPipeline(engine *privacy.Engine, cfg config.BatchConfig, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pipeline{
		engine: engine,
		config: cfg,
		logger: log.WithComponent("batch"),
	}
}

// WithStats makes the pipeline report its totals to rec
func (p *Pipeline) WithStats(rec StatsRecorder) *Pipeline {
	p.stats = rec
	return p
}

// ProcessFile masks the dataset at path and writes JSON lines to w
func (p *Pipeline) ProcessFile(ctx context.Context, path string, w io.Writer) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(path)
	p.logger.Info("Detected file format", zap.String("file", path), zap.String("format", string(format)))

	return p.Process(ctx, format, file, w)
}

// Process masks records read from r in the given format. Parquet input must
// also implement io.ReaderAt.
func (p *Pipeline) Process(ctx context.Context, format FileFormat, r io.Reader, w io.Writer) (*Result, error) {
	p.logger.Info("Starting batch masking",
		zap.String("format", string(format)),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	var (
		readBatch func() ([]*Record, error)
		closer    func()
		err       error
	)
	switch format {
	case FormatCSV:
		readBatch, err = p.csvReader(r)
	case FormatJSON:
		readBatch = p.jsonReader(r)
	case FormatParquet:
		readBatch, closer, err = p.parquetReader(r)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	start := time.Now()
	result := &Result{Classes: make(map[string]int64)}
	bw := bufio.NewWriter(w)

	if err := p.processBatches(ctx, readBatch, bw, result); err != nil {
		bw.Flush()
		result.Duration = time.Since(start)
		return result, err
	}
	if err := bw.Flush(); err != nil {
		return result, fmt.Errorf("failed to write output: %w", err)
	}
	result.Duration = time.Since(start)

	p.recordStats(ctx, result)

	p.logger.Info("Batch masking completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed", result.Processed),
		zap.Int64("failed", result.Failed),
		zap.Int64("values_masked", result.ValuesMasked),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// csvReader expects a header naming a text column and optionally an id column
func (p *Pipeline) csvReader(r io.Reader) (func() ([]*Record, error), error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idCol, textCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id":
			idCol = i
		case "text":
			textCol = i
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("CSV header %v has no text column", header)
	}
	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	row := 0
	return func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			fields, err := reader.Read()
			if err == io.EOF {
				break
			}
			row++
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Int("row", row), zap.Error(err))
				continue
			}
			if textCol >= len(fields) {
				p.logger.Warn("Invalid CSV record length", zap.Int("row", row), zap.Int("length", len(fields)))
				continue
			}

			rec := &Record{Text: fields[textCol]}
			if idCol >= 0 && idCol < len(fields) {
				rec.ID = strings.TrimSpace(fields[idCol])
			}
			if rec.ID == "" {
				rec.ID = strconv.Itoa(row)
			}
			batch = append(batch, rec)
		}
		return batch, nil
	}, nil
}

// jsonReader reads one JSON object per line
func (p *Pipeline) jsonReader(r io.Reader) func() ([]*Record, error) {
	decoder := json.NewDecoder(r)
	row := 0
	return func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			var rec Record
			err := decoder.Decode(&rec)
			if err == io.EOF {
				break
			}
			row++
			if err != nil {
				// the decoder cannot resync after a syntax error
				return batch, fmt.Errorf("failed to decode JSON record %d: %w", row, err)
			}
			if rec.ID == "" {
				rec.ID = strconv.Itoa(row)
			}
			batch = append(batch, &rec)
		}
		return batch, nil
	}
}

func (p *Pipeline) parquetReader(r io.Reader) (func() ([]*Record, error), func(), error) {
	ra, ok := r.(io.ReaderAt)
	if !ok {
		return nil, nil, errors.New("parquet input must support random access")
	}

	size, err := inputSize(r)
	if err != nil {
		return nil, nil, err
	}
	file, err := parquet.OpenFile(ra, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Parquet input: %w", err)
	}

	reader := parquet.NewReader(file)
	row := 0
	read := func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < p.config.BatchSize {
			var rec Record
			err := reader.Read(&rec)
			if err == io.EOF {
				break
			}
			row++
			if err != nil {
				return batch, fmt.Errorf("failed to read Parquet record %d: %w", row, err)
			}
			if rec.ID == "" {
				rec.ID = strconv.Itoa(row)
			}
			batch = append(batch, &rec)
		}
		return batch, nil
	}
	return read, func() { reader.Close() }, nil
}

// inputSize reports the byte length of a random access input
func inputSize(r io.Reader) (int64, error) {
	switch v := r.(type) {
	case *os.File:
		info, err := v.Stat()
		if err != nil {
			return 0, fmt.Errorf("failed to stat Parquet input: %w", err)
		}
		return info.Size(), nil
	case interface{ Size() int64 }:
		return v.Size(), nil
	case io.Seeker:
		size, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, fmt.Errorf("failed to size Parquet input: %w", err)
		}
		return size, nil
	default:
		return 0, errors.New("parquet input size is unknown")
	}
}

// processBatches drives read, mask and write until the input is drained
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]*Record, error), w *bufio.Writer, result *Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var reported int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, readErr := readBatch()
		if len(batch) == 0 && readErr == nil {
			return nil
		}

		for _, o := range p.maskBatch(ctx, batch) {
			result.TotalRecords++
			if o.err != nil {
				result.Failed++
				if len(result.Errors) < maxReportedErrors {
					result.Errors = append(result.Errors, o.err.Error())
				}
				continue
			}
			if err := enc.Encode(o.out); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
			result.Processed++
			for class, n := range o.counts {
				result.Classes[class] += int64(n)
				result.ValuesMasked += int64(n)
			}
		}

		if readErr != nil {
			return readErr
		}

		if p.config.ProgressReport > 0 && result.TotalRecords-reported >= int64(p.config.ProgressReport) {
			reported = result.TotalRecords
			p.logger.Info("Processing progress",
				zap.Int64("records_processed", result.TotalRecords),
				zap.Int64("records_failed", result.Failed))
		}
	}
}

// maskBatch fans a batch out to the workers and returns outcomes in input order
func (p *Pipeline) maskBatch(ctx context.Context, batch []*Record) []outcome {
	outcomes := make([]outcome, len(batch))
	jobs := make(chan job)

	var wg sync.WaitGroup
	workers := p.config.WorkerCount
	if workers > len(batch) {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes[j.index] = p.maskRecord(j.rec)
			}
		}()
	}

	for i, rec := range batch {
		select {
		case jobs <- job{index: i, rec: rec}:
		case <-ctx.Done():
			outcomes[i] = outcome{err: fmt.Errorf("record %s: %w", rec.ID, ctx.Err())}
		}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (p *Pipeline) maskRecord(rec *Record) outcome {
	if p.config.MaxTextLength > 0 && len(rec.Text) > p.config.MaxTextLength {
		return outcome{err: fmt.Errorf("record %s: text length %d exceeds %d", rec.ID, len(rec.Text), p.config.MaxTextLength)}
	}

	scope := p.config.Scope
	if scope == "" {
		scope = rec.ID
	}
	if err := privacy.ValidateScope(scope); err != nil {
		return outcome{err: fmt.Errorf("record %s: %w", rec.ID, err)}
	}

	res := p.engine.MaskText(rec.Text, scope)
	out := &Output{
		ID:         rec.ID,
		MaskedText: res.MaskedText,
		Tokens:     res.MaskMap.Len(),
	}
	if p.config.IncludeMaps {
		out.MaskMap = res.MaskMap
	}
	return outcome{out: out, counts: res.MaskMap.Counts()}
}

func (p *Pipeline) recordStats(ctx context.Context, result *Result) {
	if p.stats == nil {
		return
	}
	counts := make(map[string]int, len(result.Classes))
	for class, n := range result.Classes {
		counts[class] = int(n)
	}
	if err := p.stats.Record(ctx, stats.Event{Operation: stats.OpBatch, Counts: counts}); err != nil {
		p.logger.Warn("Failed to record batch stats", zap.Error(err))
	}
}
