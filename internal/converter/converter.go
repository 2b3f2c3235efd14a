// =============================================================================
// SHP/CSV/KML Converter - Converter Module
// =============================================================================
//
// This module contains the core conversion logic. It runs the pipeline for a
// single input dataset, streaming every feature from one reader into one or
// more writers.
//
// CONVERSION PIPELINE:
//   1. Detect the input and output formats from their extensions
//   2. Open the source and read its schema
//   3. Create one sink per output file
//   4. Bind the transformation rules to the schema
//   5. Stream features: transform, write to every sink, count, report
//   6. Close every sink and the source
//
// ROW COUNTING:
//   A row is counted once it has been written to every sink. Progress is
//   printed whenever the count reaches a multiple of the progress interval,
//   and the loop stops as soon as max_records > 0 and the count reaches it.
//
// CONCURRENCY:
//   A Converter handles one input. The batch command runs several
//   converters in parallel; they share nothing but the logger.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of converting a single input.
type Result struct {
	// RunID identifies the run in logs and reports.
	RunID string

	// Input is the path of the converted dataset.
	Input string

	// Outputs are the paths of the written datasets.
	Outputs []string

	// Success indicates whether the conversion completed.
	Success bool

	// Error contains the error if the conversion failed.
	Error error

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about a conversion.
type ProcessingStats struct {
	// RowsRead is the number of features delivered by the source.
	RowsRead int

	// RowsWritten is the number of features written to every sink.
	RowsWritten int

	// Skipped counts features dropped because of invalid geometry.
	// Always zero unless ContinueOnError is set.
	Skipped int

	// NullGeometries counts written features that carry no geometry.
	NullGeometries int

	// BlankRows counts table rows passed over because every cell was blank.
	BlankRows int

	// Capped is true when the run stopped at max_records.
	Capped bool

	// ProcessingTime is the time taken by the conversion.
	ProcessingTime time.Duration
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter converts one input dataset into one or more outputs.
type Converter struct {
	input   string
	outputs []string
	cfg     *config.Config
	logger  *zap.Logger

	// progress receives the banner and row counts. Defaults to os.Stdout.
	progress io.Writer

	// title overrides the banner title derived from the formats.
	title string

	runID string
}

// Option customises a Converter.
type Option func(*Converter)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProgressWriter redirects the console output.
func WithProgressWriter(w io.Writer) Option {
	return func(c *Converter) {
		c.progress = w
	}
}

// WithTitle replaces the banner title.
func WithTitle(title string) Option {
	return func(c *Converter) {
		c.title = title
	}
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(c *Converter) {
		c.runID = id
	}
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// New creates a new Converter instance.
//
// PARAMETERS:
//   - input: The path to the input dataset.
//   - outputs: The paths of the datasets to write, at least one.
//   - cfg: The application configuration.
//   - opts: Optional settings (logger, progress writer, title, run ID).
//
// RETURNS:
//   - A new Converter instance.
func New(input string, outputs []string, cfg *config.Config, opts ...Option) *Converter {
	c := &Converter{
		input:    input,
		outputs:  outputs,
		cfg:      cfg,
		logger:   zap.NewNop(),
		progress: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	return c
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the conversion pipeline.
//
// Cancelling ctx stops the run between features. The sinks are still closed
// so that the files written so far are well formed, and the Result carries
// the context error.
//
// RETURNS:
//   - A Result struct containing the outcome of the conversion.
func (c *Converter) Run(ctx context.Context) Result {
	startTime := time.Now()
	result := Result{
		RunID:   c.runID,
		Input:   c.input,
		Outputs: c.outputs,
	}
	logger := c.logger.With(zap.String("run_id", c.runID), zap.String("input", c.input))

	// =========================================================================
	// STEP 1: DETECT FORMATS
	// =========================================================================

	inFormat, outFormats, err := c.detectFormats()
	if err != nil {
		result.Error = err
		return result
	}

	title := c.title
	if title == "" {
		title = Title(inFormat, outFormats)
	}
	progress := NewProgress(c.progress, c.cfg.ProgressInterval)
	progress.Start(title)

	// =========================================================================
	// STEP 2: OPEN SOURCE
	// =========================================================================

	src, _, err := OpenSource(c.input, c.cfg, logger)
	if err != nil {
		result.Error = fmt.Errorf("failed to open input: %w", err)
		return result
	}
	schema := src.Schema()
	logger.Debug("Opened input",
		zap.String("layer", schema.Layer),
		zap.Int("fields", len(schema.Fields)))

	// =========================================================================
	// STEP 3: CREATE SINKS
	// =========================================================================

	sinks, err := c.openSinks(schema, logger)
	if err != nil {
		result.Error = errors.Join(err, src.Close())
		return result
	}

	// =========================================================================
	// STEP 4: BIND TRANSFORMATIONS
	// =========================================================================

	transformer, err := NewTransformer(c.cfg.Transformations, schema)
	if err != nil {
		result.Error = errors.Join(fmt.Errorf("failed to build transformations: %w", err), closeAll(sinks, src))
		return result
	}
	for _, field := range transformer.Unbound() {
		logger.Debug("Transformation field not in input", zap.String("field", field))
	}

	// =========================================================================
	// STEP 5: STREAM FEATURES
	// =========================================================================

	runErr := c.stream(ctx, src, sinks, transformer, progress, &result.Stats, logger)

	// =========================================================================
	// STEP 6: CLOSE
	// =========================================================================

	result.Stats.Skipped += src.Skipped()
	if bc, ok := src.(blankCounter); ok {
		result.Stats.BlankRows = bc.BlankRows()
	}
	closeErr := closeAll(sinks, src)
	progress.Finish(result.Stats.RowsWritten)

	result.Stats.ProcessingTime = time.Since(startTime)
	if err := errors.Join(runErr, closeErr); err != nil {
		result.Error = err
		logger.Error("Conversion failed", zap.Int("rows", result.Stats.RowsWritten), zap.Error(err))
		return result
	}

	result.Success = true
	logger.Info("Conversion finished",
		zap.Strings("outputs", c.outputs),
		zap.Int("rows", result.Stats.RowsWritten),
		zap.Int("skipped", result.Stats.Skipped),
		zap.Int("blank_rows", result.Stats.BlankRows),
		zap.Duration("elapsed", result.Stats.ProcessingTime))

	return result
}

// stream copies features from src to every sink until the source is
// exhausted, the row cap is reached, ctx is cancelled or an error occurs.
func (c *Converter) stream(
	ctx context.Context,
	src Source,
	sinks []Sink,
	transformer *Transformer,
	progress *Progress,
	stats *ProcessingStats,
	logger *zap.Logger,
) error {
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("conversion interrupted after %d rows: %w", stats.RowsWritten, err)
		}

		f := src.Feature()
		stats.RowsRead++
		if transformer.Active() {
			transformer.Apply(f)
		}

		if err := writeAll(sinks, f); err != nil {
			if c.cfg.ContinueOnError && errors.Is(err, types.ErrInvalidGeometry) {
				stats.Skipped++
				logger.Warn("Skipping feature", zap.Int("feature", f.Index), zap.Error(err))
				continue
			}
			return fmt.Errorf("failed to write feature %d: %w", f.Index, err)
		}

		if f.Geometry == nil {
			stats.NullGeometries++
		}
		stats.RowsWritten++
		progress.Row(stats.RowsWritten)

		if c.cfg.MaxRecords > 0 && stats.RowsWritten >= c.cfg.MaxRecords {
			stats.Capped = true
			logger.Debug("Reached max_records", zap.Int("max_records", c.cfg.MaxRecords))
			break
		}
	}

	if err := src.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// detectFormats checks every path before anything is opened.
func (c *Converter) detectFormats() (Format, []Format, error) {
	if len(c.outputs) == 0 {
		return "", nil, errors.New("no output files given")
	}

	in, err := DetectFormat(c.input)
	if err != nil {
		return "", nil, err
	}
	if !in.CanRead() {
		return "", nil, fmt.Errorf("%w: cannot read %s files", ErrUnsupportedFormat, in.Label())
	}

	inAbs, _ := filepath.Abs(c.input)
	outs := make([]Format, 0, len(c.outputs))
	for _, path := range c.outputs {
		f, err := DetectFormat(path)
		if err != nil {
			return "", nil, err
		}
		if !f.CanWrite() {
			return "", nil, fmt.Errorf("%w: cannot write %s files", ErrUnsupportedFormat, f.Label())
		}
		if abs, _ := filepath.Abs(path); abs == inAbs {
			return "", nil, fmt.Errorf("output %s would overwrite the input", path)
		}
		outs = append(outs, f)
	}
	return in, outs, nil
}

// openSinks creates every output, closing the ones already created when a
// later one fails.
func (c *Converter) openSinks(schema *types.Schema, logger *zap.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, len(c.outputs))
	for _, path := range c.outputs {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Join(fmt.Errorf("failed to create output directory: %w", err), closeAll(sinks, nil))
			}
		}

		sink, _, err := OpenSink(path, schema, c.cfg, logger)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create %s: %w", path, err), closeAll(sinks, nil))
		}
		logger.Debug("Created output", zap.String("output", path))
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// writeAll writes f to every sink, or to none of them when a sink rejects
// it.
func writeAll(sinks []Sink, f *types.Feature) error {
	for _, sink := range sinks {
		if err := sink.Accept(f); err != nil {
			return err
		}
	}
	for _, sink := range sinks {
		if err := sink.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// closeAll closes the sinks in order, then the source when given.
func closeAll(sinks []Sink, src Source) error {
	var errs []error
	for _, sink := range sinks {
		errs = append(errs, sink.Close())
	}
	if src != nil {
		errs = append(errs, src.Close())
	}
	return errors.Join(errs...)
}
