// =============================================================================
// SHP/CSV/KML Converter - Batch Command
// =============================================================================
//
// This file defines the 'batch' command, which converts every shapefile in
// a directory to the configured target formats.
//
// COMMAND USAGE:
//   shp2csv2kml batch [DIR] [flags]
//
// FLAGS:
//   --input-dir    : Directory to scan (DIR wins when given)
//   --output-dir   : Directory receiving the outputs, mirroring the input tree
//   --targets      : Output formats, e.g. csv,kml,kmz,xlsx
//   --concurrency  : Number of files converted at the same time
//   --recursive    : Scan subdirectories (default true)
//   --summary-log  : Also write a text summary into the output directory
//
// PROCESSING PIPELINE:
//   1. Discover shapefiles in the input directory
//   2. Convert each file (concurrently, bounded by --concurrency)
//   3. Print a line per file and a summary
//   4. Write the JSON run report and the summary log when requested
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/converter"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

// recursive scans subdirectories of the input directory.
var recursive bool

// summaryLog writes a text summary next to the outputs.
var summaryLog bool

// =============================================================================
// BATCH COMMAND DEFINITION
// =============================================================================

// batchCmd represents the 'batch' command.
var batchCmd = &cobra.Command{
	Use:   "batch [DIR]",
	Short: "Convert every shapefile in a directory",
	Long: `The batch command scans a directory for shapefiles and converts each one
to every configured target format (csv, tsv, kml, kmz, xlsx).

Files are converted concurrently. A failure in one file does not stop the
others; the command exits with an error if any file failed.

With --concurrency 1 the per-file banners and progress lines are printed;
otherwise only the per-file results and the summary are.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputDir := appConfig.InputDir
		if len(args) == 1 {
			inputDir = args[0]
		}
		return runBatch(cmd, inputDir)
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)

	f := batchCmd.Flags()
	f.String("input-dir", "./input", "Directory to scan for shapefiles")
	f.String("output-dir", "./output", "Directory receiving the converted files")
	f.StringSlice("targets", []string{"csv", "kml"}, "Output formats: csv, tsv, kml, kmz, xlsx")
	f.Int("concurrency", 4, "Number of files converted at the same time")
	f.BoolVar(&recursive, "recursive", true, "Scan subdirectories")
	f.BoolVar(&summaryLog, "summary-log", false, "Write a text summary into the output directory")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// runBatch converts every shapefile under inputDir.
func runBatch(cmd *cobra.Command, inputDir string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	// =========================================================================
	// STEP 1: DISCOVER INPUT FILES
	// =========================================================================

	var err error
	if inputDir, err = utils.ExpandHome(inputDir); err != nil {
		return err
	}
	outputDir, err := utils.ExpandHome(appConfig.OutputDir)
	if err != nil {
		return err
	}

	fm := utils.NewFileManager(inputDir, outputDir)
	fm.Recursive = recursive
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	files, err := fm.DiscoverShapefiles()
	if err != nil {
		return fmt.Errorf("failed to discover input files: %w", err)
	}

	fmt.Fprintln(out, "=== SHP/CSV/KML Converter ===")
	if len(files) == 0 {
		fmt.Fprintln(out, "No shapefiles found in the input directory.")
		return nil
	}
	fmt.Fprintf(out, "Found %d file(s) to convert to %s\n", len(files), strings.Join(appConfig.Targets, ", "))

	// =========================================================================
	// STEP 2: CONVERT FILES CONCURRENTLY
	// =========================================================================

	runID := uuid.NewString()
	summary := utils.NewProcessingSummary(runID)
	log := logger.With(zap.String("batch_id", runID))

	progress := io.Discard
	if appConfig.MaxConcurrency == 1 {
		progress = out
	}

	results := make([]converter.Result, len(files))
	var g errgroup.Group
	g.SetLimit(appConfig.MaxConcurrency)

	for i, file := range files {
		i, file := i, file
		outputs := fm.OutputPaths(file, appConfig.Targets)
		g.Go(func() error {
			results[i] = converter.New(file, outputs, appConfig,
				converter.WithLogger(log),
				converter.WithProgressWriter(progress),
			).Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	// =========================================================================
	// STEP 3: COLLECT RESULTS AND PRINT SUMMARY
	// =========================================================================

	for _, result := range results {
		name := relativeTo(inputDir, result.Input)
		if result.Success {
			summary.RecordSuccess(result.Input, result.Outputs, result.Stats.RowsWritten, result.Stats.Skipped, result.Stats.ProcessingTime)
			fmt.Fprintf(out, "  ✓ %s -> %s (%s rows)\n", name,
				strings.Join(relativeAll(outputDir, result.Outputs), ", "),
				humanize.Comma(int64(result.Stats.RowsWritten)))
		} else {
			summary.RecordFailure(result.Input, result.Error)
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, result.Error)
		}
	}
	summary.Finish()

	fmt.Fprintln(out, "\n=== Processing Complete ===")
	fmt.Fprintf(out, "Total files:     %d\n", summary.TotalFiles)
	fmt.Fprintf(out, "Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(out, "Errors:          %d\n", summary.FailedFiles)
	fmt.Fprintf(out, "Rows:            %s\n", humanize.Comma(int64(summary.TotalRows)))
	if summary.SkippedRows > 0 {
		fmt.Fprintf(out, "Skipped rows:    %s\n", humanize.Comma(int64(summary.SkippedRows)))
	}
	fmt.Fprintf(out, "Time elapsed:    %s\n", summary.Duration().Round(time.Millisecond))

	// =========================================================================
	// STEP 4: REPORTS
	// =========================================================================

	if appConfig.ReportFile != "" {
		if err := utils.WriteRunReport(summary, appConfig.ReportFile); err != nil {
			return err
		}
		fmt.Fprintf(out, "Report:          %s\n", appConfig.ReportFile)
	}
	if summaryLog {
		path, err := utils.WriteSummaryLog(summary, outputDir)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Summary log:     %s\n", path)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}
	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// relativeTo shortens path for display when it lies under dir.
func relativeTo(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func relativeAll(dir string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = relativeTo(dir, p)
	}
	return out
}
