// =============================================================================
// SHP/CSV/KML Converter - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for the converter, including:
//   - Path derivation (extension swapping, ~ expansion)
//   - Shapefile discovery for batch runs
//   - Directory management
//   - The processing summary, as a text log and a JSON run report
//
// OUTPUT LAYOUT:
//   Batch outputs mirror the input tree: input/nd/wells.shp with targets
//   csv and kml becomes output/nd/wells.csv and output/nd/wells.kml.
//
// =============================================================================

package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
)

// =============================================================================
// PATH HELPERS
// =============================================================================

// ExpandHome replaces a leading "~" with the user's home directory.
// "~user" forms are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// SwapExt replaces the extension of path with ext. A path without an
// extension gets ext appended.
//
// EXAMPLE:
//
//	SwapExt("~/data/Wells.shp", ".csv") -> "~/data/Wells.csv"
func SwapExt(path, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager resolves batch inputs and outputs.
type FileManager struct {
	// InputDir is scanned for shapefiles.
	InputDir string

	// OutputDir receives the converted files.
	OutputDir string

	// Recursive scans subdirectories of InputDir.
	Recursive bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir string) *FileManager {
	return &FileManager{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Recursive: true,
	}
}

// EnsureDirectories creates the output directory if it does not exist. The
// input directory must already exist.
//
// RETURNS:
//   - An error if the input directory is missing or the output directory
//     cannot be created.
func (fm *FileManager) EnsureDirectories() error {
	info, err := os.Stat(fm.InputDir)
	if err != nil {
		return fmt.Errorf("input directory %s: %w", fm.InputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("input directory %s is not a directory", fm.InputDir)
	}

	if err := os.MkdirAll(fm.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", fm.OutputDir, err)
	}
	return nil
}

// DiscoverShapefiles lists the .shp files under InputDir, sorted by path.
// Matching is case-insensitive; hidden directories are skipped.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverShapefiles() ([]string, error) {
	var files []string

	err := filepath.WalkDir(fm.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == fm.InputDir {
				return nil
			}
			if !fm.Recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// OutputPaths returns one output path per target extension for an input
// under InputDir, keeping the input's relative directory.
//
// PARAMETERS:
//   - input: A path returned by DiscoverShapefiles.
//   - targets: Output extensions, e.g. ["csv", "kml"].
func (fm *FileManager) OutputPaths(input string, targets []string) []string {
	rel, err := filepath.Rel(fm.InputDir, input)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(input)
	}

	outputs := make([]string, len(targets))
	for i, target := range targets {
		outputs[i] = filepath.Join(fm.OutputDir, SwapExt(rel, strings.ToLower(target)))
	}
	return outputs
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a processing run.
type ProcessingSummary struct {
	RunID           string              `json:"run_id"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	TotalFiles      int                 `json:"total_files"`
	SuccessfulFiles int                 `json:"successful_files"`
	FailedFiles     int                 `json:"failed_files"`
	TotalRows       int                 `json:"total_rows"`
	SkippedRows     int                 `json:"skipped_rows"`
	ProcessedFiles  []ProcessedFileInfo `json:"processed_files"`
	FailedFilesList []FailedFileInfo    `json:"failed_files_list"`
}

// ProcessedFileInfo contains information about a successfully converted file.
type ProcessedFileInfo struct {
	InputFile   string           `json:"input_file"`
	OutputFiles []OutputFileInfo `json:"output_files"`
	Rows        int              `json:"rows"`
	Skipped     int              `json:"skipped"`
	ProcessTime time.Duration    `json:"process_time_ns"`
}

// OutputFileInfo describes one written file.
type OutputFileInfo struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// FailedFileInfo contains information about a failed file.
type FailedFileInfo struct {
	InputFile    string `json:"input_file"`
	ErrorMessage string `json:"error_message"`
}

// NewProcessingSummary starts a summary for a run.
func NewProcessingSummary(runID string) *ProcessingSummary {
	return &ProcessingSummary{
		RunID:           runID,
		StartTime:       time.Now(),
		ProcessedFiles:  []ProcessedFileInfo{},
		FailedFilesList: []FailedFileInfo{},
	}
}

// RecordSuccess adds a converted file. Output sizes are read from disk.
func (s *ProcessingSummary) RecordSuccess(input string, outputs []string, rows, skipped int, elapsed time.Duration) {
	info := ProcessedFileInfo{
		InputFile:   input,
		OutputFiles: make([]OutputFileInfo, len(outputs)),
		Rows:        rows,
		Skipped:     skipped,
		ProcessTime: elapsed,
	}
	for i, out := range outputs {
		info.OutputFiles[i] = OutputFileInfo{Path: out}
		if st, err := os.Stat(out); err == nil {
			info.OutputFiles[i].Size = st.Size()
		}
	}

	s.TotalFiles++
	s.SuccessfulFiles++
	s.TotalRows += rows
	s.SkippedRows += skipped
	s.ProcessedFiles = append(s.ProcessedFiles, info)
}

// RecordFailure adds a file that could not be converted.
func (s *ProcessingSummary) RecordFailure(input string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.TotalFiles++
	s.FailedFiles++
	s.FailedFilesList = append(s.FailedFilesList, FailedFileInfo{InputFile: input, ErrorMessage: msg})
}

// Finish stamps the end of the run.
func (s *ProcessingSummary) Finish() {
	s.EndTime = time.Now()
}

// Duration returns the run time, or the time so far for an unfinished run.
func (s *ProcessingSummary) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// WriteRunReport writes the summary as indented JSON.
func WriteRunReport(summary *ProcessingSummary, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// ReadRunReport loads a report written by WriteRunReport.
func ReadRunReport(path string) (*ProcessingSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}
	var summary ProcessingSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &summary, nil
}

// WriteSummaryLog writes a processing summary to a text file.
//
// PARAMETERS:
//   - summary: The processing summary.
//   - outputDir: The directory to write the summary file.
//
// RETURNS:
//   - The path to the summary file.
//   - An error if writing fails.
func WriteSummaryLog(summary *ProcessingSummary, outputDir string) (string, error) {
	timestamp := summary.StartTime.Format("20060102_150405")
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("processing_summary_%s.txt", timestamp))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}

	writer := bufio.NewWriter(file)
	rule := strings.Repeat("=", 80)

	fmt.Fprintf(writer, "SHP/CSV/KML Converter - Processing Summary\n%s\n\n", rule)
	fmt.Fprintf(writer, "Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Start Time:     %s\n"+
		"  Duration:       %s\n\n",
		summary.RunID,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.Duration().Round(time.Millisecond))
	fmt.Fprintf(writer, "Statistics:\n"+
		"  Total Files:    %d\n"+
		"  Successful:     %d\n"+
		"  Failed:         %d\n"+
		"  Total Rows:     %s\n"+
		"  Skipped Rows:   %s\n\n",
		summary.TotalFiles,
		summary.SuccessfulFiles,
		summary.FailedFiles,
		humanize.Comma(int64(summary.TotalRows)),
		humanize.Comma(int64(summary.SkippedRows)))

	if len(summary.ProcessedFiles) > 0 {
		writer.WriteString("Converted Files:\n")
		for _, f := range summary.ProcessedFiles {
			fmt.Fprintf(writer, "  %s (%s rows, %s)\n", f.InputFile, humanize.Comma(int64(f.Rows)), f.ProcessTime.Round(time.Millisecond))
			for _, out := range f.OutputFiles {
				fmt.Fprintf(writer, "    -> %s (%s)\n", out.Path, humanize.Bytes(uint64(out.Size)))
			}
		}
		writer.WriteString("\n")
	}

	if len(summary.FailedFilesList) > 0 {
		writer.WriteString("Failed Files:\n")
		for _, f := range summary.FailedFilesList {
			fmt.Fprintf(writer, "  %s\n    %s\n", f.InputFile, f.ErrorMessage)
		}
		writer.WriteString("\n")
	}

	fmt.Fprintf(writer, "%s\nEnd of Summary\n", rule)

	if err := errors.Join(writer.Flush(), file.Close()); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return summaryPath, nil
}
