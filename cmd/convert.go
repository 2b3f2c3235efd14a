// =============================================================================
// SHP/CSV/KML Converter - Conversion Commands
// =============================================================================
//
// This file defines the single-file conversion commands.
//
// COMMAND USAGE:
//   shp2csv2kml shp2csv    SHP [CSV]
//   shp2csv2kml csv2kml    CSV [KML]
//   shp2csv2kml shp2kml    SHP [KML]
//   shp2csv2kml shp2kmlcsv SHP [KML [CSV]]
//   shp2csv2kml csv2shp    CSV [SHP]
//   shp2csv2kml convert    INPUT OUTPUT...
//
// Omitted outputs are derived from the input by swapping the extension.
// SHP inputs may be zipped shapefiles; CSV inputs and outputs may be .tsv or
// .xlsx tables; KML outputs may be .kmz.
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/converter"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/pkg/utils"
)

// =============================================================================
// OPERATIONS
// =============================================================================

// family groups the formats a named operation accepts for one role.
type family struct {
	label   string
	ext     string
	formats []converter.Format
}

var (
	shpIn   = family{"SHP", ".shp", []converter.Format{converter.FormatShapefile, converter.FormatZip}}
	shpOut  = family{"SHP", ".shp", []converter.Format{converter.FormatShapefile}}
	tableIO = family{"CSV", ".csv", []converter.Format{converter.FormatCSV, converter.FormatTSV, converter.FormatXLSX}}
	kmlOut  = family{"KML", ".kml", []converter.Format{converter.FormatKML, converter.FormatKMZ}}
)

func (f family) check(path string) error {
	format, err := converter.DetectFormat(path)
	if err != nil {
		return err
	}
	for _, ok := range f.formats {
		if format == ok {
			return nil
		}
	}
	return fmt.Errorf("%s is not a %s file", path, f.label)
}

// operation is a named conversion with a fixed banner title.
type operation struct {
	name    string
	title   string
	input   family
	outputs []family
}

var (
	opSHP2CSV    = operation{"shp2csv", "SHP to CSV conversion...", shpIn, []family{tableIO}}
	opCSV2KML    = operation{"csv2kml", "CSV to KML conversion...", tableIO, []family{kmlOut}}
	opSHP2KML    = operation{"shp2kml", "SHP to KML conversion...", shpIn, []family{kmlOut}}
	opSHP2KMLCSV = operation{"shp2kmlcsv", "SHP to KML and CSV conversion...", shpIn, []family{kmlOut, tableIO}}
	opCSV2SHP    = operation{"csv2shp", "CSV to SHP conversion...", tableIO, []family{shpOut}}
)

// command builds the cobra command of a named operation.
func (op operation) command(short string) *cobra.Command {
	use := op.name + " " + op.input.label
	for _, out := range op.outputs {
		use += " [" + out.label
	}
	use += strings.Repeat("]", len(op.outputs))

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(1, 1+len(op.outputs)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, op, args[0], op.derive(args))
		},
	}
}

// derive fills in omitted outputs from the input path.
func (op operation) derive(args []string) []string {
	outputs := make([]string, len(op.outputs))
	for i, out := range op.outputs {
		if len(args) > i+1 {
			outputs[i] = args[i+1]
			continue
		}
		outputs[i] = utils.SwapExt(args[0], out.ext)
	}
	return outputs
}

// runOperation checks the paths against the operation and runs it.
func runOperation(cmd *cobra.Command, op operation, input string, outputs []string) error {
	if err := op.input.check(input); err != nil {
		return err
	}
	for i, out := range outputs {
		if err := op.outputs[i].check(out); err != nil {
			return err
		}
	}
	return runConversion(cmd, input, outputs, op.title)
}

// runConversion expands the paths and runs the converter. An empty title
// is derived from the formats.
func runConversion(cmd *cobra.Command, input string, outputs []string, title string) error {
	var err error
	if input, err = utils.ExpandHome(input); err != nil {
		return err
	}
	expanded := make([]string, len(outputs))
	for i, out := range outputs {
		if expanded[i], err = utils.ExpandHome(out); err != nil {
			return err
		}
	}

	opts := []converter.Option{
		converter.WithLogger(logger),
		converter.WithProgressWriter(cmd.OutOrStdout()),
	}
	if title != "" {
		opts = append(opts, converter.WithTitle(title))
	}

	result := converter.New(input, expanded, appConfig, opts...).Run(cmd.Context())

	if appConfig.ReportFile != "" {
		summary := utils.NewProcessingSummary(result.RunID)
		summary.StartTime = summary.StartTime.Add(-result.Stats.ProcessingTime)
		if result.Success {
			summary.RecordSuccess(input, result.Outputs, result.Stats.RowsWritten, result.Stats.Skipped, result.Stats.ProcessingTime)
		} else {
			summary.RecordFailure(input, result.Error)
		}
		summary.Finish()
		if err := utils.WriteRunReport(summary, appConfig.ReportFile); err != nil {
			logger.Warn("Failed to write run report", zap.String("report", appConfig.ReportFile), zap.Error(err))
		}
	}

	if result.Error != nil {
		return fmt.Errorf("%s: %w", filepath.Base(input), result.Error)
	}
	return nil
}

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// convertCmd picks the reader and writers from file extensions.
var convertCmd = &cobra.Command{
	Use:   "convert INPUT OUTPUT...",
	Short: "Convert a dataset to one or more formats chosen by extension",
	Long: `Convert reads INPUT and writes every OUTPUT in a single pass.

Inputs:  .shp, .zip (zipped shapefile), .csv, .tsv, .xlsx
Outputs: .csv, .tsv, .xlsx, .kml, .kmz, .shp`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConversion(cmd, args[0], args[1:], "")
	},
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.AddCommand(
		opSHP2CSV.command("Convert a shapefile to a flattened CSV"),
		opCSV2KML.command("Convert a flattened CSV to KML"),
		opSHP2KML.command("Convert a shapefile to KML"),
		opSHP2KMLCSV.command("Convert a shapefile to KML and a flattened CSV in one pass"),
		opCSV2SHP.command("Convert a flattened CSV to a shapefile"),
		convertCmd,
	)
}
