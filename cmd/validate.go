// =============================================================================
// SHP/CSV/KML Converter - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which checks datasets before
// they are converted.
//
// COMMAND USAGE:
//   shp2csv2kml validate PATH... [flags]
//
// PATH may be a .shp, .csv, .tsv or .xlsx file, or a directory whose
// shapefiles are all checked.
//
// FLAGS:
//   --error-log : Write every finding to this file
//   --strict    : Treat warnings as errors
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/validation"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/pkg/utils"
)

// errorLog is the path of the findings log.
var errorLog string

// strict treats warnings as errors.
var strict bool

// validateCmd represents the 'validate' command.
var validateCmd = &cobra.Command{
	Use:   "validate PATH...",
	Short: "Check shapefiles and flattened tables before converting them",
	Long: `Validate checks datasets and reports every problem it finds.

Shapefiles: the .shx and .dbf sidecars must exist, every shape must be
readable and the attribute table must have one row per shape. A missing
.prj or .cpg, a projected coordinate system and null shapes are warnings.

Tables: every geometry cell must parse as KML, GML, WKT or GeoJSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&errorLog, "error-log", "", "Write every finding to this file")
	validateCmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
}

// runValidate checks every dataset named by args.
func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	paths, err := expandTargets(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintln(out, "No datasets found.")
		return nil
	}

	opts := validation.OptionsFromConfig(appConfig)
	opts.TreatWarningsAsErrors = strict
	validator := validation.NewValidator(opts, logger)

	var findings []*validation.ValidationError
	invalid := 0
	for _, path := range paths {
		result, err := validator.Validate(path)
		if err != nil {
			return err
		}
		findings = append(findings, result.Errors...)

		mark := "✓"
		if !result.IsValid {
			mark = "✗"
			invalid++
		}
		fmt.Fprintf(out, "  %s %s (%s records, %d error(s), %d warning(s))\n",
			mark, path, humanize.Comma(int64(result.RecordsChecked)), result.ErrorCount, result.WarningCount)
		for _, finding := range result.Errors {
			fmt.Fprintf(out, "      %s\n", finding.Error())
		}
	}

	if errorLog != "" {
		if err := validation.WriteErrorLog(findings, errorLog); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nFindings have been logged to %s\n", errorLog)
	}

	if invalid > 0 {
		return fmt.Errorf("validation failed for %d of %d dataset(s)", invalid, len(paths))
	}
	return nil
}

// expandTargets resolves ~ and replaces directories with the shapefiles
// they contain.
func expandTargets(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		path, err := utils.ExpandHome(arg)
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			paths = append(paths, path)
			continue
		}

		files, err := utils.NewFileManager(path, "").DiscoverShapefiles()
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return paths, nil
}
