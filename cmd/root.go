// =============================================================================
// SHP/CSV/KML Converter - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Called with
// positional arguments it converts a shapefile to KML and CSV in one pass;
// the subcommands cover the other directions, batch runs and validation.
//
// COBRA CLI STRUCTURE:
//   rootCmd (shp2csv2kml SHP [CSV [KML]])
//   ├── shp2csv, csv2kml, shp2kml, shp2kmlcsv, csv2shp
//   ├── convert INPUT OUTPUT...
//   ├── batch [DIR]
//   ├── validate PATH...
//   ├── config show | init
//   └── version
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose and the config overrides)
//   2. Loading the configuration through viper
//   3. Setting up the zap logger
//   4. Cancelling the command context on SIGINT/SIGTERM
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/logging"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/pkg/utils"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file. Empty means
// ./config.yaml when it exists.
var cfgFile string

// verbose enables debug logging when set to true.
var verbose bool

// errShapefileRequired is returned when the root command gets no SHP path.
var errShapefileRequired = errors.New("ShapeFile path is required!")

// appConfig and logger are set by initApp before any command runs.
var (
	appConfig *config.Config
	logger    = zap.NewNop()
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shp2csv2kml [SHP [CSV [KML]]]",
	Short: "Convert between ESRI Shapefiles, flattened CSV tables and KML",
	Long: `shp2csv2kml converts geospatial vector data between ESRI Shapefiles,
flattened CSV tables and KML documents.

A flattened CSV holds the attribute columns of every feature plus a trailing
"kmlgeometry" column carrying the geometry as a KML fragment, for example
<Point><coordinates>-103.5,48.1</coordinates></Point>.

Called with a shapefile, the root command writes the KML and the CSV in one
pass. CSV defaults to SHP with .shp swapped for .csv, and KML defaults to CSV
with .csv swapped for .kml.

Example Usage:
  shp2csv2kml ~/data/Wells.shp                 # writes Wells.csv and Wells.kml
  shp2csv2kml Wells.shp out.csv out.kml        # explicit outputs
  shp2csv2kml csv2kml Wells.csv                # one direction only
  shp2csv2kml convert Wells.zip Wells.kmz      # pick formats by extension
  shp2csv2kml batch ./input --targets csv,kmz  # convert a directory`,

	Args: cobra.MaximumNArgs(3),

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd)
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errShapefileRequired
		}
		return runDefault(cmd, args)
	},

	SilenceUsage:  true,
	SilenceErrors: true,
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main(). SIGINT and
// SIGTERM cancel the command context; conversions stop between rows and
// close their outputs.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initApp loads the configuration and builds the logger.
func initApp(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	l, err := logging.New(logging.FromSettings(cfg.Log, verbose))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	appConfig = cfg
	logger = l
	return nil
}

// =============================================================================
// DEFAULT CONVERSION
// =============================================================================

// defaultPaths fills in the CSV and KML paths the way the root command
// documents it and reports which ones were derived.
func defaultPaths(args []string) (shpFile, csvFile, kmlFile string, derived []string) {
	shpFile = args[0]

	if len(args) > 1 {
		csvFile = args[1]
	} else {
		csvFile = utils.SwapExt(shpFile, ".csv")
		derived = append(derived, fmt.Sprintf("csvFile = %s", csvFile))
	}

	if len(args) > 2 {
		kmlFile = args[2]
	} else {
		kmlFile = utils.SwapExt(csvFile, ".kml")
		derived = append(derived, fmt.Sprintf("kmlFile = %s", kmlFile))
	}
	return shpFile, csvFile, kmlFile, derived
}

// runDefault converts SHP to KML and CSV.
func runDefault(cmd *cobra.Command, args []string) error {
	shpFile, csvFile, kmlFile, derived := defaultPaths(args)
	for _, line := range derived {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return runOperation(cmd, opSHP2KMLCSV, shpFile, []string{kmlFile, csvFile})
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// ==========================================================================
	// PERSISTENT FLAGS
	// ==========================================================================
	// These override the matching configuration keys on every command. A
	// flag only wins when it is given explicitly.

	pf := rootCmd.PersistentFlags()

	pf.StringVar(&cfgFile, "config", "", "Path to the configuration file (default ./config.yaml when present)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	pf.Int("max-records", 0, "Stop after this many rows (0 converts everything)")
	pf.Int("progress-interval", 1000, "Rows between progress lines")
	pf.Bool("continue-on-error", false, "Skip features with invalid geometry instead of failing")
	pf.String("report", "", "Write a JSON run report to this file")

	pf.String("delimiter", ",", "CSV delimiter (character, or tab, pipe, semicolon)")
	pf.String("geometry-column", "kmlgeometry", "Name of the geometry column in CSV and XLSX tables")
	pf.String("geometry-format", "kml", "Encoding of written geometry cells: kml, wkt or geojson")

	pf.String("encoding", "", "DBF code page, overriding the .cpg sidecar (e.g. UTF-8, 1252)")
	pf.Int("field-width", 254, "Width of character fields in written shapefiles")

	pf.String("name-field", "Name", "Attribute used as the Placemark name")
	pf.String("description-field", "Description", "Attribute used as the Placemark description")

	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
}
