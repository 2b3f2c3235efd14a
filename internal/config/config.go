// =============================================================================
// SHP/CSV/KML Converter - Configuration Module
// =============================================================================
//
// This module loads the application configuration. Values are resolved in the
// following order (highest priority first):
//   1. Command-line flags bound to configuration keys
//   2. Environment variables (SHP2CSV2KML_<SECTION>_<KEY>)
//   3. The YAML configuration file (--config, or ./config.yaml if present)
//   4. Built-in defaults
//
// EXAMPLE config.yaml:
//   max_records: 0
//   progress_interval: 1000
//   csv:
//     delimiter: ","
//     geometry_column: kmlgeometry
//     geometry_format: kml
//   shapefile:
//     encoding: ""
//     field_width: 254
//   kml:
//     name_field: Name
//     description_field: Description
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/geometry"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "SHP2CSV2KML"

// DefaultConfigFile is looked up in the working directory when no --config
// flag is given. A missing default file is not an error.
const DefaultConfigFile = "config.yaml"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the application configuration.
type Config struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for shapefiles by the batch command.
	// Default: "./input"
	InputDir string `mapstructure:"input_dir" yaml:"input_dir"`

	// OutputDir receives the files written by the batch command.
	// Default: "./output"
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxRecords caps the number of features converted per run.
	// 0 converts every feature.
	MaxRecords int `mapstructure:"max_records" yaml:"max_records"`

	// ProgressInterval is the number of rows between progress lines.
	// Default: 1000
	ProgressInterval int `mapstructure:"progress_interval" yaml:"progress_interval"`

	// MaxConcurrency is the number of files the batch command converts at
	// the same time. Default: 4
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	// ContinueOnError skips features whose geometry cannot be read or
	// written instead of failing the run. Default: false
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error"`

	// ReportFile, when set, receives a JSON report of the run.
	ReportFile string `mapstructure:"report_file" yaml:"report_file"`

	// Targets lists the output formats produced by the batch command.
	// Valid values: csv, tsv, kml, kmz, xlsx
	// Default: [csv, kml]
	Targets []string `mapstructure:"targets" yaml:"targets"`

	// =========================================================================
	// SECTIONS
	// =========================================================================

	Log             LogSettings          `mapstructure:"log" yaml:"log"`
	CSV             CSVSettings          `mapstructure:"csv" yaml:"csv"`
	Shapefile       ShapefileSettings    `mapstructure:"shapefile" yaml:"shapefile"`
	KML             KMLSettings          `mapstructure:"kml" yaml:"kml"`
	Transformations []TransformationRule `mapstructure:"transformations" yaml:"transformations,omitempty"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	// Level is one of debug, info, warn, error. Default: "info"
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "console" or "json". Default: "console"
	Format string `mapstructure:"format" yaml:"format"`

	// Development enables colored levels and stack traces on errors.
	Development bool `mapstructure:"development" yaml:"development"`
}

// CSVSettings contains settings for reading and writing flattened tables.
type CSVSettings struct {
	// Delimiter separates fields. Aliases: "tab", "\t", "pipe", "semicolon".
	// Default: ","
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter"`

	// GeometryColumn is the header of the geometry column written to CSV and
	// XLSX tables. When reading, a column with this name carries the
	// geometry; otherwise the last column does.
	// Default: "kmlgeometry"
	GeometryColumn string `mapstructure:"geometry_column" yaml:"geometry_column"`

	// GeometryFormat is the encoding of written geometry cells.
	// Valid values: kml, wkt, geojson. Default: "kml"
	GeometryFormat string `mapstructure:"geometry_format" yaml:"geometry_format"`
}

// ShapefileSettings contains settings for reading and writing shapefiles.
type ShapefileSettings struct {
	// Encoding overrides the DBF code page. When empty the .cpg sidecar is
	// used, and without one the bytes are taken as UTF-8 when valid and as
	// Windows-1252 otherwise. Written shapefiles use UTF-8 by default.
	// Examples: "UTF-8", "1252", "GBK", "ISO-8859-1"
	Encoding string `mapstructure:"encoding" yaml:"encoding"`

	// FieldWidth is the width of the character fields created in written
	// DBF tables. Longer values are truncated. Default: 254
	FieldWidth int `mapstructure:"field_width" yaml:"field_width"`
}

// KMLSettings contains settings for written KML documents.
type KMLSettings struct {
	// NameField is the attribute copied into each Placemark's <name>.
	// Default: "Name"
	NameField string `mapstructure:"name_field" yaml:"name_field"`

	// DescriptionField is the attribute copied into <description>.
	// Default: "Description"
	DescriptionField string `mapstructure:"description_field" yaml:"description_field"`

	// Indent pretty-prints the document. Default: true
	Indent bool `mapstructure:"indent" yaml:"indent"`
}

// =============================================================================
// TRANSFORMATION RULE STRUCTURE
// =============================================================================

// TransformationRule applies a chain of actions to one attribute field.
type TransformationRule struct {
	// Field is the attribute name, matched case-insensitively.
	Field string `mapstructure:"field" yaml:"field"`

	// Actions are applied in order.
	Actions []TransformationAction `mapstructure:"actions" yaml:"actions"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is one of:
	//   - "trim"                : Remove leading and trailing whitespace
	//   - "uppercase"           : Convert to uppercase
	//   - "lowercase"           : Convert to lowercase
	//   - "prepend_string"      : Add Value to the beginning
	//   - "append_string"       : Add Value to the end
	//   - "pad_zeros_to_length" : Left-pad with zeros to length Value
	//   - "truncate"            : Cut to at most Value characters
	//   - "replace"             : Replace Find with Value
	//   - "regex_replace"       : Replace matches of the Find pattern with Value
	//   - "lookup"              : Replace using LookupTable
	//   - "default"             : Use Value when the field is empty
	Type string `mapstructure:"type" yaml:"type"`

	Value       string            `mapstructure:"value" yaml:"value,omitempty"`
	Find        string            `mapstructure:"find" yaml:"find,omitempty"`
	LookupTable map[string]string `mapstructure:"lookup_table" yaml:"lookup_table,omitempty"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InputDir:         "./input",
		OutputDir:        "./output",
		MaxRecords:       0,
		ProgressInterval: 1000,
		MaxConcurrency:   4,
		Targets:          []string{"csv", "kml"},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		CSV: CSVSettings{
			Delimiter:      ",",
			GeometryColumn: "kmlgeometry",
			GeometryFormat: string(geometry.FormatKML),
		},
		Shapefile: ShapefileSettings{
			FieldWidth: 254,
		},
		KML: KMLSettings{
			NameField:        "Name",
			DescriptionField: "Description",
			Indent:           true,
		},
	}
}

// setDefaults registers every default with viper so that environment
// variables are also honoured for keys missing from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("input_dir", d.InputDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("max_records", d.MaxRecords)
	v.SetDefault("progress_interval", d.ProgressInterval)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("continue_on_error", d.ContinueOnError)
	v.SetDefault("report_file", d.ReportFile)
	v.SetDefault("targets", d.Targets)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("csv.delimiter", d.CSV.Delimiter)
	v.SetDefault("csv.geometry_column", d.CSV.GeometryColumn)
	v.SetDefault("csv.geometry_format", d.CSV.GeometryFormat)
	v.SetDefault("shapefile.encoding", d.Shapefile.Encoding)
	v.SetDefault("shapefile.field_width", d.Shapefile.FieldWidth)
	v.SetDefault("kml.name_field", d.KML.NameField)
	v.SetDefault("kml.description_field", d.KML.DescriptionField)
	v.SetDefault("kml.indent", d.KML.Indent)
}

// FlagBindings maps configuration keys to the command-line flags that
// override them. Flags missing from a command's flag set are ignored.
var FlagBindings = map[string]string{
	"input_dir":             "input-dir",
	"output_dir":            "output-dir",
	"max_records":           "max-records",
	"progress_interval":     "progress-interval",
	"max_concurrency":       "concurrency",
	"continue_on_error":     "continue-on-error",
	"report_file":           "report",
	"targets":               "targets",
	"log.level":             "log-level",
	"log.format":            "log-format",
	"csv.delimiter":         "delimiter",
	"csv.geometry_column":   "geometry-column",
	"csv.geometry_format":   "geometry-format",
	"shapefile.encoding":    "encoding",
	"shapefile.field_width": "field-width",
	"kml.name_field":        "name-field",
	"kml.description_field": "description-field",
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Load resolves the configuration from defaults, the YAML file, the
// environment and the given flags.
//
// PARAMETERS:
//   - configPath: The configuration file. Empty means ./config.yaml when it
//     exists.
//   - flags: The flag set of the running command. May be nil.
//
// RETURNS:
//   - The validated configuration.
//   - An error if the file cannot be read or the configuration is invalid.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagBindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	default:
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			v.SetConfigFile(DefaultConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults fills values that an explicit empty setting would otherwise
// leave unusable.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = d.ProgressInterval
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = d.MaxConcurrency
	}
	if cfg.CSV.Delimiter == "" {
		cfg.CSV.Delimiter = d.CSV.Delimiter
	}
	if cfg.CSV.GeometryColumn == "" {
		cfg.CSV.GeometryColumn = d.CSV.GeometryColumn
	}
	if cfg.CSV.GeometryFormat == "" {
		cfg.CSV.GeometryFormat = d.CSV.GeometryFormat
	}
	if cfg.Shapefile.FieldWidth == 0 {
		cfg.Shapefile.FieldWidth = d.Shapefile.FieldWidth
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = d.Targets
	}
}

// Validate checks the configuration for values no command can work with.
func (c *Config) Validate() error {
	if c.MaxRecords < 0 {
		return fmt.Errorf("%w: max_records must not be negative, got %d", ErrInvalidConfig, c.MaxRecords)
	}
	if c.ProgressInterval < 1 {
		return fmt.Errorf("%w: progress_interval must be positive, got %d", ErrInvalidConfig, c.ProgressInterval)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be positive, got %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format must be console or json, got %q", ErrInvalidConfig, c.Log.Format)
	}
	if _, err := c.CSV.DelimiterRune(); err != nil {
		return fmt.Errorf("%w: csv.delimiter: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(c.CSV.GeometryColumn) == "" {
		return fmt.Errorf("%w: csv.geometry_column must not be empty", ErrInvalidConfig)
	}
	if _, err := geometry.ParseFormat(c.CSV.GeometryFormat); err != nil {
		return fmt.Errorf("%w: csv.geometry_format: %v", ErrInvalidConfig, err)
	}
	if c.Shapefile.FieldWidth < 1 || c.Shapefile.FieldWidth > 254 {
		return fmt.Errorf("%w: shapefile.field_width must be between 1 and 254, got %d", ErrInvalidConfig, c.Shapefile.FieldWidth)
	}
	for _, target := range c.Targets {
		switch strings.ToLower(target) {
		case "csv", "tsv", "kml", "kmz", "xlsx":
		default:
			return fmt.Errorf("%w: unknown target %q (want csv, tsv, kml, kmz or xlsx)", ErrInvalidConfig, target)
		}
	}
	for i, rule := range c.Transformations {
		if strings.TrimSpace(rule.Field) == "" {
			return fmt.Errorf("%w: transformations[%d] has no field", ErrInvalidConfig, i)
		}
	}
	return nil
}

// DelimiterRune resolves the configured delimiter, including its aliases.
func (s CSVSettings) DelimiterRune() (rune, error) {
	switch s.Delimiter {
	case "", ",", "comma":
		return ',', nil
	case "\\t", "\t", "tab", "TAB":
		return '\t', nil
	case "|", "pipe", "PIPE":
		return '|', nil
	case ";", "semicolon":
		return ';', nil
	}
	r, size := utf8.DecodeRuneInString(s.Delimiter)
	if size != len(s.Delimiter) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s.Delimiter)
	}
	return r, nil
}

// =============================================================================
// RENDERING
// =============================================================================

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return data, nil
}

// WriteFile writes the configuration as YAML to path. An existing file is
// only replaced when overwrite is set.
func (c *Config) WriteFile(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
