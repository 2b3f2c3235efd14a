// =============================================================================
// SHP/CSV/KML Converter - Main Entry Point
// =============================================================================
//
// USAGE:
//   shp2csv2kml SHP [CSV [KML]]  - Convert a shapefile to CSV and KML
//   shp2csv2kml convert IN OUT.. - Convert between formats chosen by extension
//   shp2csv2kml batch [DIR]      - Convert every shapefile in a directory
//   shp2csv2kml validate PATH..  - Check datasets before converting them
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Readers, writers, geometry and the conversion pipeline
//   - pkg/       : Path, discovery and reporting utilities
//
// =============================================================================

package main

import (
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/cmd"
)

func main() {
	cmd.Execute()
}
