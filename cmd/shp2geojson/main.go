package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"bairrosgo/pkg/dataset"
	"bairrosgo/pkg/geo"
)

func main() {
	inputPath := flag.String("input", "", "Path to input .shp file (or .zip archive)")
	outputPath := flag.String("output", "", "Path to output .geojson file")
	nameField := flag.String("name-field", "NOME", "DBF column holding the neighborhood name")
	sourceCRS := flag.String("source-crs", "", "EPSG code of the input, e.g. EPSG:31982 (default: read the .prj)")
	encoding := flag.String("encoding", dataset.DefaultEncoding, "DBF code page when no .cpg is present")
	layer := flag.String("layer", "", "Shapefile name inside a .zip archive")
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		flag.Usage()
		log.Fatal("Input and output paths are required")
	}

	opts := dataset.ShapefileOptions{NameField: *nameField, SourceCRS: *sourceCRS, Encoding: *encoding}
	if err := run(*inputPath, *outputPath, *layer, opts); err != nil {
		log.Fatal(err)
	}
}

func run(inputPath, outputPath, layer string, opts dataset.ShapefileOptions) error {
	var (
		records []geo.Record
		err     error
	)
	if strings.EqualFold(filepath.Ext(inputPath), ".zip") {
		records, err = dataset.ReadZipFile(inputPath, layer, opts)
	} else {
		records, err = dataset.ReadShapefile(inputPath, opts)
	}
	if err != nil {
		return err
	}

	data, err := dataset.WriteGeoJSON(records, opts.NameField)
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Successfully converted %d neighborhoods to %s\n", len(records), outputPath)
	return nil
}
