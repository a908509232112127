package dataset

import "errors"

// Loader and lifecycle errors. Callers distinguish them with errors.Is.
var (
	ErrEmptyDataset       = errors.New("dataset has no polygons")
	ErrNameField          = errors.New("name field not found")
	ErrUnknownCRS         = errors.New("unknown coordinate reference system")
	ErrUnsupportedSource  = errors.New("unsupported dataset source")
	ErrAmbiguousArchive   = errors.New("archive contains several shapefiles")
	ErrNotLoaded          = errors.New("dataset not loaded")
	ErrInvalidCoordinates = errors.New("dataset coordinates are not WGS84 after projection")
)
