package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	DefaultOSMBaseURL = "https://download.geofabrik.de/europe/france/"
	DefaultCityLevel  = 8
)

// OSM handles OpenStreetMap extracts published by Geofabrik.
type OSM struct {
	Fetcher   Fetcher
	Runner    Runner
	BaseURL   string
	CityLevel int
}

// ImportFlags selects which entities osm2mimir imports.
type ImportFlags struct {
	Admins bool
	Ways   bool
	POIs   bool
}

// ImportFlagsFor maps an index type to osm2mimir import flags.
func ImportFlagsFor(indexType string) (ImportFlags, error) {
	switch indexType {
	case "admins":
		return ImportFlags{Admins: true}, nil
	case "streets":
		return ImportFlags{Ways: true}, nil
	default:
		return ImportFlags{}, fmt.Errorf("could not index %s using OSM: %w", indexType, ErrUnsupportedIndexType)
	}
}

func (o *OSM) Name() string { return "osm" }

// Download fetches <region>-latest.osm.pbf into <workingDir>/osm.
func (o *OSM) Download(ctx context.Context, workingDir, region string) (string, error) {
	if region == "" {
		return "", fmt.Errorf("osm: region is required")
	}
	filename := region + "-latest.osm.pbf"
	base := o.BaseURL
	if base == "" {
		base = DefaultOSMBaseURL
	}
	path, _, err := o.Fetcher.Fetch(ctx, joinURL(base, filename), filepath.Join(workingDir, "osm"))
	if err != nil {
		return "", fmt.Errorf("osm: %w", err)
	}
	return path, nil
}

// Index runs osm2mimir with import flags derived from req.IndexType.
func (o *OSM) Index(ctx context.Context, req IndexRequest) error {
	flags, err := ImportFlagsFor(req.IndexType)
	if err != nil {
		return err
	}

	args := indexArgs(req)
	if flags.Ways {
		args = append(args, "--import-way")
	}
	if flags.Admins {
		args = append(args, "--import-admin")
	}
	if flags.POIs {
		args = append(args, "--import-poi")
	}
	level := o.CityLevel
	if level <= 0 {
		level = DefaultCityLevel
	}
	args = append(args, "--city-level", strconv.Itoa(level))

	if err := o.Runner.Run(ctx, executable(req.HandlersDir, "osm2mimir"), args...); err != nil {
		return fmt.Errorf("osm2mimir: %w", err)
	}
	return nil
}
