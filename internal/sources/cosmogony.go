package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const DefaultCountryCode = "FR"

// Cosmogony builds the administrative hierarchy from an OSM extract and
// indexes the result. It is the only source with a transform step.
type Cosmogony struct {
	OSM         *OSM
	Runner      Runner
	BinDir      string
	CountryCode string
}

func (c *Cosmogony) Name() string { return "cosmogony" }

// Download fetches the OSM extract the boundaries are generated from.
func (c *Cosmogony) Download(ctx context.Context, workingDir, region string) (string, error) {
	path, err := c.OSM.Download(ctx, workingDir, region)
	if err != nil {
		return "", fmt.Errorf("cosmogony: %w", err)
	}
	return path, nil
}

// Transform writes <workingDir>/cosmogony/<region>.json.gz.
func (c *Cosmogony) Transform(ctx context.Context, inputPath, workingDir, region string) (string, error) {
	outDir := filepath.Join(workingDir, "cosmogony")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("cosmogony: create output directory %s: %w", outDir, err)
	}
	output := filepath.Join(outDir, region+".json.gz")

	cc := c.CountryCode
	if cc == "" {
		cc = DefaultCountryCode
	}
	args := []string{
		"--country-code", cc,
		"--input", inputPath,
		"--output", output,
	}
	if err := c.Runner.Run(ctx, executable(c.BinDir, "cosmogony"), args...); err != nil {
		return "", fmt.Errorf("cosmogony: %w", err)
	}
	return output, nil
}

// Index runs cosmogony2mimir on the generated boundaries.
func (c *Cosmogony) Index(ctx context.Context, req IndexRequest) error {
	if err := c.Runner.Run(ctx, executable(req.HandlersDir, "cosmogony2mimir"), indexArgs(req)...); err != nil {
		return fmt.Errorf("cosmogony2mimir: %w", err)
	}
	return nil
}
