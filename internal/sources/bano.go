package sources

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

const DefaultBanoBaseURL = "http://bano.openstreetmap.fr/data/"

// Bano handles the BANO point-address dataset, one CSV per French department.
type Bano struct {
	Fetcher Fetcher
	Runner  Runner
	BaseURL string
}

func (b *Bano) Name() string { return "bano" }

// Download fetches bano-<region>.csv into <workingDir>/bano.
func (b *Bano) Download(ctx context.Context, workingDir, region string) (string, error) {
	if region == "" {
		return "", fmt.Errorf("bano: region is required")
	}
	filename := BanoFilename(region)
	target := joinURL(b.baseURL(), filename)
	path, _, err := b.Fetcher.Fetch(ctx, target, filepath.Join(workingDir, "bano"))
	if err != nil {
		return "", fmt.Errorf("bano: %w", err)
	}
	return path, nil
}

// Index runs bano2mimir on the downloaded CSV.
func (b *Bano) Index(ctx context.Context, req IndexRequest) error {
	if err := b.Runner.Run(ctx, executable(req.HandlersDir, "bano2mimir"), indexArgs(req)...); err != nil {
		return fmt.Errorf("bano2mimir: %w", err)
	}
	return nil
}

func (b *Bano) baseURL() string {
	if b.BaseURL == "" {
		return DefaultBanoBaseURL
	}
	return b.BaseURL
}

// BanoFilename zero-pads single character department codes ("1" -> bano-01.csv).
func BanoFilename(region string) string {
	if len(region) == 1 {
		return fmt.Sprintf("bano-0%s.csv", region)
	}
	return fmt.Sprintf("bano-%s.csv", region)
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
