package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"
)

const DefaultNTFSBaseURL = "https://navitia.opendatasoft.com"

// NTFS handles transit feeds in the NTFS format, discovered through an
// opendatasoft catalog where each region is a dataset.
type NTFS struct {
	Fetcher    Fetcher
	Runner     Runner
	BaseURL    string
	HTTPClient *http.Client
}

type ntfsDownload struct {
	Format   string `json:"format"`
	Filename string `json:"filename"`
	ID       string `json:"id"`
}

type ntfsFields struct {
	LicenseLink       string       `json:"license_link"`
	UpdateDate        string       `json:"update_date"`
	Description       string       `json:"description"`
	Licence           string       `json:"licence"`
	Format            string       `json:"format"`
	ValidityEndDate   string       `json:"validity_end_date"`
	ValidityStartDate string       `json:"validity_start_date"`
	Download          ntfsDownload `json:"download"`
	ID                string       `json:"id"`
	Size              int64        `json:"size"`
}

type ntfsDataset struct {
	DatasetID       string     `json:"datasetid"`
	RecordID        string     `json:"recordid"`
	Fields          ntfsFields `json:"fields"`
	RecordTimestamp string     `json:"record_timestamp"`
}

type ntfsSearch struct {
	Records []ntfsDataset `json:"records"`
}

func (n *NTFS) Name() string { return "ntfs" }

// Download resolves the most recently updated record of the region's dataset
// and fetches its file into <workingDir>/ntfs.
func (n *NTFS) Download(ctx context.Context, workingDir, region string) (string, error) {
	if region == "" {
		return "", fmt.Errorf("ntfs: region is required")
	}
	record, err := n.latestRecord(ctx, region)
	if err != nil {
		return "", fmt.Errorf("ntfs: %w", err)
	}

	target := fmt.Sprintf("%s/explore/dataset/%s/files/%s/download/",
		n.baseURL(), url.PathEscape(record.DatasetID), url.PathEscape(record.Fields.Download.ID))
	name := record.Fields.Download.Filename
	if name == "" {
		name = region + ".zip"
	}
	path, _, err := n.Fetcher.FetchAs(ctx, target, filepath.Join(workingDir, "ntfs"), name)
	if err != nil {
		return "", fmt.Errorf("ntfs: %w", err)
	}
	return path, nil
}

// Index runs ntfs2mimir on the downloaded feed.
func (n *NTFS) Index(ctx context.Context, req IndexRequest) error {
	if err := n.Runner.Run(ctx, executable(req.HandlersDir, "ntfs2mimir"), indexArgs(req)...); err != nil {
		return fmt.Errorf("ntfs2mimir: %w", err)
	}
	return nil
}

func (n *NTFS) latestRecord(ctx context.Context, region string) (*ntfsDataset, error) {
	q := url.Values{}
	q.Set("dataset", region)
	q.Set("sort", "-update_date")
	endpoint := n.baseURL() + "/api/records/1.0/search/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query catalog: status %d: %s", resp.StatusCode, string(body))
	}

	var search ntfsSearch
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	var latest *ntfsDataset
	for i := range search.Records {
		rec := &search.Records[i]
		if rec.Fields.Download.ID == "" {
			continue
		}
		if latest == nil || rec.Fields.UpdateDate > latest.Fields.UpdateDate {
			latest = rec
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no downloadable record for dataset %s", region)
	}
	return latest, nil
}

func (n *NTFS) baseURL() string {
	if n.BaseURL == "" {
		return DefaultNTFSBaseURL
	}
	return n.BaseURL
}
