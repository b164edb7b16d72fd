package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

type runCall struct {
	path string
	args []string
}

type fakeRunner struct {
	calls []runCall
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, path string, args ...string) error {
	f.calls = append(f.calls, runCall{path: path, args: append([]string(nil), args...)})
	return f.err
}

type fetchCall struct {
	url  string
	dir  string
	name string
}

type fakeFetcher struct {
	calls []fetchCall
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL, dir string) (string, int64, error) {
	return f.FetchAs(ctx, rawURL, dir, filepath.Base(rawURL))
}

func (f *fakeFetcher) FetchAs(ctx context.Context, rawURL, dir, name string) (string, int64, error) {
	f.calls = append(f.calls, fetchCall{url: rawURL, dir: dir, name: name})
	if f.err != nil {
		return "", 0, f.err
	}
	return filepath.Join(dir, name), 42, nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(&Bano{}, &Bano{})
	if err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if !strings.Contains(err.Error(), `"bano" already registered`) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryLookupAndNames(t *testing.T) {
	reg, err := Default(Options{Fetcher: &fakeFetcher{}, Runner: &fakeRunner{}})
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}

	want := []string{"bano", "cosmogony", "ntfs", "osm"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	if _, ok := reg.Lookup("geojson"); ok {
		t.Fatal("expected lookup miss for geojson")
	}
	h, ok := reg.Lookup("cosmogony")
	if !ok {
		t.Fatal("cosmogony not registered")
	}
	if _, ok := h.(Transformer); !ok {
		t.Fatal("cosmogony must implement Transformer")
	}
	for _, name := range []string{"bano", "osm", "ntfs"} {
		h, _ := reg.Lookup(name)
		if _, ok := h.(Transformer); ok {
			t.Fatalf("%s must not implement Transformer", name)
		}
	}
}

func TestDefaultRequiresFetcher(t *testing.T) {
	if _, err := Default(Options{}); err == nil {
		t.Fatal("expected error without fetcher")
	}
}

func TestBanoFilename(t *testing.T) {
	cases := map[string]string{
		"1":  "bano-01.csv",
		"75": "bano-75.csv",
		"2A": "bano-2A.csv",
	}
	for region, want := range cases {
		if got := BanoFilename(region); got != want {
			t.Fatalf("BanoFilename(%q) = %q, want %q", region, got, want)
		}
	}
}

func TestBanoDownloadAndIndex(t *testing.T) {
	fetcher := &fakeFetcher{}
	runner := &fakeRunner{}
	b := &Bano{Fetcher: fetcher, Runner: runner, BaseURL: "http://example.test/data/"}

	path, err := b.Download(context.Background(), "work", "75")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if path != filepath.Join("work", "bano", "bano-75.csv") {
		t.Fatalf("unexpected path: %s", path)
	}
	if got := fetcher.calls[0].url; got != "http://example.test/data/bano-75.csv" {
		t.Fatalf("unexpected url: %s", got)
	}

	err = b.Index(context.Background(), IndexRequest{HandlersDir: "bin", Endpoint: "http://es:9200", Path: path, IndexType: "addresses"})
	if err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	want := runCall{
		path: filepath.Join("bin", "bano2mimir"),
		args: []string{"--connection-string", "http://es:9200", "--input", path},
	}
	if !reflect.DeepEqual(runner.calls[0], want) {
		t.Fatalf("unexpected invocation: %+v", runner.calls[0])
	}
}

func TestBanoDownloadPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	b := &Bano{Fetcher: &fakeFetcher{err: boom}, Runner: &fakeRunner{}}
	if _, err := b.Download(context.Background(), "work", "75"); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestImportFlagsFor(t *testing.T) {
	flags, err := ImportFlagsFor("admins")
	if err != nil || flags != (ImportFlags{Admins: true}) {
		t.Fatalf("admins: %+v, %v", flags, err)
	}
	flags, err = ImportFlagsFor("streets")
	if err != nil || flags != (ImportFlags{Ways: true}) {
		t.Fatalf("streets: %+v, %v", flags, err)
	}
	_, err = ImportFlagsFor("addresses")
	if !errors.Is(err, ErrUnsupportedIndexType) {
		t.Fatalf("expected ErrUnsupportedIndexType, got %v", err)
	}
	if err.Error() != "could not index addresses using OSM: unsupported index type" {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestOSMIndexArguments(t *testing.T) {
	runner := &fakeRunner{}
	o := &OSM{Runner: runner, CityLevel: 9}

	req := IndexRequest{HandlersDir: "bin", Endpoint: "es", Path: "fr.pbf", IndexType: "streets"}
	if err := o.Index(context.Background(), req); err != nil {
		t.Fatalf("Index returned error: %v", err)
	}
	want := []string{"--connection-string", "es", "--input", "fr.pbf", "--import-way", "--city-level", "9"}
	if !reflect.DeepEqual(runner.calls[0].args, want) {
		t.Fatalf("unexpected args: %v", runner.calls[0].args)
	}

	req.IndexType = "pois"
	if err := o.Index(context.Background(), req); !errors.Is(err, ErrUnsupportedIndexType) {
		t.Fatalf("expected unsupported index type, got %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("osm2mimir must not run for unsupported index type, calls=%d", len(runner.calls))
	}
}

func TestOSMDownload(t *testing.T) {
	fetcher := &fakeFetcher{}
	o := &OSM{Fetcher: fetcher}
	path, err := o.Download(context.Background(), "work", "ile-de-france")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if path != filepath.Join("work", "osm", "ile-de-france-latest.osm.pbf") {
		t.Fatalf("unexpected path: %s", path)
	}
	if got := fetcher.calls[0].url; got != DefaultOSMBaseURL+"ile-de-france-latest.osm.pbf" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestCosmogonyTransform(t *testing.T) {
	runner := &fakeRunner{}
	work := t.TempDir()
	c := &Cosmogony{OSM: &OSM{Fetcher: &fakeFetcher{}}, Runner: runner, BinDir: "bin"}

	out, err := c.Transform(context.Background(), "in.pbf", work, "monaco")
	if err != nil {
		t.Fatalf("Transform returned error: %v", err)
	}
	if out != filepath.Join(work, "cosmogony", "monaco.json.gz") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(work, "cosmogony")); err != nil {
		t.Fatalf("output directory not created: %v", err)
	}
	want := runCall{
		path: filepath.Join("bin", "cosmogony"),
		args: []string{"--country-code", "FR", "--input", "in.pbf", "--output", out},
	}
	if !reflect.DeepEqual(runner.calls[0], want) {
		t.Fatalf("unexpected invocation: %+v", runner.calls[0])
	}
}

func TestCosmogonyTransformSurfacesCommandError(t *testing.T) {
	cmdErr := &CommandError{Path: "cosmogony", ExitCode: 2, Stderr: "bad input\n"}
	c := &Cosmogony{Runner: &fakeRunner{err: cmdErr}}

	_, err := c.Transform(context.Background(), "in.pbf", t.TempDir(), "monaco")
	var got *CommandError
	if !errors.As(err, &got) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad input") {
		t.Fatalf("stderr not surfaced: %v", err)
	}
}

func TestNTFSDownloadPicksLatestRecord(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("dataset")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"records":[
			{"datasetid":"fr-idf","recordid":"a","fields":{"update_date":"2024-01-01","download":{"filename":"old.zip","id":"f1"}}},
			{"datasetid":"fr-idf","recordid":"b","fields":{"update_date":"2024-06-01","download":{"filename":"new.zip","id":"f2"}}},
			{"datasetid":"fr-idf","recordid":"c","fields":{"update_date":"2025-01-01"}}
		]}`)
	}))
	defer srv.Close()

	fetcher := &fakeFetcher{}
	n := &NTFS{Fetcher: fetcher, BaseURL: srv.URL, HTTPClient: srv.Client()}

	path, err := n.Download(context.Background(), "work", "fr-idf")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if query != "fr-idf" {
		t.Fatalf("catalog queried with dataset=%q", query)
	}
	if path != filepath.Join("work", "ntfs", "new.zip") {
		t.Fatalf("unexpected path: %s", path)
	}
	if got := fetcher.calls[0].url; got != srv.URL+"/explore/dataset/fr-idf/files/f2/download/" {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestNTFSDownloadWithoutRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"records":[]}`)
	}))
	defer srv.Close()

	n := &NTFS{Fetcher: &fakeFetcher{}, BaseURL: srv.URL, HTTPClient: srv.Client()}
	if _, err := n.Download(context.Background(), "work", "nowhere"); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestNTFSDownloadCatalogStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := &NTFS{Fetcher: &fakeFetcher{}, BaseURL: srv.URL, HTTPClient: srv.Client()}
	_, err := n.Download(context.Background(), "work", "fr-idf")
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestExecRunnerCapturesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	script := filepath.Join(t.TempDir(), "fail.sh")
	body := "#!/bin/sh\necho \"index not reachable\" >&2\nexit 3\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	err := ExecRunner{}.Run(context.Background(), script)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "index not reachable\n" {
		t.Fatalf("stderr = %q", cmdErr.Stderr)
	}
}

func TestExecRunnerMissingExecutable(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
