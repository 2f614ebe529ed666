//go:build integration

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ties/mrt-downloader/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Log("Starting archive server...")
	archive, cacheFile := setup(t)

	t.Log("Starting Minio container...")
	minio := testutils.StartMinio(t, ctx, "cli-test-bucket")

	args := append(windowArgs(cacheFile), "-bucket", minio.BucketURL, "-prefix", "mrt")

	t.Run("download", func(t *testing.T) {
		if code := runDownload(args); code != ExitSuccess {
			t.Fatalf("download failed with exit code %d", code)
		}
	})

	t.Run("verify", func(t *testing.T) {
		bucket, err := minio.OpenBucket(ctx)
		if err != nil {
			t.Fatalf("open bucket: %v", err)
		}
		defer bucket.Close()

		for i, p := range testFiles[:3] {
			key := "mrt" + p
			r, err := bucket.NewReader(ctx, key, nil)
			if err != nil {
				t.Fatalf("open %s: %v", key, err)
			}
			testutils.CompareReaderToData(t, r, testutils.GenerateTestData(1024*(i+1)))
			r.Close()
		}

		if ok, _ := bucket.Exists(ctx, "mrt"+testFiles[3]); ok {
			t.Error("file outside the window was uploaded")
		}
	})

	t.Run("rerun_skips", func(t *testing.T) {
		if code := runDownload(args); code != ExitSuccess {
			t.Fatalf("second download failed with exit code %d", code)
		}
		if n := archive.RequestsFor("GET", testFiles[0]); n != 1 {
			t.Errorf("expected 1 GET for %s, got %d", testFiles[0], n)
		}
	})

	t.Run("list_matches_bucket", func(t *testing.T) {
		var out bytes.Buffer
		if code := run(append([]string{"list"}, windowArgs(cacheFile)...), &out); code != ExitSuccess {
			t.Fatalf("list failed with exit code %d", code)
		}
		if got := bytes.Count(out.Bytes(), []byte("\n")); got != 3 {
			t.Errorf("expected 3 listed files, got %d", got)
		}
	})
}
