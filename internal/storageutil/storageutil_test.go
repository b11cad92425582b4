package storageutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

var fileBlobBucket *blob.Bucket

type Result struct {
	ID      string   `json:"id"`
	TotalNS uint64   `json:"total_ns"`
	Labels  []string `json:"labels"`
}

func TestMain(m *testing.M) {
	temporaryDirectory, err := os.MkdirTemp(os.TempDir(), "lprofile-results-*")
	if err != nil {
		log.Fatalf("couldn't create a temporary directory: %s", err.Error())
	}

	fileBlobBucket, err = blob.OpenBucket(context.Background(), "file://localhost/"+temporaryDirectory)
	if err != nil {
		log.Fatalf("couldn't open a local filesystem bucket: %s", err.Error())
	}

	code := m.Run()

	if err := fileBlobBucket.Close(); err != nil {
		log.Printf("couldn't close the local filesystem bucket: %s", err.Error())
	}
	if err := os.RemoveAll(temporaryDirectory); err != nil {
		log.Printf("couldn't remove the temporary directory: %s", err.Error())
	}

	os.Exit(code)
}

func buckets(t *testing.T) map[string]*blob.Bucket {
	mem, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("couldn't open a memory bucket: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]*blob.Bucket{
		"Filesystem": fileBlobBucket,
		"Memory":     mem,
	}
}

func TestUploadResult(t *testing.T) {
	ctx := context.Background()
	originalData := Result{
		ID:      uuid.New().String(),
		TotalNS: 100,
		Labels:  []string{"run (a.lua:1)", "print [C]"},
	}
	for name, bucket := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			objectName := StoragePath(1, 2, originalData.ID)
			err := CompressedWrite(ctx, bucket, objectName, originalData)
			if err != nil {
				t.Fatalf("we should be able to write: %v", err)
			}
			compressed, err := bucket.ReadAll(ctx, objectName)
			if err != nil {
				t.Fatalf("we should be able to read the object: %v", err)
			}
			uncompressedData, err := io.ReadAll(lz4.NewReader(bytes.NewReader(compressed)))
			if err != nil {
				t.Fatalf("we should be able to uncompress the data: %v", err)
			}
			b, err := json.Marshal(originalData)
			if err != nil {
				t.Fatalf("we should be able to marshal this: %v", err)
			}
			if !bytes.Equal(b, bytes.TrimSpace(uncompressedData)) {
				t.Fatalf("data should be identical: %s %s", b, uncompressedData)
			}
		})
	}
}

func TestDownloadResult(t *testing.T) {
	ctx := context.Background()
	originalData := []byte(`{"id":"abc","total_ns":100,"labels":["run (a.lua:1)"]}`)

	var compressedData bytes.Buffer
	w := lz4.NewWriter(&compressedData)
	_, _ = w.Write(originalData)
	if err := w.Close(); err != nil {
		t.Fatalf("we should be able to close the writer: %v", err)
	}

	for name, bucket := range buckets(t) {
		t.Run(name, func(t *testing.T) {
			objectName := StoragePath(1, 2, uuid.New().String())
			if err := bucket.WriteAll(ctx, objectName, compressedData.Bytes(), nil); err != nil {
				t.Fatalf("we should be able to write an object: %v", err)
			}
			var result Result
			if err := UnmarshalCompressed(ctx, bucket, objectName, &result); err != nil {
				t.Fatalf("we should be able to read the object: %v", err)
			}
			uncompressedData, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("we should be able to marshal back to JSON: %v", err)
			}
			if !bytes.Equal(originalData, uncompressedData) {
				t.Fatalf("data should be identical: %v %v", string(originalData), string(uncompressedData))
			}
		})
	}
}

func TestDownloadMissingResult(t *testing.T) {
	var result Result
	err := UnmarshalCompressed(context.Background(), fileBlobBucket, StoragePath(1, 2, "missing"), &result)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestStoragePath(t *testing.T) {
	if got := StoragePath(1, 22, "abc"); got != "1/22/abc" {
		t.Fatalf("unexpected storage path %q", got)
	}
}
