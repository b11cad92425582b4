package storageutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

type (
	// ReadJob is a unit of work reading one object, run in its own goroutine.
	ReadJob interface {
		Read()
	}

	// ReadJobResult is what a ReadJob sends back on its result channel.
	ReadJobResult interface {
		Error() error
	}
)

// StoragePath returns the object name of a profiling result.
func StoragePath(organizationID, projectID uint64, profileID string) string {
	return fmt.Sprintf("%d/%d/%s", organizationID, projectID, profileID)
}

// CompressedWrite encodes d to JSON, compresses it and writes it to the bucket.
func CompressedWrite(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ow, err := b.NewWriter(ctx, objectName, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	err = json.NewEncoder(zw).Encode(d)
	if err != nil {
		_ = ow.Close()
		return err
	}
	err = zw.Close()
	if err != nil {
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads compressed JSON data from the bucket and unmarshals it.
func UnmarshalCompressed(ctx context.Context, b *blob.Bucket, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	or, err := b.NewReader(ctx, objectName, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return ErrObjectNotFound
		}
		return err
	}
	defer or.Close()
	zr := lz4.NewReader(or)
	return json.NewDecoder(zr).Decode(d)
}
