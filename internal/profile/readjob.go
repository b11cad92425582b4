package profile

import (
	"context"

	"gocloud.dev/blob"

	"github.com/getsentry/lprofile/internal/storageutil"
)

type (
	ReadJob struct {
		Ctx            context.Context
		Storage        *blob.Bucket
		OrganizationID uint64
		ProjectID      uint64
		ProfileID      string
		Result         chan<- storageutil.ReadJobResult
	}

	ReadJobResult struct {
		Err       error
		ProfileID string
		Profile   *Profile
	}
)

func (job ReadJob) Read() {
	var p Profile

	err := storageutil.UnmarshalCompressed(
		job.Ctx,
		job.Storage,
		storageutil.StoragePath(job.OrganizationID, job.ProjectID, job.ProfileID),
		&p,
	)
	if err != nil {
		job.Result <- ReadJobResult{ProfileID: job.ProfileID, Err: err}
		return
	}

	job.Result <- ReadJobResult{ProfileID: job.ProfileID, Profile: &p}
}

func (result ReadJobResult) Error() error {
	return result.Err
}
