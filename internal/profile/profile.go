package profile

import (
	"time"

	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/storageutil"
)

// Profile is a profiling result as it is stored, along with where it came from.
type Profile struct {
	ID             string         `json:"profile_id"`
	OrganizationID uint64         `json:"organization_id"`
	ProjectID      uint64         `json:"project_id"`
	Received       time.Time      `json:"received"`
	Environment    string         `json:"environment,omitempty"`
	Error          string         `json:"error,omitempty"`
	Result         session.Result `json:"result"`
}

// New wraps a result. profiledErr is the error the profiled code raised, if any.
func New(organizationID, projectID uint64, res session.Result, profiledErr error) Profile {
	p := Profile{
		ID:             res.ID,
		OrganizationID: organizationID,
		ProjectID:      projectID,
		Received:       time.Now().UTC(),
		Result:         res,
	}
	if profiledErr != nil {
		p.Error = profiledErr.Error()
	}
	return p
}

func (p Profile) StoragePath() string {
	return storageutil.StoragePath(p.OrganizationID, p.ProjectID, p.ID)
}

func (p Profile) DurationNS() uint64 {
	return p.Result.TotalNS
}
