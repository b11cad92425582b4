package main

import (
	"errors"
	"net/http"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/lprofile/internal/httputil"
	"github.com/getsentry/lprofile/internal/metrics"
	"github.com/getsentry/lprofile/internal/profile"
	"github.com/getsentry/lprofile/internal/storageutil"
)

const minNumWorkers = 5

type GetFunctionsResponse struct {
	Functions []metrics.FunctionMetrics `json:"functions"`
	Missing   []string                  `json:"missing,omitempty"`
}

func (env *environment) getFunctions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	_, logger, ok := httputil.GetRequiredQueryParameters(w, r, "profile_id")
	if !ok {
		return
	}

	ps := httprouter.ParamsFromContext(ctx)
	ids, err := httputil.GetUintPathParameters(ps, "organization_id", "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hub.Scope().SetTags(map[string]string{
		"organization_id": ps.ByName("organization_id"),
		"project_id":      ps.ByName("project_id"),
	})

	profileIDs := r.URL.Query()["profile_id"]

	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read profiles from storage"
	results := readProfiles(profileIDs, func(profileID string, result chan<- storageutil.ReadJobResult) storageutil.ReadJob {
		return profile.ReadJob{
			Ctx:            ctx,
			Storage:        env.storage,
			OrganizationID: ids["organization_id"],
			ProjectID:      ids["project_id"],
			ProfileID:      profileID,
			Result:         result,
		}
	})
	s.Finish()

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Aggregate functions"
	ma := metrics.NewAggregator(env.config.MaxUniqueFunctions, env.config.MaxNumOfExamples)
	var missing []string
	for _, res := range results {
		result, ok := res.(profile.ReadJobResult)
		if !ok {
			continue
		}
		if err := result.Error(); err != nil {
			if errors.Is(err, storageutil.ErrObjectNotFound) {
				missing = append(missing, result.ProfileID)
				continue
			}
			hub.CaptureException(err)
			logger.Err(err).Str("profile_id", result.ProfileID).Msg("profile can't be read")
			continue
		}
		ma.AddResult(result.Profile.Result)
	}
	functions := ma.ToMetrics()
	s.Finish()

	writeJSON(w, r, GetFunctionsResponse{
		Functions: functions,
		Missing:   missing,
	})
}

// readProfiles runs one read job per profile ID on a pool of workers and
// returns every result, in no particular order.
func readProfiles(
	profileIDs []string,
	newJob func(string, chan<- storageutil.ReadJobResult) storageutil.ReadJob,
) []storageutil.ReadJobResult {
	numWorkers := getNumWorkers(len(profileIDs), minNumWorkers)
	jobs := make(chan storageutil.ReadJob, numWorkers)
	results := make(chan storageutil.ReadJobResult, len(profileIDs))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				job.Read()
			}
		}()
	}

	for _, profileID := range profileIDs {
		jobs <- newJob(profileID, results)
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]storageutil.ReadJobResult, 0, len(profileIDs))
	for res := range results {
		out = append(out, res)
	}
	return out
}
