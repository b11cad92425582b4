package main

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"

	"github.com/getsentry/lprofile/internal/httputil"
	"github.com/getsentry/lprofile/internal/profile"
	"github.com/getsentry/lprofile/internal/report"
	"github.com/getsentry/lprofile/internal/storageutil"
)

// readProfile loads the profile named by the route. It writes the error
// response itself and returns false on failure.
func (env *environment) readProfile(w http.ResponseWriter, r *http.Request) (profile.Profile, bool) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)

	ids, err := httputil.GetUintPathParameters(ps, "organization_id", "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return profile.Profile{}, false
	}
	profileID := ps.ByName("profile_id")
	hub.Scope().SetTags(map[string]string{
		"organization_id": ps.ByName("organization_id"),
		"project_id":      ps.ByName("project_id"),
		"profile_id":      profileID,
	})

	s := sentry.StartSpan(ctx, "blob.read")
	s.Description = "Read profile from storage"
	var p profile.Profile
	err = storageutil.UnmarshalCompressed(
		ctx,
		env.storage,
		storageutil.StoragePath(ids["organization_id"], ids["project_id"], profileID),
		&p,
	)
	s.Finish()
	if err != nil {
		if errors.Is(err, storageutil.ErrObjectNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return profile.Profile{}, false
		}
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return profile.Profile{}, false
	}
	return p, true
}

func (env *environment) getProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := env.readProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, p)
}

func (env *environment) getSpeedscope(w http.ResponseWriter, r *http.Request) {
	p, ok := env.readProfile(w, r)
	if !ok {
		return
	}
	o, err := report.Speedscope(p.Result)
	if err != nil {
		if errors.Is(err, report.ErrNoTimeline) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		sentry.GetHubFromContext(r.Context()).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, o)
}

func (env *environment) getPprof(w http.ResponseWriter, r *http.Request) {
	p, ok := env.readProfile(w, r)
	if !ok {
		return
	}
	var b bytes.Buffer
	if err := report.Pprof(p.Result).Write(&b); err != nil {
		sentry.GetHubFromContext(r.Context()).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+p.ID+`.pb.gz"`)
	_, _ = w.Write(b.Bytes())
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	s := sentry.StartSpan(r.Context(), "json.marshal")
	defer s.Finish()

	b, err := json.Marshal(v)
	if err != nil {
		sentry.GetHubFromContext(r.Context()).CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}
