package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/lprofile/internal/errorutil"
	"github.com/getsentry/lprofile/internal/httputil"
	"github.com/getsentry/lprofile/internal/profile"
	"github.com/getsentry/lprofile/internal/report"
	"github.com/getsentry/lprofile/internal/storageutil"
	"github.com/getsentry/lprofile/internal/trace"
)

type PostTraceResponse struct {
	Error   string         `json:"error,omitempty"`
	Summary report.Summary `json:"summary"`
}

func (env *environment) postTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	ps := httprouter.ParamsFromContext(ctx)

	ids, err := httputil.GetUintPathParameters(ps, "organization_id", "project_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	organizationID, projectID := ids["organization_id"], ids["project_id"]
	hub.Scope().SetTags(map[string]string{
		"organization_id": strconv.FormatUint(organizationID, 10),
		"project_id":      strconv.FormatUint(projectID, 10),
	})

	by, err := report.ParseBy(r.URL.Query().Get("sort"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := sentry.StartSpan(ctx, "request.body")
	s.Description = "Read request body"
	body, err := io.ReadAll(r.Body)
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s = sentry.StartSpan(ctx, "json.unmarshal")
	s.Description = "Decode trace"
	t, err := trace.Decode(bytes.NewReader(body))
	s.Finish()
	if err != nil {
		log.Err(err).Int("size", len(body)).Msg("trace can't be decoded")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hub.Scope().SetContext("Trace", map[string]interface{}{
		"events":  len(t.Events),
		"methods": len(t.Methods),
		"size":    len(body),
		"threads": len(t.Threads),
	})

	logger := log.With().
		Uint64("organization_id", organizationID).
		Uint64("project_id", projectID).
		Logger()

	s = sentry.StartSpan(ctx, "processing")
	s.Description = "Replay trace"
	res, err := t.Replay(trace.ReplayOptions{
		Logger:         &logger,
		RecordTimeline: env.config.RecordTimeline,
	})
	s.Finish()
	var profiledErr error
	if err != nil {
		switch {
		case errors.Is(err, trace.ErrProfiledError):
			// the profiled code failed, the result is still valid
			profiledErr = err
		case errors.Is(err, errorutil.ErrDataIntegrity):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, errorutil.ErrUnsupported):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		default:
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	p := profile.New(organizationID, projectID, res, profiledErr)
	p.Environment = env.config.Environment

	s = sentry.StartSpan(ctx, "blob.write")
	s.Description = "Write result to storage"
	err = storageutil.CompressedWrite(ctx, env.storage, p.StoragePath(), p)
	s.Finish()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// This is a transient error, we'll retry
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			// These errors won't be retried
			hub.CaptureException(err)
			if code := gcerrors.Code(err); code == gcerrors.FailedPrecondition {
				w.WriteHeader(http.StatusPreconditionFailed)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
		}
		return
	}

	if env.resultsWriter != nil {
		s = sentry.StartSpan(ctx, "json.marshal")
		s.Description = "Marshal profile Kafka message"
		b, err := json.Marshal(buildProfileKafkaMessage(p))
		s.Finish()
		if err != nil {
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s = sentry.StartSpan(ctx, "processing")
		s.Description = "Send profile to Kafka"
		err = env.resultsWriter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(p.ID),
			Value: b,
		})
		s.Finish()
		if err != nil {
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	s = sentry.StartSpan(ctx, "json.marshal")
	s.Description = "Marshal summary"
	b, err := json.Marshal(PostTraceResponse{
		Error:   p.Error,
		Summary: report.Summarize(res, by),
	})
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(b)
}
