package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/lprofile/internal/config"
	"github.com/getsentry/lprofile/internal/httputil"
	"github.com/getsentry/lprofile/internal/logutil"
)

type environment struct {
	config config.ServiceConfig

	// resultsWriter is nil when no broker is configured.
	resultsWriter KafkaWriter

	storage *blob.Bucket
}

var release string

func newEnvironment(c config.ServiceConfig) (*environment, error) {
	e := environment{config: c}

	var err error
	e.storage, err = blob.OpenBucket(context.Background(), c.BucketURL)
	if err != nil {
		return nil, err
	}
	if c.KafkaEnabled() {
		e.resultsWriter = &kafka.Writer{
			Addr:         kafka.TCP(c.KafkaBrokers...),
			Async:        true,
			Balancer:     kafka.CRC32Balancer{},
			BatchSize:    10,
			Compression:  kafka.Lz4,
			ReadTimeout:  3 * time.Second,
			Topic:        c.KafkaTopic,
			WriteTimeout: 3 * time.Second,
		}
	}
	return &e, nil
}

func (e *environment) shutdown() {
	err := e.storage.Close()
	if err != nil {
		sentry.CaptureException(err)
	}
	if e.resultsWriter != nil {
		err = e.resultsWriter.Close()
		if err != nil {
			sentry.CaptureException(err)
		}
	}
	sentry.Flush(5 * time.Second)
}

func (e *environment) newRouter() (*httprouter.Router, error) {
	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, err
	}

	routes := []struct {
		method  string
		path    string
		handler http.HandlerFunc
	}{
		{http.MethodPost, "/organizations/:organization_id/projects/:project_id/traces", e.postTrace},
		{http.MethodGet, "/organizations/:organization_id/projects/:project_id/profiles/:profile_id", e.getProfile},
		{http.MethodGet, "/organizations/:organization_id/projects/:project_id/profiles/:profile_id/speedscope", e.getSpeedscope},
		{http.MethodGet, "/organizations/:organization_id/projects/:project_id/profiles/:profile_id/pprof", e.getPprof},
		{http.MethodGet, "/organizations/:organization_id/projects/:project_id/functions", e.getFunctions},
		{http.MethodGet, "/health", e.getHealth},
	}

	router := httprouter.New()

	for _, route := range routes {
		handlerFunc := httputil.AnonymizeTransactionName(route.path, route.handler)
		handlerFunc = httputil.DecompressPayload(handlerFunc)
		handler := compress(handlerFunc)

		router.Handler(route.method, route.path, handler)
	}

	return router, nil
}

// newHandler returns the router wrapped with the Sentry middleware.
func (e *environment) newHandler() (http.Handler, error) {
	router, err := e.newRouter()
	if err != nil {
		return nil, err
	}
	return sentryhttp.New(sentryhttp.Options{}).Handle(router), nil
}

func main() {
	c, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("error reading the configuration")
	}

	logutil.ConfigureLogger(logutil.ParseLevel(c.LogLevel))

	err = sentry.Init(sentry.ClientOptions{
		BeforeSend:       httputil.SetHTTPStatusCodeTag,
		Dsn:              c.SentryDSN,
		Environment:      c.Environment,
		Release:          release,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	env, err := newEnvironment(c)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up environment")
	}

	handler, err := env.newHandler()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("error setting up the router")
	}

	server := http.Server{
		Addr:    ":" + c.Port,
		Handler: handler,
	}

	waitForShutdown := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(cctx); err != nil {
			sentry.CaptureException(err)
			log.Err(err).Msg("error shutting down server")
		}

		close(waitForShutdown)
	}()

	log.Info().Str("port", c.Port).Str("bucket", c.BucketURL).Bool("kafka", c.KafkaEnabled()).Msg("starting server")

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Err(err).Msg("server failed")
	}

	<-waitForShutdown

	// Shutdown the rest of the environment after the HTTP connections are closed
	env.shutdown()
}

func (e *environment) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
