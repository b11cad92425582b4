package config

import (
	"os"
	"testing"

	"github.com/getsentry/lprofile/internal/testutil"
)

// unsetenv removes keys for the duration of the test.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t,
		"SENTRY_ENVIRONMENT",
		"SENTRY_DSN",
		"PORT",
		"LPROFILE_LOG_LEVEL",
		"LPROFILE_BUCKET_URL",
		"LPROFILE_KAFKA_BROKERS",
		"LPROFILE_KAFKA_TOPIC",
		"LPROFILE_TIMELINE",
		"LPROFILE_MAX_UNIQUE_FUNCTIONS",
		"LPROFILE_MAX_EXAMPLES",
	)

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ServiceConfig{
		Environment:        "development",
		Port:               "8080",
		LogLevel:           "info",
		BucketURL:          "mem://",
		KafkaTopic:         "processed-lua-profiles",
		RecordTimeline:     true,
		MaxUniqueFunctions: 100,
		MaxNumOfExamples:   5,
	}
	if diff := testutil.Diff(c, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if c.KafkaEnabled() {
		t.Fatal("expected kafka to be disabled")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SENTRY_ENVIRONMENT", "production")
	t.Setenv("PORT", "9000")
	t.Setenv("LPROFILE_BUCKET_URL", "gs://lua-profiles")
	t.Setenv("LPROFILE_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("LPROFILE_TIMELINE", "false")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment != "production" || c.Port != "9000" || c.BucketURL != "gs://lua-profiles" {
		t.Fatalf("unexpected configuration: %+v", c)
	}
	if diff := testutil.Diff(c.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if c.RecordTimeline {
		t.Fatal("expected the timeline to be disabled")
	}
	if !c.KafkaEnabled() {
		t.Fatal("expected kafka to be enabled")
	}
}
