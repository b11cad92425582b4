package config

import (
	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `env:"SENTRY_ENVIRONMENT" env-default:"development"`
		SentryDSN   string `env:"SENTRY_DSN"`

		Port     string `env:"PORT" env-default:"8080"`
		LogLevel string `env:"LPROFILE_LOG_LEVEL" env-default:"info"`

		// BucketURL is a gocloud blob URL, e.g. gs://bucket or file:///tmp/profiles.
		BucketURL string `env:"LPROFILE_BUCKET_URL" env-default:"mem://"`

		KafkaBrokers []string `env:"LPROFILE_KAFKA_BROKERS" env-separator:","`
		KafkaTopic   string   `env:"LPROFILE_KAFKA_TOPIC" env-default:"processed-lua-profiles"`

		// RecordTimeline keeps frame transitions so results can be rendered
		// with speedscope.
		RecordTimeline bool `env:"LPROFILE_TIMELINE" env-default:"true"`

		MaxUniqueFunctions uint `env:"LPROFILE_MAX_UNIQUE_FUNCTIONS" env-default:"100"`
		MaxNumOfExamples   uint `env:"LPROFILE_MAX_EXAMPLES" env-default:"5"`
	}
)

// Load reads the configuration from the environment.
func Load() (ServiceConfig, error) {
	var c ServiceConfig
	err := cleanenv.ReadEnv(&c)
	return c, err
}

// KafkaEnabled returns true when results should be published.
func (c ServiceConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
