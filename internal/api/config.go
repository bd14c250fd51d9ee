package api

import "time"

type Config struct {
	HTTPAddr        string        `envconfig:"WSM_HTTP_ADDR" default:"0.0.0.0:8080"`
	MetricsAddr     string        `envconfig:"WSM_METRICS_ADDR" default:"0.0.0.0:9090"`
	LogLevel        string        `envconfig:"WSM_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"WSM_SHUTDOWN_TIMEOUT" default:"30s"`

	// CloudProvider selects the bucket backend: "aws" uses S3 through the
	// default credential chain, "fake" keeps artifacts in memory.
	CloudProvider string `envconfig:"WSM_CLOUD_PROVIDER" default:"fake"`
	AWSRegion     string `envconfig:"WSM_AWS_REGION" default:"us-east-1"`
}
