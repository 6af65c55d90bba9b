package config

import "time"

// Config is the agentd daemon configuration, loaded from the
// environment.
type Config struct {
	HTTPAddr        string            `envconfig:"AGENTD_HTTP_ADDR" default:"127.0.0.1:8080"`
	MetricsAddr     string            `envconfig:"AGENTD_METRICS_ADDR" default:"127.0.0.1:9090"`
	LogLevel        string            `envconfig:"AGENTD_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration     `envconfig:"AGENTD_SHUTDOWN_TIMEOUT" default:"30s"`
	LaunchTimeout   time.Duration     `envconfig:"AGENTD_LAUNCH_TIMEOUT" default:"30s"`
	StopGrace       time.Duration     `envconfig:"AGENTD_STOP_GRACE" default:"5s"`
	Binaries        []string          `envconfig:"AGENTD_BINARIES"`
	InstanceEnv     map[string]string `envconfig:"AGENTD_INSTANCE_ENV"`
}
