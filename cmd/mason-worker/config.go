package main

import (
	"github.com/caarlos0/env/v11"

	"github.com/v0gel/mason/internal/postgresutil"
)

// config holds the application configuration.
type config struct {
	Development bool                `env:"MASON_DEVELOPMENT"`
	Tube        string              `env:"MASON_WORKER_TUBE" envDefault:"build"`
	MetricsAddr string              `env:"MASON_WORKER_METRICS_ADDR" envDefault:":9090"`
	Postgres    postgresutil.Config `envPrefix:"MASON_POSTGRES_"`
	AMQP        amqpConfig          `envPrefix:"MASON_AMQP_"`
	S3          s3Config            `envPrefix:"MASON_S3_"`
	Build       buildConfig         `envPrefix:"MASON_BUILD_"`
	CDN         cdnConfig           `envPrefix:"MASON_CDN_"`
}

type amqpConfig struct {
	URL string `env:"URL,notEmpty"`
}

type s3Config struct {
	URL string `env:"URL,notEmpty"`
}

type buildConfig struct {
	WorkDir        string   `env:"WORK_DIR" envDefault:"/var/lib/mason/sites"`
	SourceBucket   string   `env:"SOURCE_BUCKET,notEmpty"`
	Command        string   `env:"COMMAND" envDefault:"grunt"`
	InstallCommand []string `env:"INSTALL_COMMAND" envDefault:"npm:install" envSeparator:":"`
	MaxParallel    int      `env:"MAX_PARALLEL"`
	Production     bool     `env:"PRODUCTION" envDefault:"true"`
	Protocol       string   `env:"PROTOCOL" envDefault:"http"`
}

type cdnConfig struct {
	PurgeProxy      string  `env:"PURGE_PROXY"`
	PurgesPerSecond float64 `env:"PURGES_PER_SECOND" envDefault:"20"`
}

// parseConfig parses the application configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
