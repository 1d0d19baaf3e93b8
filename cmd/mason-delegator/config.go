package main

import (
	"github.com/caarlos0/env/v11"

	"github.com/v0gel/mason/internal/postgresutil"
)

// config holds the application configuration.
type config struct {
	Development bool                `env:"MASON_DEVELOPMENT"`
	MetricsAddr string              `env:"MASON_DELEGATOR_METRICS_ADDR" envDefault:":9091"`
	Postgres    postgresutil.Config `envPrefix:"MASON_POSTGRES_"`
	AMQP        amqpConfig          `envPrefix:"MASON_AMQP_"`
}

type amqpConfig struct {
	URL string `env:"URL,notEmpty"`
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
