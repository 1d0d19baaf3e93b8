package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/v0gel/mason/internal/postgresutil"
)

func main() {
	if err := run(os.Environ()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(environ []string) error {
	_ = godotenv.Load()

	cfg, err := parseConfig(environ)
	if err != nil {
		return err
	}

	return postgresutil.Setup(cfg.Postgres.DSN)
}
