package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/v0gel/mason/internal/postgresutil"
	"github.com/v0gel/mason/internal/registry"
	"github.com/v0gel/mason/internal/registry/registrypg"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "masonctl",
	Short: "Masonctl is a command line tool for operating the mason build platform",
	Long: `masonctl is the operator's interface to the mason site build platform.

It writes command records into the delegator inbox (which deduplicates and
forwards them to the build workers) and reads site status back from the
registry.

Common workflows:

  Trigger a build of every deploy branch:
    masonctl submit build --site my-site --user <uuid>

  Trigger a build of one branch:
    masonctl submit build --site my-site --user <uuid> --branch master

  Trigger a preview build:
    masonctl submit preview --site my-site --user <uuid> --content-type articles --item-key one-weird-trick

  Check the status feed:
    masonctl status --site my-site

Configuration:
  Set the registry connection via environment variable or a config file:
    MASON_POSTGRES_DSN    Postgres connection string`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".masonctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".masonctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "MASON_VARNAME"
	viper.SetEnvPrefix("MASON")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.masonctl.yaml)")

	rootCmd.PersistentFlags().String("postgres-dsn", "", "registry Postgres connection string")
	_ = viper.BindPFlag("postgres_dsn", rootCmd.PersistentFlags().Lookup("postgres-dsn"))
}

// openRegistry connects to the registry using the configured DSN.
func openRegistry(ctx context.Context) (registry.Registry, *pgxpool.Pool, error) {
	dsn := viper.GetString("postgres_dsn")
	if dsn == "" {
		return nil, nil, fmt.Errorf("registry connection not configured, set MASON_POSTGRES_DSN or --postgres-dsn")
	}

	pool, err := postgresutil.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return registrypg.New(pool), pool, nil
}
