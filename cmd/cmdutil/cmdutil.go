// Package cmdutil holds the settings and wiring shared by the subcommands.
package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stokaro/userschema/config"
	"github.com/stokaro/userschema/core/logging"
	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/usertable"
)

// Global flags
const (
	ConfigFlag    = "config"
	DBURLFlag     = "db-url"
	LogLevelFlag  = "log-level"
	LogFormatFlag = "log-format"
)

var flagKeys = map[string]string{
	DBURLFlag:     "database.url",
	LogLevelFlag:  "log.level",
	LogFormatFlag: "log.format",
}

var globalFlags = map[string]cobraflags.Flag{
	ConfigFlag: &cobraflags.StringFlag{
		Name:       ConfigFlag,
		Usage:      "Configuration file (YAML, TOML or JSON)",
		Persistent: true,
	},
	DBURLFlag: &cobraflags.StringFlag{
		Name:       DBURLFlag,
		Usage:      "Database URL or SQL Server connection string (overrides database.url)",
		Persistent: true,
	},
	LogLevelFlag: &cobraflags.StringFlag{
		Name:       LogLevelFlag,
		Usage:      "Log level: debug, info, warn or error",
		Persistent: true,
	},
	LogFormatFlag: &cobraflags.StringFlag{
		Name:       LogFormatFlag,
		Usage:      "Log format: text or json",
		Persistent: true,
	},
}

// RegisterGlobalFlags adds the flags every subcommand understands.
func RegisterGlobalFlags(cmd *cobra.Command) {
	cobraflags.RegisterMap(cmd, globalFlags)
}

// Env is the loaded configuration of one command invocation.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
}

// Load merges defaults, the config file, the environment and the global
// flags set on cmd, in increasing precedence.
func Load(cmd *cobra.Command) (*Env, error) {
	v := config.New()
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	file, _ := cmd.Flags().GetString(ConfigFlag)
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &Env{Config: cfg, Logger: logger}, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// UnitOptions returns the usertable options with the command logger.
func (e *Env) UnitOptions() usertable.Options {
	opts := e.Config.UnitOptions()
	opts.Logger = e.Logger
	return opts
}

// Connect opens the configured database.
func (e *Env) Connect(ctx context.Context) (*dbschema.DatabaseConnection, error) {
	if e.Config.Database.URL == "" {
		return nil, fmt.Errorf("database URL is required (use --%s, USERSCHEMA_DATABASE_URL or %s)", DBURLFlag, config.LegacyURLEnv)
	}
	conn, err := dbschema.Connect(ctx, e.Config.Database.URL, e.Config.PoolOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	info := conn.Info()
	e.Logger.Debug("Connected", "dialect", info.Dialect, "version", info.Version)
	return conn, nil
}

// NewMigrator combines the User units with the migrations of
// migration.dir, when set.
func (e *Env) NewMigrator(conn *dbschema.DatabaseConnection) (*migrator.Migrator, error) {
	units, err := usertable.NewProvider(e.UnitOptions())
	if err != nil {
		return nil, fmt.Errorf("invalid migration options: %w", err)
	}
	var provider migrator.MigrationProvider = units
	if dir := e.Config.Migration.Dir; dir != "" {
		files, err := migrator.NewFSMigrationProvider(os.DirFS(dir))
		if err != nil {
			return nil, fmt.Errorf("failed to load migrations from %s: %w", dir, err)
		}
		provider, err = migrator.NewCompositeMigrationProvider(provider, files)
		if err != nil {
			return nil, err
		}
	}

	return migrator.NewMigrator(conn, provider).
		WithLogger(e.Logger).
		WithLockTimeout(e.Config.Migration.LockTimeout).
		WithOutOfOrder(e.Config.Migration.AllowOutOfOrder), nil
}
