package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/technosupport/ts-events/internal/config"
	"github.com/technosupport/ts-events/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|steps N]",
	Short: "Apply or roll back database migrations",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.Database.Migrations, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}

	start := time.Now()
	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(args) != 2 {
			return errors.New("steps needs a count, e.g. migrate steps -1")
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil || n == 0 {
			return fmt.Errorf("invalid step count %q", args[1])
		}
		err = m.Steps(n)
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", args[0], err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return verr
	}
	log.Info().
		Str("command", args[0]).
		Uint("version", version).
		Bool("dirty", dirty).
		Dur("took", time.Since(start)).
		Msg("migrations applied")
	return nil
}
