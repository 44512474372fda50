// reviewflow-sweep performs a single enforcement pass and backup reconcile
// outside the daemon's schedule, for operators and cron.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"reviewflow/internal/app"
	"reviewflow/internal/config"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("RF_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("app init error")
	}
	defer application.Close()

	// GetAll doubles as the reconcile step: it repopulates an emptied
	// primary from the backup and re-mirrors every surviving record.
	records, err := application.Repo.GetAll(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("repository reconcile failed")
	}

	report, err := application.Sweep.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("sweep failed")
	}
	log.Info().
		Int("records", len(records)).
		Int("evaluated", report.Evaluated).
		Int("denied", report.Denied).
		Int("enforced", report.Enforced).
		Int("errors", report.Errors).
		Msg("sweep complete")
}
