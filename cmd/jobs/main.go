// Command jobs runs the background maintenance jobs once and exits. It is meant
// to be scheduled externally, e.g. from cron or a Kubernetes CronJob.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/temcen/cinerank/internal/app"
	"github.com/temcen/cinerank/internal/config"
	"github.com/temcen/cinerank/internal/database"
	"github.com/temcen/cinerank/internal/services"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("jobs", pflag.ExitOnError)
	job := flags.String("job", "all", fmt.Sprintf("job to run: all, %v", services.JobNames))
	algorithm := flags.String("algorithm", "", "user similarity algorithm (cosine or jaccard)")
	maxItems := flags.Int("max-items", 0, "cap on users or movies processed, 0 uses the configured value")
	flags.String("log-level", "info", "log level")
	_ = flags.Parse(os.Args[1:])

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to read .env file")
	}

	v := viper.New()
	if err := v.BindPFlag("logging.level", flags.Lookup("log-level")); err != nil {
		logrus.WithError(err).Fatal("Failed to bind flags")
	}
	cfg, err := config.LoadWith(v)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := app.NewLogger(cfg.Logging)

	names, err := selectJobs(*job)
	if err != nil {
		logger.WithError(err).Fatal("Invalid job")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	svc, err := services.New(cfg, logger, db, prometheus.NewRegistry())
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer svc.Close()

	opts := services.JobOptions{Algorithm: *algorithm, MaxItems: *maxItems}
	failed := 0
	for _, name := range names {
		report, err := svc.Jobs.Run(ctx, name, opts)
		if err != nil {
			failed++
			logger.WithError(err).WithField("job", name).Error("Job failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.WithFields(logrus.Fields{
			"job":       report.Name,
			"job_id":    report.JobID,
			"processed": report.Processed,
			"stored":    report.Stored,
			"pruned":    report.Pruned,
			"failed":    report.Failed,
			"attempts":  report.Attempts,
			"duration":  report.Duration,
		}).Info("Job finished")
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func selectJobs(name string) ([]string, error) {
	if name == "all" {
		return services.JobNames, nil
	}
	if !slices.Contains(services.JobNames, name) {
		return nil, fmt.Errorf("%w: %s", services.ErrUnknownJob, name)
	}
	return []string{name}, nil
}
