// Package main is the entry point for the pitmetrics service.
// It serves point-in-time TTM and LYR metrics computed from quarterly reports
// that are stored together with the date they became public.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/pitmetrics/internal/cache"
	"github.com/aristath/pitmetrics/internal/catalog"
	"github.com/aristath/pitmetrics/internal/config"
	"github.com/aristath/pitmetrics/internal/database"
	"github.com/aristath/pitmetrics/internal/engine"
	"github.com/aristath/pitmetrics/internal/reliability"
	"github.com/aristath/pitmetrics/internal/reports"
	"github.com/aristath/pitmetrics/internal/scheduler"
	"github.com/aristath/pitmetrics/internal/server"
	"github.com/aristath/pitmetrics/internal/version"
	"github.com/aristath/pitmetrics/pkg/logger"
)

const walCheckpointSchedule = "0 */15 * * * *"

// main wires configuration, databases, the evaluation engine, background jobs
// and the HTTP server, then waits for SIGINT or SIGTERM and shuts down.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New(logger.Config{Level: "info", Pretty: true})
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().
		Str("version", version.Version).
		Str("data_dir", cfg.DataDir).
		Msg("Starting pitmetrics")

	pitDB, err := openDatabase(cfg.PITDatabasePath(), database.NamePIT, database.ProfileStandard)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open report database")
	}
	defer pitDB.Close()

	cacheDB, err := openDatabase(cfg.CacheDatabasePath(), database.NameCache, database.ProfileCache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	cat, err := catalog.Load(cfg.FieldCatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.FieldCatalogPath).Msg("Failed to load field catalog")
	}
	log.Info().Int("fields", cat.Len()).Msg("Field catalog loaded")

	reportRepo := reports.NewRepository(pitDB.Conn(), log)
	cacheRepo := cache.NewRepository(cacheDB.Conn())

	eng := engine.New(reportRepo, cacheRepo, cat, engine.Config{
		Concurrency: cfg.EvalConcurrency,
		CacheTTL:    cfg.CacheTTL,
	}, log)

	databases := []*database.DB{pitDB, cacheDB}

	sched := scheduler.New(log)
	mustAddJob(log, sched, cfg.CleanupSchedule, cache.NewCleanupJob(cacheRepo, log))
	mustAddJob(log, sched, walCheckpointSchedule, scheduler.NewWALCheckpointJob(log, databases...))
	mustAddJob(log, sched, cfg.MaintenanceSchedule, reliability.NewMaintenanceJob(databases, cfg.DataDir, log))

	// Left nil when backups are disabled so the server sees a nil interface
	var backup server.Backuper
	if cfg.Backup.Enabled() {
		svc, err := newBackupService(cfg, databases, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup service")
		}
		backup = svc
		mustAddJob(log, sched, cfg.Backup.Schedule, reliability.NewBackupJob(svc, cfg.Backup.RetentionDays, log))
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backups enabled")
	} else {
		log.Info().Msg("Backups disabled (PIT_BACKUP_BUCKET not set)")
	}

	sched.Start()

	srv := server.New(server.Config{
		Log:     log,
		PITDB:   pitDB,
		CacheDB: cacheDB,
		Engine:  eng,
		Reports: reports.NewHandler(reportRepo, cat, cacheRepo, log),
		Backup:  backup,
		Jobs:    sched,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func openDatabase(path, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newBackupService(cfg *config.Config, databases []*database.DB, log zerolog.Logger) (*reliability.BackupService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := reliability.NewS3Store(ctx, reliability.S3Config{
		Bucket:          cfg.Backup.Bucket,
		Region:          cfg.Backup.Region,
		Endpoint:        cfg.Backup.Endpoint,
		AccessKeyID:     cfg.Backup.AccessKeyID,
		SecretAccessKey: cfg.Backup.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return reliability.NewBackupService(store, databases, cfg.DataDir, cfg.Backup.Prefix, log), nil
}

func mustAddJob(log zerolog.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to schedule job")
	}
}
