package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/billbatista/acasinha-split/attachment"
	"github.com/billbatista/acasinha-split/config"
	"github.com/billbatista/acasinha-split/eventlogger"
	"github.com/billbatista/acasinha-split/ledger"
	"github.com/billbatista/acasinha-split/ledger/memory"
	"github.com/billbatista/acasinha-split/metrics"
	"github.com/billbatista/acasinha-split/session"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		printErrorAndExit("loading config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo        ledger.Repository
		attachments attachment.Store
		recent      session.RecentStore
		evtlogger   eventlogger.EventLogger
	)

	switch cfg.Storage {
	case config.StorageMemory:
		repo = memory.New()
		attachments = attachment.NewMemory(cfg.MaxAttachmentBytes)
		recent = session.NewMemoryRecent()
		evtlogger = eventlogger.NewMemoryEventLogger()
	default:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			printErrorAndExit("database connection", err)
		}
		defer db.Close()
		err = db.PingContext(ctx)
		if err != nil {
			printErrorAndExit("pinging database", err)
		}

		ledgerRepo := ledger.NewRepository(db, cfg.DatabaseURL)
		attachmentRepo := attachment.NewRepository(db, cfg.MaxAttachmentBytes)
		recentRepo := session.NewRepository(db)
		sqlLogger := eventlogger.NewSqlEventLogger(db)
		for _, m := range []migrator{ledgerRepo, attachmentRepo, recentRepo, sqlLogger} {
			if err := m.Migrate(ctx); err != nil {
				printErrorAndExit("migrating database", err)
			}
		}
		repo, attachments, recent, evtlogger = ledgerRepo, attachmentRepo, recentRepo, sqlLogger
	}

	if cfg.AttachmentDir != "" {
		store, err := attachment.OpenBadger(cfg.AttachmentDir, cfg.MaxAttachmentBytes)
		if err != nil {
			printErrorAndExit("opening attachment store", err)
		}
		defer store.Close()
		attachments = store
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	worker := eventlogger.NewWorker(evtlogger, cfg.AuditBuffer)
	worker.Start()
	defer worker.Shutdown()

	ctrl := session.New(repo,
		session.WithAttachments(attachments),
		session.WithRecent(recent),
		session.WithAudit(worker),
		session.WithOverpayment(cfg.AllowOverpayment),
		session.WithMetrics(metrics.New(reg)),
		session.WithFailureHandler(func(m *session.Mutation, err error) {
			slog.Error("change was not saved and has been undone", "op", string(m.Op), "subject", m.Subject.String(), "error", err)
		}),
	)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newRouter(ctrl, worker, reg, cfg.MaxAttachmentBytes),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutting down server", "error", err)
		}
		if err := ctrl.Close(shutdownCtx); err != nil {
			slog.Error("waiting for pending changes", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("serving http", "error", err)
	}
}

func printErrorAndExit(msg string, e error) {
	slog.Error(msg, "error", e)
	os.Exit(1)
}
