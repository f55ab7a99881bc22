package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"harborview/api/internal/app"
	"harborview/api/internal/authpw"
	"harborview/api/internal/blob"
	"harborview/api/internal/config"
	"harborview/api/internal/email"
	"harborview/api/internal/export"
	"harborview/api/internal/identity"
	"harborview/api/internal/search"
	"harborview/api/internal/session"
	"harborview/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	pg := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer sessions.Close()

	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	defer meili.Close()
	searchSvc := search.NewService(meili, search.NewPgFTS(db))
	go searchSvc.ReindexAllFromPG(ctx)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf(`{"event":"email_disabled","reason":"smtp not configured"}`)
	}

	var photos *blob.Service
	if cfg.MinioEndpoint != "" {
		photos, err = blob.NewService(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("connect object storage: %v", err)
		}
	} else {
		log.Printf(`{"event":"photos_disabled","reason":"minio endpoint not configured"}`)
	}

	resolver := identity.NewResolver(pg, pg, pg, sessions, cfg.ImpersonateTTL)

	service := app.New(
		cfg,
		pg,
		sessions,
		resolver,
		authpw.NewService(pg),
		searchSvc,
		export.NewService(pg),
		mailer,
		photos,
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf(`{"event":"listening","addr":"%s"}`, cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf(`{"event":"shutdown_error","error":"%v"}`, err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}
}
