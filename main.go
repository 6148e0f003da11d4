package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"jkbox/internal/api"
	"jkbox/internal/games"
	"jkbox/internal/games/buzzer"
	"jkbox/internal/models"
	"jkbox/internal/repository"
	"jkbox/internal/service"
	"jkbox/internal/storage"
	"jkbox/internal/utils"
	"jkbox/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	utils.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repos *repository.Repositories
	switch cfg.DB.Driver {
	case "memory":
		log.Warn().Msg("using in-memory room store, rooms will not survive a restart")
		repos = repository.NewMemoryRepositories()
	default:
		db, err := storage.NewPostgresDB(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize database")
		}
		defer db.Close()

		if err := db.AutoMigrate(&models.RoomRecord{}); err != nil {
			log.Fatal().Err(err).Msg("failed to auto migrate database")
		}
		repos = repository.NewRepositories(db)
	}

	registry := games.NewRegistry()
	registry.Register(buzzer.Info, buzzer.New)

	services := service.NewServices(repos, registry, cfg)
	if _, err := services.RoomManager.Recover(cfg.Room.StalenessThreshold); err != nil {
		log.Fatal().Err(err).Msg("failed to recover rooms")
	}
	services.SessionService.Start(ctx)
	defer services.SessionService.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRoutes(ctx, r, services, cfg.Server.AllowedOrigins, cfg.Server.PublicURL)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Address).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
