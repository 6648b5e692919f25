package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/bugrelay/auth-service/internal/config"
	"github.com/bugrelay/auth-service/internal/observability"
)

// App bundles everything the run loop needs to start and tear down the
// process in order.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, db *gorm.DB, rdb redis.UniversalClient, runtime *observability.Runtime) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		DB:            db,
		Redis:         rdb,
		Observability: runtime,
	}
}
