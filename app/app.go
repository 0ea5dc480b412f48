package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/database"
	authhandler "github.com/tutorstack/authcore/handlers/auth"
	"github.com/tutorstack/authcore/middleware/ratelimit"
	"github.com/tutorstack/authcore/server"
	"github.com/tutorstack/authcore/services/cost"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/mail"
	"github.com/tutorstack/authcore/services/oauth"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"github.com/tutorstack/authcore/services/users"
)

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
}

// New assembles the full service graph: config, logging, storage
// (relational user records + Redis liveness state), the token/session/
// oauth/cost services, and the HTTP surface.
func New(customConfig *config.Config) *App {
	app := &App{}

	app.fx = fx.New(
		config.NewProvider(customConfig),
		logging.Module,
		fx.Provide(func() *database.ModelsOption {
			return database.WithModels(&users.User{}, &users.PasswordResetToken{})
		}),
		fx.Provide(database.ProvideDatabase),
		fx.Provide(database.NewRedis),
		token.Options,
		session.Options,
		oauth.Options,
		users.Options,
		cost.Options,
		mail.Options,
		ratelimit.Options,
		server.NewProvider(),
		authhandler.Options,
		fx.Populate(&app.config, &app.logger),
		fx.WithLogger(func(logger *logging.Service) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Logger()}
		}),
	)

	return app
}

func (a *App) Start() error {
	return a.fx.Start(context.Background())
}

func (a *App) Run() {
	if err := a.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	a.logger.Info("received shutdown signal, stopping gracefully")

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop application gracefully", zap.Error(err))
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logging.Service {
	return a.logger
}
