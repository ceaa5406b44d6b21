package bootstrap

import (
	"context"
	"net/http"

	"github.com/eleven-am/voice-client/internal/session"
	"github.com/eleven-am/voice-client/internal/status"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
)

const version = "1.0.0"

func NewEchoServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return e
}

func ProvideStatusHandler(sess *session.Session) *status.Handler {
	return status.NewHandler(sess, version)
}

func RegisterStatusRoutes(e *echo.Echo, h *status.Handler) {
	h.RegisterRoutes(e)
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.StatusAddr); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var ServerModule = fx.Options(
	fx.Provide(
		NewEchoServer,
		ProvideStatusHandler,
	),
	fx.Invoke(
		RegisterStatusRoutes,
		StartServer,
	),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		ClientModule,
		ConsoleModule,
		ServerModule,
	).Run()
}
