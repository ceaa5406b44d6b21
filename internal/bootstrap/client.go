package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/voice-client/internal/conn"
	"github.com/eleven-am/voice-client/internal/playback"
	"github.com/eleven-am/voice-client/internal/session"
	"go.uber.org/fx"
)

func ProvideConnManager(cfg *Config, log *slog.Logger) (*conn.Manager, error) {
	endpoint, err := conn.DeriveEndpoint(cfg.BackendURL)
	if err != nil {
		return nil, err
	}
	return conn.NewManager(conn.Config{
		Endpoint:             endpoint,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		RecoveryHeartbeats:   cfg.RecoveryHeartbeats,
		BackoffBase:          cfg.BackoffBase,
		BackoffGrowth:        cfg.BackoffGrowth,
		BackoffMax:           cfg.BackoffMax,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		DialTimeout:          cfg.DialTimeout,
	}, nil, log), nil
}

func ProvidePlayer(cfg *Config, log *slog.Logger) playback.Player {
	if !cfg.AudioEnabled {
		log.Info("audio output disabled")
		return playback.NopPlayer{}
	}
	return playback.NewDevicePlayer(playback.DeviceConfig{
		SampleRate: cfg.AudioSampleRate,
		Channels:   cfg.AudioChannels,
	}, log)
}

func ProvideScheduler(player playback.Player, log *slog.Logger) *playback.Scheduler {
	return playback.NewScheduler(player, log)
}

func ProvideSession(
	cfg *Config,
	mgr *conn.Manager,
	sched *playback.Scheduler,
	console *Console,
	log *slog.Logger,
) *session.Session {
	return session.New(session.Config{
		HistoryLimit: cfg.HistoryLimit,
	}, mgr, sched, console.Listener(), log)
}

func StartSession(lc fx.Lifecycle, sess *session.Session) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sess.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sess.Close()
		},
	})
}

var ClientModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideConnManager,
		ProvidePlayer,
		ProvideScheduler,
		ProvideSession,
	),
	fx.Invoke(StartSession),
)
