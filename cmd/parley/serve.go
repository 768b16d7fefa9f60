package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/parleyhq/parley/internal/channel"
	"github.com/parleyhq/parley/internal/channel/adapters/telegram"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/db"
	"github.com/parleyhq/parley/internal/delivery"
	"github.com/parleyhq/parley/internal/handlers"
	"github.com/parleyhq/parley/internal/ingest"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/message"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/server"
	"github.com/parleyhq/parley/internal/users"
	"github.com/parleyhq/parley/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and inbound pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			fx.New(
				fx.Provide(
					func() (config.Config, error) { return config.Load(configPath) },
					provideLogger,
					provideDBConn,
					provideRedisClient,
					provideLimiter,
					provideSender,
					provideGenerator,

					users.NewService,
					conversation.NewService,
					message.NewService,
					provideCoordinator,
					chat.NewRegistry,
					provideDefaultHandler,
					provideProcessor,

					provideServerHandler(handlers.NewPingHandler),
					provideServerHandler(handlers.NewUsersHandler),
					provideServerHandler(handlers.NewMessageHandler),
					provideServerHandler(provideWebhookHandler),

					provideServer,
				),
				fx.Invoke(
					finalizeRegistry,
					startProcessor,
					startServer,
				),
				fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
					return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
				}),
			).Run()
			return nil
		},
	}
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

func provideLimiter(log *slog.Logger, cfg config.Config, client *redis.Client) *ratelimit.Limiter {
	return ratelimit.NewLimiter(log, client, cfg.RateLimit.MaxPerMinute, cfg.RateLimit.Window())
}

// provideSender wires the outbound channel adapter. Without a Telegram token
// sends go to the log only, which keeps local runs working.
func provideSender(log *slog.Logger, cfg config.Config) (channel.Sender, error) {
	if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
		log.Warn("telegram bot token not configured, outbound sends are logged only")
		return channel.SendFunc(func(ctx context.Context, recipientID string, part channel.Part) error {
			log.Info("outbound part",
				slog.String("recipient_id", recipientID),
				slog.String("text", part.Summary()),
			)
			return nil
		}), nil
	}
	sender, err := telegram.NewSender(log, cfg.Telegram.BotToken)
	if err != nil {
		return nil, err
	}
	return channel.WithRetry(log, sender, channel.RetryPolicy{}), nil
}

func provideGenerator(cfg config.Config) (chat.Generator, error) {
	return chat.NewHTTPGenerator(cfg.Generator)
}

func provideCoordinator(log *slog.Logger, cfg config.Config, sender channel.Sender, messages *message.Service) *delivery.Coordinator {
	return delivery.NewCoordinator(log, sender, messages, cfg.Delivery.PartDelay())
}

func provideDefaultHandler(log *slog.Logger, cfg config.Config, messages *message.Service, generator chat.Generator) *chat.DefaultHandler {
	return chat.NewDefaultHandler(log, messages, generator, cfg.Generator.MaxRetries)
}

func provideProcessor(log *slog.Logger, cfg config.Config, limiter *ratelimit.Limiter, registry *chat.Registry, coordinator *delivery.Coordinator, sender channel.Sender) *ingest.Processor {
	return ingest.NewProcessor(log, limiter, registry, coordinator, sender, cfg.Ingest.Workers, cfg.Ingest.QueueSize)
}

func provideWebhookHandler(cfg config.Config, processor *ingest.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(processor, cfg.Server.WebhookSecret)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// finalizeRegistry installs the built-in handler and closes registration
// before any traffic can reach the pipeline.
func finalizeRegistry(registry *chat.Registry, handler *chat.DefaultHandler) error {
	if err := registry.SetDefault(handler); err != nil {
		return err
	}
	return registry.Finalize()
}

func startProcessor(lc fx.Lifecycle, processor *ingest.Processor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			processor.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			processor.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Parley %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
