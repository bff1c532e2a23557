package app

import (
	"context"
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/docstore"
	"github.com/parleyhq/parley/internal/docstore/memstore"
	"github.com/parleyhq/parley/internal/docstore/mongostore"
	"github.com/parleyhq/parley/internal/docstore/sqlstore"
	"github.com/parleyhq/parley/internal/genai"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/presence/memps"
	"github.com/parleyhq/parley/internal/presence/redisps"
	"github.com/parleyhq/parley/internal/reconcile"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/upload"
	"github.com/parleyhq/parley/internal/upload/s3store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	UIDOverride string // optional --uid override for the acting identity
}

// selfUID resolves the acting user id: the --uid flag wins over config.
func selfUID(p Params) string {
	if p.UIDOverride != "" {
		return p.UIDOverride
	}
	return p.Config.Identity.UID
}

// Module returns the fx module for a chat session, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePresence,
			provideUploader,
			provideGenerator,
			provideFetcher,
			provideReconciler,
			provideDispatcher,
			provideAssistant,
			NewConsole,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*session.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := session.AcquireLock(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (docstore.Store, error) {
	switch p.Config.Store.Driver {
	case "memory":
		logger.Info("store initialized", zap.String("driver", "memory"))
		return memstore.New(), nil
	case "sqlite", "":
		if err := session.EnsureDir(p.SessionName); err != nil {
			return nil, err
		}
		dbPath := session.DBPath(p.SessionName)
		st, err := sqlstore.Open(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("driver", "sqlite"), zap.String("path", dbPath))
		return st, nil
	case "mongo":
		st, err := mongostore.Open(context.Background(), p.Config.Store.DSN, p.Config.Store.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("driver", "mongo"), zap.String("database", p.Config.Store.Database))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", p.Config.Store.Driver)
	}
}

func providePresence(p Params, logger *zap.Logger) (presence.Store, presence.Writer, error) {
	switch p.Config.Presence.Driver {
	case "memory", "":
		ps := memps.New()
		return ps, ps, nil
	case "redis":
		ps, err := redisps.Open(context.Background(), p.Config.Presence.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("presence store connected", zap.String("driver", "redis"))
		return ps, ps, nil
	default:
		return nil, nil, fmt.Errorf("unknown presence driver %q", p.Config.Presence.Driver)
	}
}

func provideUploader(p Params, logger *zap.Logger) (upload.Uploader, error) {
	switch p.Config.Upload.Driver {
	case "none", "":
		return upload.Disabled{}, nil
	case "s3":
		up, err := s3store.Open(context.Background(), s3store.Options{
			Bucket:  p.Config.Upload.Bucket,
			Region:  p.Config.Upload.Region,
			BaseURL: p.Config.Upload.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("uploader ready", zap.String("driver", "s3"), zap.String("bucket", p.Config.Upload.Bucket))
		return up, nil
	default:
		return nil, fmt.Errorf("unknown upload driver %q", p.Config.Upload.Driver)
	}
}

func provideGenerator(p Params) *genai.Client {
	return genai.New(genai.Options{
		BaseURL:     p.Config.Assistant.BaseURL,
		APIKey:      p.Config.Assistant.APIKey,
		TextModel:   p.Config.Assistant.TextModel,
		VisionModel: p.Config.Assistant.VisionModel,
	})
}

func provideFetcher() *genai.HTTPFetcher {
	return genai.NewFetcher()
}

func provideReconciler(p Params, st docstore.Store, ps presence.Store, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(st, ps, b, logger, selfUID(p))
}

func provideDispatcher(p Params, st docstore.Store, up upload.Uploader, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	sender := dispatch.Sender{
		UID:      selfUID(p),
		Name:     p.Config.Identity.Name,
		PhotoURL: p.Config.Identity.PhotoURL,
	}
	return dispatch.New(st, up, sender, b, logger)
}

func provideAssistant(p Params, st docstore.Store, d *dispatch.Dispatcher, gen *genai.Client, f *genai.HTTPFetcher, b *bus.Bus, logger *zap.Logger) *assistant.Controller {
	return assistant.New(st, d, gen, f, b, logger, selfUID(p))
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, p Params, con *Console, rec *reconcile.Reconciler, st docstore.Store, ps presence.Store, pw presence.Writer, lk *session.Lock, b *bus.Bus, logger *zap.Logger) {
	uid := selfUID(p)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Standing subscriptions (users, groups, conversations) come
			// up before the console accepts commands.
			if err := rec.Start(context.Background()); err != nil {
				return err
			}

			if err := pw.SetStatus(context.Background(), uid, model.PresenceRecord{
				Status:      model.StatusOnline,
				LastChanged: time.Now(),
			}); err != nil {
				logger.Warn("presence online write failed", zap.Error(err))
			}

			// Run the console in background; when it returns (quit or
			// stdin EOF) the whole app shuts down.
			go func() {
				if err := con.Run(context.Background()); err != nil {
					logger.Error("console error", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()

			logger.Info("session started", zap.String("uid", uid))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			con.Stop()
			if err := pw.SetStatus(ctx, uid, model.PresenceRecord{
				Status:      model.StatusOffline,
				LastChanged: time.Now(),
			}); err != nil {
				logger.Warn("presence offline write failed", zap.Error(err))
			}
			rec.Stop()
			if err := st.Close(ctx); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := ps.Close(); err != nil {
				logger.Warn("error closing presence store", zap.Error(err))
			}
			b.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("session stopped")
			return nil
		},
	})
}
