package daemon

import (
	"fmt"
	"os"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/config"
	"github.com/hashim-i222478/chatlink/internal/dispatch"
	"github.com/hashim-i222478/chatlink/internal/logging"
	"github.com/hashim-i222478/chatlink/internal/outbox"
	"github.com/hashim-i222478/chatlink/internal/profile"
	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/status"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params identifies the session this daemon instance runs for.
type Params struct {
	SessionName string
}

// Module assembles the daemon for one session: store, realtime connection,
// dispatcher, outbox sender, and the control API.
func Module(p Params) fx.Option {
	return fx.Options(
		fx.Supply(p),
		fx.Provide(
			newConfig,
			newLogger,
			bus.New,
			status.NewMachine,
			newDB,
			newManager,
			newProfileClient,
			newDispatcher,
			profile.NewSyncer,
			newSender,
			newServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func newConfig() *config.Config {
	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil && os.IsNotExist(err) {
		// First run: persist the defaults so they are discoverable.
		_ = config.Save(path, cfg)
	}
	return cfg
}

func newLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func newDB(p Params, logger *zap.Logger) (*store.DB, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := store.Open(session.CacheDBPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	res, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	if res.Changed {
		logger.Info("cache schema migrated", zap.Uint("version", res.Version))
	}
	return db, nil
}

func newManager(cfg *config.Config, machine *status.Machine, logger *zap.Logger) *ws.Manager {
	return ws.NewManager(cfg.Server.WebSocketURL, machine, cfg.Reconnect, logger)
}

func newProfileClient(cfg *config.Config, logger *zap.Logger) *profile.Client {
	return profile.NewClient(cfg.Server.APIBaseURL, logger)
}

func newDispatcher(db *store.DB, b *bus.Bus, m *ws.Manager, client *profile.Client, logger *zap.Logger) *dispatch.Dispatcher {
	d := dispatch.New(db, b, m, client, logger)
	m.SetDispatcher(d)
	return d
}

func newSender(db *store.DB, machine *status.Machine, m *ws.Manager, client *profile.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, machine, m, client, b, logger)
}
