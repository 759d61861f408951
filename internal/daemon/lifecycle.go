package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hashim-i222478/chatlink/internal/bus"
	"github.com/hashim-i222478/chatlink/internal/config"
	"github.com/hashim-i222478/chatlink/internal/dispatch"
	"github.com/hashim-i222478/chatlink/internal/lock"
	"github.com/hashim-i222478/chatlink/internal/outbox"
	"github.com/hashim-i222478/chatlink/internal/profile"
	"github.com/hashim-i222478/chatlink/internal/session"
	"github.com/hashim-i222478/chatlink/internal/store"
	"github.com/hashim-i222478/chatlink/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type lifecycleDeps struct {
	fx.In

	Params     Params
	Config     *config.Config
	Logger     *zap.Logger
	Bus        *bus.Bus
	DB         *store.DB
	Manager    *ws.Manager
	Dispatcher *dispatch.Dispatcher
	Client     *profile.Client
	Syncer     *profile.Syncer
	Sender     *outbox.Sender
	Server     *Server
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var (
		sessionLock *lock.Lock
		listener    net.Listener
		httpServer  *http.Server
		cancel      context.CancelFunc
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			name := d.Params.SessionName

			l, err := lock.Acquire(session.Dir(name))
			if err != nil {
				return err
			}
			sessionLock = l

			sockPath := session.SocketPath(name)
			_ = os.Remove(sockPath)
			ln, err := net.Listen("unix", sockPath)
			if err != nil {
				return err
			}
			if err := os.Chmod(sockPath, 0600); err != nil {
				_ = ln.Close()
				return err
			}
			listener = ln
			httpServer = &http.Server{Handler: d.Server.Handler()}
			go func() {
				if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
					d.Logger.Error("control server stopped", zap.Error(err))
				}
			}()
			d.Logger.Info("control socket listening", zap.String("path", sockPath))

			runCtx, c := context.WithCancel(context.Background())
			cancel = c
			go d.Sender.Run(runCtx)
			go watchForceLogout(runCtx, d)

			connectStoredIdentity(d)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if httpServer != nil {
				_ = httpServer.Shutdown(ctx)
			}
			if listener != nil {
				_ = listener.Close()
			}
			d.Manager.Disconnect()
			if err := d.DB.Close(); err != nil {
				d.Logger.Error("failed to close cache db", zap.Error(err))
			}
			if err := sessionLock.Release(); err != nil {
				d.Logger.Error("failed to release session lock", zap.Error(err))
			}
			_ = d.Logger.Sync()
			return nil
		},
	})
}

// connectStoredIdentity dials with the persisted credentials, if any. A
// missing identity or an expired token leaves the daemon logged out; a
// failed dial leaves it disconnected. Both are recoverable through the
// control API.
func connectStoredIdentity(d lifecycleDeps) {
	id, err := session.LoadIdentity(d.Params.SessionName)
	if err != nil {
		if err != session.ErrNoIdentity {
			d.Logger.Warn("failed to read credentials", zap.Error(err))
		}
		return
	}
	if id.TokenExpired(time.Now()) {
		d.Logger.Warn("stored token expired, staying logged out", zap.String("user_id", id.UserID))
		return
	}

	d.Client.SetToken(id.Token)
	d.Dispatcher.SetIdentity(id.UserID)
	d.Sender.SetIdentity(id.UserID, id.Username)

	if err := d.Manager.Connect(id); err != nil {
		d.Logger.Warn("initial connect failed", zap.Error(err), zap.String("user_id", id.UserID))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := d.Syncer.Refresh(ctx); err != nil {
			d.Logger.Warn("friends refresh on startup failed", zap.Error(err))
		}
	}()
}

// watchForceLogout waits for a server-initiated logout and tears the session
// down after the configured delay. The delay gives frontends time to show
// the prompt; conversations and messages survive, credentials and
// server-derived caches do not.
func watchForceLogout(ctx context.Context, d lifecycleDeps) {
	ch, unsub := d.Bus.Subscribe(bus.KindSessionForceLogout, 4)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			delay := d.Config.Session.ForceLogoutDelay.Std()
			d.Logger.Warn("force logout scheduled", zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			d.Server.teardownSession()
		}
	}
}
