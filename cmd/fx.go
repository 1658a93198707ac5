package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/appstronomer/umon/internal/adapter/mqtt"
	"github.com/appstronomer/umon/internal/adapter/service"
	"github.com/appstronomer/umon/internal/config"
	"github.com/appstronomer/umon/internal/domain/comm"
	"github.com/appstronomer/umon/internal/domain/db"
	"github.com/appstronomer/umon/internal/domain/model"
	httpfacade "github.com/appstronomer/umon/internal/handler/http"
	"github.com/appstronomer/umon/internal/handler/ws"
	"github.com/appstronomer/umon/internal/logging"
)

// NewApp wires the DI graph (§11): Config -> Store -> DB actor -> Comm actor
// -> MQTT Dist/Sub -> HTTP/WS façade, each actor started/stopped on its own
// goroutine by an fx.Lifecycle hook in dependency order.
func NewApp(addr string, cfg *config.Config) (*fx.App, func(context.Context) error, error) {
	logger, shutdownLog, err := logging.New(logging.Config{FilePath: "./umon.log"})
	if err != nil {
		return nil, nil, err
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			func() *slog.Logger { return logger },
			func() string { return addr },
			provideCredentials,
			provideStore,
			provideDBActor,
			provideCommActor,
			provideDist,
			provideCommService,
			provideDBService,
			provideHTTPHandler,
			provideWSHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)

	return app, func(ctx context.Context) error { return shutdownLog(ctx) }, nil
}

func provideCredentials(log *slog.Logger, cfg *config.Config) (*config.Credentials, error) {
	return config.LoadCredentials(log, cfg.Path.Cred)
}

func provideStore(cfg *config.Config) (*db.Store, error) {
	return db.OpenStore(cfg.DB.Path)
}

func topologyFromConfig(cfg *config.Config) db.Topology {
	topo := make(db.Topology, len(cfg.Groups))
	for gname, g := range cfg.Groups {
		units := make(map[model.Unit]db.UnitConfig, len(g.Units))
		for uname, u := range g.Units {
			units[model.Unit(uname)] = db.UnitConfig{CountMin: u.CountMin, CountMax: u.CountMax}
		}
		topo[model.Group(gname)] = units
	}
	return topo
}

func provideDBActor(log *slog.Logger, store *db.Store, cfg *config.Config, commActor *comm.Actor) (*db.Actor, error) {
	topo := topologyFromConfig(cfg)
	fwd := func(d model.Data[model.Record[model.Update]]) {
		commActor.Inbox() <- comm.NewFromDB(d)
	}
	return db.New(context.Background(), log, store, topo, cfg.DB.TxCountMax, fwd)
}

func provideCommActor(log *slog.Logger, cfg *config.Config, creds *config.Credentials) *comm.Actor {
	return comm.New(log, cfg.SessionDuration(), creds.Authenticate)
}

func provideDist(log *slog.Logger, cfg *config.Config, dbActor *db.Actor) *mqtt.Dist {
	var groups []mqtt.GroupConfig
	for gname, g := range cfg.Groups {
		units := make([]model.Unit, 0, len(g.Units))
		for uname := range g.Units {
			units = append(units, model.Unit(uname))
		}
		groups = append(groups, mqtt.GroupConfig{
			Group:  model.Group(gname),
			Broker: g.Broker,
			Topic:  g.Topic,
			QOS:    byte(g.QOS),
			Units:  units,
		})
	}
	return mqtt.NewDist(log, dbActor.Inbox(), groups)
}

func provideCommService(log *slog.Logger, commActor *comm.Actor) *service.Comm {
	return service.NewComm(log, commActor.Inbox())
}

func provideDBService(log *slog.Logger, dbActor *db.Actor) *service.Db {
	return service.NewDb(log, dbActor.Inbox())
}

func provideHTTPHandler(log *slog.Logger, commSvc *service.Comm, dbSvc *service.Db, creds *config.Credentials, cfg *config.Config) *httpfacade.Handler {
	return httpfacade.NewHandler(log, commSvc, dbSvc, creds, cfg.Dir.Public)
}

func provideWSHandler(log *slog.Logger, commSvc *service.Comm, dbSvc *service.Db, cfg *config.Config) *ws.Handler {
	return ws.NewHandler(log, commSvc, dbSvc, cfg.HeartbeatPeriod())
}

func provideServer(addr string, h *httpfacade.Handler, wsHandler *ws.Handler, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	h.Mount(r)
	r.Get("/ws", wsHandler.ServeHTTP)
	if cfg.Path.Public != "" {
		fileServer := http.FileServer(http.Dir(cfg.Path.Public))
		r.Handle("/*", fileServer)
	}
	return &http.Server{Addr: addr, Handler: r}
}

// registerLifecycle starts every actor on its own goroutine in dependency
// order (DB before Comm before MQTT before the HTTP/WS server), the way
// main.rs sequences process startup. On stop it cancels the MQTT bridge,
// shuts down the HTTP server, then sends Close to the DB actor and waits for
// it; the Comm actor's goroutine is not stopped.
func registerLifecycle(
	lc fx.Lifecycle, log *slog.Logger,
	dbActor *db.Actor, commActor *comm.Actor, dist *mqtt.Dist,
	srv *http.Server, creds *config.Credentials,
) {
	distCtx, cancelDist := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go runGoroutine(log, "db", func() { dbActor.Serve(context.Background()) })
			go runGoroutine(log, "comm", commActor.Serve)
			go runGoroutine(log, "mqtt-dist", func() { dist.Serve(distCtx) })
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelDist()
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("http server shutdown error", "error", err)
			}

			closeSig, done := db.NewClose()
			dbActor.Inbox() <- closeSig
			<-done

			_ = creds.Close()
			return nil
		},
	})
}

// runGoroutine matches the original's global panic hook: a panic in any
// actor's root goroutine is logged and the whole process exits rather than
// limping along with one dead actor.
func runGoroutine(log *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("actor goroutine panicked", "actor", name, "panic", r)
			os.Exit(1)
		}
	}()
	fn()
}
