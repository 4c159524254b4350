package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/tcriess/geonote-chat/bot"
	"github.com/tcriess/geonote-chat/cache"
	"github.com/tcriess/geonote-chat/config"
	"github.com/tcriess/geonote-chat/filter"
	"github.com/tcriess/geonote-chat/globals"
	"github.com/tcriess/geonote-chat/persistence"
	"github.com/tcriess/geonote-chat/providers"
	"github.com/tcriess/geonote-chat/room"
	"github.com/tcriess/geonote-chat/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

// cronLogger adapts hclog to the cron logger interface.
type cronLogger struct {
	hclog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, append(keysAndValues, "error", err)...)
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister != nil {
		defer persister.Close()
	}

	images, err := cache.NewImages(globalConfig.CacheConfig.Size, persister)
	if err != nil {
		panic(err)
	}
	scorer, err := providers.NewScoreProvider(globalConfig.ProvidersConfig)
	if err != nil {
		panic(err)
	}
	generator := providers.NewImageProvider(globalConfig.ProvidersConfig)

	relay, err := filter.Compile(globalConfig.RelayConfig.Filter)
	if err != nil {
		panic(err)
	}

	registry := room.NewRegistry(
		room.WithStrict(globalConfig.RoomsConfig.Strict),
		room.WithRetainEmptyPrivate(globalConfig.RoomsConfig.RetainEmptyPrivate),
	)
	defer registry.Close()

	b := bot.New(registry, nil, generator, scorer, images, bot.WithRelayFilter(relay))
	server, err := ws.NewServer(globalConfig, b)
	if err != nil {
		panic(err)
	}
	b.SetNotifier(server)

	logger := globals.AppLogger.Named("cron")
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	if spec := globalConfig.RoomsConfig.SweepSpec; spec != "" && globalConfig.RoomsConfig.RetainEmptyPrivate {
		_, err := cronRunner.AddFunc(spec, func() {
			if n := registry.Sweep(); n > 0 {
				logger.Info("removed empty rooms", "rooms", n)
			}
		})
		if err != nil {
			panic(err)
		}
	}
	if spec := globalConfig.RoomsConfig.StatsSpec; spec != "" {
		_, err := cronRunner.AddFunc(spec, func() {
			stats := registry.Stats()
			logger.Info("rooms", "rooms", stats.Rooms, "public", stats.PublicRooms, "members", stats.Members,
				"connections", server.NoClients())
		})
		if err != nil {
			panic(err)
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	httpServer := &http.Server{
		Addr:    globalConfig.Addr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		globals.AppLogger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			globals.AppLogger.Error("could not shut down http server", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", globalConfig.Addr)
	// start HTTP server
	if *sslCert != "" && *sslKey != "" {
		err = httpServer.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = httpServer.ListenAndServe()
	}
	if !errors.Is(err, http.ErrServerClosed) {
		globals.AppLogger.Error("stopped listening", "error", err)
	}
}
