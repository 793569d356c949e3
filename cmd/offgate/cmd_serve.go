package main

import (
	"context"
	"net/http"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/offgate"
	"github.com/dentflow/offgate/internal/proxy"
	"github.com/dentflow/offgate/internal/push"
	"github.com/dentflow/offgate/internal/store"
	"github.com/dentflow/offgate/internal/syncer"
	"github.com/dentflow/offgate/internal/worker"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `
The "serve" command installs the current cache version, sweeps partitions
left over from older versions and then serves portal traffic until
interrupted. While running it monitors connectivity, replays queued work when
the backend becomes reachable, periodically refreshes the events listing and
relays push notifications.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunServe(cmd.Context())
	},
}

// ServeOptions bundles all options for the serve command.
type ServeOptions struct {
	Listen          string
	Origin          string
	CacheDir        string
	StorePath       string
	Version         string
	PushURL         string
	ProbeInterval   time.Duration
	RefreshInterval time.Duration
}

var serveOptions ServeOptions

func init() {
	cmdRoot.AddCommand(cmdServe)

	f := cmdServe.Flags()
	f.StringVar(&serveOptions.Listen, "listen", "", "listen address (default: $OFFGATE_LISTEN)")
	f.StringVar(&serveOptions.Origin, "origin", "", "portal origin (default: $OFFGATE_ORIGIN)")
	f.StringVar(&serveOptions.CacheDir, "cache-dir", "", "cache directory (default: $OFFGATE_CACHE_DIR)")
	f.StringVar(&serveOptions.StorePath, "store", "", "durable store path (default: $OFFGATE_STORE_PATH)")
	f.StringVar(&serveOptions.Version, "cache-version", "", "cache version token (default: $OFFGATE_VERSION)")
	f.StringVar(&serveOptions.PushURL, "push-url", "", "push service websocket url (default: $OFFGATE_PUSH_URL)")
	f.DurationVar(&serveOptions.ProbeInterval, "probe-interval", 15*time.Second, "connectivity probe interval")
	f.DurationVar(&serveOptions.RefreshInterval, "refresh-interval", 5*time.Minute, "events refresh interval")
}

func loadServeConfig() (offgate.Config, error) {
	cfg, err := offgate.LoadConfig()
	if err != nil {
		return offgate.Config{}, err
	}

	if serveOptions.Listen != "" {
		cfg.ListenAddr = serveOptions.Listen
	}
	if serveOptions.Origin != "" {
		cfg.Origin = strings.TrimSuffix(serveOptions.Origin, "/")
	}
	if serveOptions.CacheDir != "" {
		cfg.CacheDir = serveOptions.CacheDir
	}
	if serveOptions.StorePath != "" {
		cfg.StorePath = serveOptions.StorePath
	}
	if serveOptions.Version != "" {
		cfg.VersionToken = serveOptions.Version
	}
	if serveOptions.PushURL != "" {
		cfg.PushServiceURL = serveOptions.PushURL
	}
	return cfg, nil
}

func RunServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	c, err := cache.New(cfg.CacheDir, cfg)
	if err != nil {
		return err
	}

	st := store.New(cfg.StorePath)
	defer st.Close()

	fetcher, err := proxy.New(cfg, c, st, nil)
	if err != nil {
		return err
	}

	hub := push.NewHub()
	hub.Opener = func(url string) error {
		if strings.HasPrefix(url, "/") {
			url = cfg.Origin + url
		}
		return exec.Command("xdg-open", url).Start()
	}

	router, err := push.NewRouter(hub, cfg.Origin, cfg.PortalRoot)
	if err != nil {
		return err
	}

	syn := syncer.New(cfg, st, nil, hub)
	w := worker.New(cfg, c, fetcher, syn, hub, router)

	hub.OnClick = func(click push.Click) {
		if _, err := w.Dispatch(ctx, worker.NotificationClick{Click: click}); err != nil {
			log.Warnf("click routing failed: %v", err)
		}
	}

	if _, err := w.Dispatch(ctx, worker.Install{}); err != nil {
		return err
	}
	if _, err := w.Dispatch(ctx, worker.Activate{}); err != nil {
		return err
	}

	front, err := proxy.NewHandler(w, cfg.Origin)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/", front)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	monitor := syncer.NewMonitor(cfg, nil, serveOptions.ProbeInterval)
	monitor.OnOnline = func(ctx context.Context) {
		if _, err := w.Dispatch(ctx, worker.Sync{Tag: "connectivity-restored"}); err != nil {
			log.Warnf("sync failed: %v", err)
		}
	}

	wg, wgCtx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		log.Infof("offgate %s listening on %s, fronting %s", version, cfg.ListenAddr, cfg.Origin)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	wg.Go(func() error {
		<-wgCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return w.Shutdown(shutdownCtx)
	})

	wg.Go(func() error {
		err := monitor.Run(wgCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	wg.Go(func() error {
		ticker := time.NewTicker(serveOptions.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-wgCtx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.Dispatch(wgCtx, worker.PeriodicSync{Tag: "refresh-events"}); err != nil {
					log.Warnf("events refresh failed: %v", err)
				}
			}
		}
	})

	if cfg.PushServiceURL != "" {
		listener := push.NewListener(cfg.PushServiceURL, func(ctx context.Context, payload []byte) {
			if _, err := w.Dispatch(ctx, worker.Push{Payload: payload}); err != nil {
				log.Warnf("push handling failed: %v", err)
			}
		})
		wg.Go(func() error {
			err := listener.Run(wgCtx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	} else {
		log.Infof("no push service configured, push handling disabled")
	}

	return wg.Wait()
}
