// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command jaild is the intrusion-prevention daemon: it loads a
// bootstrap config, brings up the jail runtime, and serves the
// control socket (plus optional HTTP status, Prometheus and SSH
// dashboard front-ends) until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"greywall.dev/jaild/internal/action"
	"greywall.dev/jaild/internal/audit"
	"greywall.dev/jaild/internal/banmanager"
	"greywall.dev/jaild/internal/config"
	"greywall.dev/jaild/internal/ctlsock"
	"greywall.dev/jaild/internal/filter"
	"greywall.dev/jaild/internal/httpapi"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/metrics"
	"greywall.dev/jaild/internal/server"
	"greywall.dev/jaild/internal/ssh"
	"greywall.dev/jaild/internal/store"
	"greywall.dev/jaild/internal/transmitter"
	"greywall.dev/jaild/internal/tui"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/jaild/jaild.hcl", "path to the bootstrap config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jaild: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "jaild: invalid config: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jaild: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logging.New(logging.Config{Level: level, Target: cfg.Logging.Target}))
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(version)
	collector := metrics.NewCollector()
	srv.SetMetricsSink(collector)

	auditLogger := audit.NewLogger(nil)
	srv.SetAuditSink(auditLogger)

	if cfg.Store != nil && cfg.Store.Enabled {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			log.Error("failed to open store, persistence disabled", "error", err)
		} else {
			srv.SetStore(st)
			auditLogger.SetSink(st)
			defer purgeOnExit(st, cfg.Store.PurgeAfterDays)
		}
	}

	if err := srv.Start(ctx); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	for _, seed := range cfg.SeedJails {
		if err := seedJail(srv, collector, seed); err != nil {
			log.Error("failed to seed jail", "jail", seed.Name, "error", err)
			continue
		}
		log.Info("jail started", "jail", seed.Name)
	}

	tr := transmitter.New(srv)
	ctl := ctlsock.New(tr)
	if err := ctl.Start(cfg.Socket); err != nil {
		log.Error("failed to start control socket", "error", err)
		os.Exit(1)
	}

	var httpSrv *httpapi.Server
	if cfg.HTTP != nil && cfg.HTTP.Enabled {
		httpSrv = httpapi.New(cfg.HTTP.Listen, srv, collector.Registry())
		httpSrv.Start()
	}

	var metricsSrv *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	var sshSrv *ssh.Server
	if cfg.SSH != nil && cfg.SSH.Enabled {
		backend := tui.NewBackend(srv, collector)
		sshSrv, err = ssh.NewServer(cfg.SSH, backend)
		if err != nil {
			log.Error("failed to build ssh dashboard", "error", err)
		} else if err := sshSrv.Start(ctx); err != nil {
			log.Error("failed to start ssh dashboard", "error", err)
		}
	}

	log.Info("jaild ready", "version", version, "socket", cfg.Socket)
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sshSrv != nil {
		_ = sshSrv.Stop(shutdownCtx)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if httpSrv != nil {
		_ = httpSrv.Stop(shutdownCtx)
	}
	_ = ctl.Stop(shutdownCtx)
	_ = srv.Quit(shutdownCtx)
}

// seedJail registers and starts one config-declared jail: it builds
// the filter from the seed's failregex list, a default iptables-style
// ban action when banaction is set, and wires the action's metrics
// sink.
func seedJail(srv *server.Server, collector *metrics.Collector, seed config.SeedJail) error {
	findTime := time.Duration(seed.FindTime) * time.Second
	if err := srv.AddJail(seed.Name, "polling", filter.Config{FindTime: findTime, MaxRetry: seed.MaxRetry, MaxLines: 1}, seed.MaxRetry, findTime, 0, int64(seed.BanTime)); err != nil {
		return err
	}

	j, f, _, bm, ok := srv.Jail(seed.Name)
	if !ok {
		return fmt.Errorf("jail %q vanished after AddJail", seed.Name)
	}
	for _, pattern := range seed.FailRegex {
		if err := f.AddFailRegex(pattern); err != nil {
			return fmt.Errorf("jail %q: %w", seed.Name, err)
		}
	}
	if seed.LogPath != "" {
		j.AddLogPath(seed.LogPath)
	}
	if inc := seed.Increment; inc != nil && inc.Enabled {
		bm.SetIncrementPolicy(banmanager.IncrementPolicy{
			Enabled:      true,
			Multipliers:  inc.Multipliers,
			Formula:      inc.Formula,
			Factor:       inc.Factor,
			RandTime:     int64(inc.RandTime),
			MaxTime:      inc.MaxTime,
			OverallJails: inc.OverallJails,
		})
		if inc.OverallJails {
			bm.SetBanCounts(srv.OverallBanCounts())
		}
	}

	if seed.BanAction != "" {
		act := newDefaultBanAction(seed.Name, seed.BanAction)
		act.SetMetricsSink(seed.Name, collector)
		if err := srv.SetJailActions(seed.Name, []action.Action{act}); err != nil {
			return err
		}
	}

	return srv.StartJail(seed.Name)
}

// newDefaultBanAction builds a generic per-jail iptables chain action,
// in the shape of fail2ban's bundled action.d/iptables-multiport.conf,
// for use until a real action definition is supplied over the control
// socket via `set <jail> addaction`.
func newDefaultBanAction(jailName, kind string) *action.CommandAction {
	chain := "jaild-" + jailName
	tmpl := action.CommandTemplates{
		Start:   fmt.Sprintf("iptables -N %s 2>/dev/null; iptables -I INPUT -j %s", chain, chain),
		Stop:    fmt.Sprintf("iptables -D INPUT -j %s; iptables -F %s; iptables -X %s", chain, chain, chain),
		Check:   fmt.Sprintf("iptables -L %s -n", chain),
		Ban:     fmt.Sprintf("iptables -I %s -s <ip> -j DROP", chain),
		Unban:   fmt.Sprintf("iptables -D %s -s <ip> -j DROP", chain),
		Timeout: 10 * time.Second,
	}
	return action.NewCommand(kind, tmpl, nil)
}

func purgeOnExit(st *store.Store, purgeAfterDays int) {
	if purgeAfterDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(purgeAfterDays) * 24 * time.Hour)
	if n, err := st.PurgeOlderThan(cutoff); err == nil && n > 0 {
		logging.WithComponent("main").Info("purged stale ban rows", "count", n)
	}
}
