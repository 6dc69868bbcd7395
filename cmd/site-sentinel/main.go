package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Will-Luck/Site-Sentinel/internal/action"
	"github.com/Will-Luck/Site-Sentinel/internal/agent"
	"github.com/Will-Luck/Site-Sentinel/internal/clock"
	"github.com/Will-Luck/Site-Sentinel/internal/config"
	"github.com/Will-Luck/Site-Sentinel/internal/events"
	"github.com/Will-Luck/Site-Sentinel/internal/install"
	"github.com/Will-Luck/Site-Sentinel/internal/logging"
	"github.com/Will-Luck/Site-Sentinel/internal/metrics"
	"github.com/Will-Luck/Site-Sentinel/internal/notify"
	"github.com/Will-Luck/Site-Sentinel/internal/store"
	"github.com/Will-Luck/Site-Sentinel/internal/web"
	"github.com/Will-Luck/Site-Sentinel/internal/window"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcli"
	"github.com/Will-Luck/Site-Sentinel/internal/wpcron"
)

var version = "dev"

const (
	historyPruneSchedule = "@hourly"
	textfileInterval     = 15 * time.Second
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewWithLevel(cfg.LogJSON, cfg.LogLevel)

	fmt.Println("Site-Sentinel " + version)
	fmt.Println("=============================================")
	fmt.Printf("SITESENTINEL_WP_PATH=%s\n", cfg.WPPath)
	fmt.Printf("SITESENTINEL_WORKERS=%d\n", cfg.Workers)
	fmt.Printf("SITESENTINEL_CRON_WORKERS=%d\n", cfg.CronWorkers)
	fmt.Printf("SITESENTINEL_CRON_STRATEGY=%s\n", cfg.CronStrategy)
	fmt.Printf("SITESENTINEL_DB_PATH=%s\n", cfg.DBPath)
	fmt.Printf("SITESENTINEL_WEB_ENABLED=%t\n", cfg.WebEnabled)
	fmt.Printf("SITESENTINEL_WEB_PORT=%s\n", cfg.WebPort)

	if err := run(cfg, log); err != nil {
		log.Error("site-sentinel exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("site-sentinel shutdown complete")
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	components, err := config.LoadComponents(cfg.ComponentsFile)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clk := clock.Real{}
	bus := events.New()
	notifier := notify.NewMulti(log, buildNotifiers(cfg, log)...)

	cli := wpcli.NewClient(wpcli.NewRunner(cfg.WPCLI, cfg.WPPath, cfg.CommandTimeout, log))

	history := agent.NewHistory(db, bus, log)
	actions := newScheduler("actions", cfg.Workers, cfg, history, log, clk)
	cronSched := newScheduler("cron", cfg.CronWorkers, cfg, history, log, clk)

	source := wpcron.NewCLISource(cli, cfg.CacheTTL, clk)
	var (
		scanner wpcron.Scanner
		period  time.Duration
	)
	switch cfg.CronStrategy {
	case "roundrobin":
		rr := wpcron.NewRoundRobin(source, cronSched, cfg.CronTimeout, log, clk)
		rr.SetSpread(cfg.CronJitter)
		scanner = rr
		period = cfg.CronPollPeriod
	default:
		scanner = wpcron.NewLowLatency(source, cronSched, cfg.CronCoalesce, cfg.CronTimeout, log, clk)
		period = cfg.CronScanPeriod
	}
	dispatcher := wpcron.NewDispatcher(scanner, period, log, clk)
	dispatcher.SetPublisher(bus)

	ctrl := install.NewController(install.NewCLIComponents(cli, cfg.CacheTTL, clk), cli, db, bus,
		cfg.ContentDir, cfg.ActionTimeout, log)

	jobs := agent.New(log)
	if cfg.InstallSchedule != "" {
		if err := jobs.Add(cfg.InstallSchedule, agent.NewAutoInstall(source, components, ctrl, actions, log)); err != nil {
			return err
		}
	}
	if cfg.CoreUpdateSchedule != "" {
		win, err := window.ParseWindow(cfg.CoreUpdateWindow)
		if err != nil {
			return err
		}
		job := agent.NewCoreUpdate(win, cli, actions, bus, db, cfg.ActionTimeout, log, clk)
		if err := jobs.Add(cfg.CoreUpdateSchedule, job); err != nil {
			return err
		}
	}
	if err := jobs.Add(historyPruneSchedule, agent.NewHistoryPrune(db, cfg.HistoryKeep, log)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return jobs.Run(gctx) })
	g.Go(func() error {
		notify.Forward(gctx, bus, notifier, append(changeEvents, events.TypeAction)...)
		return nil
	})
	if cfg.MetricsTextfile != "" {
		g.Go(func() error {
			metrics.RunTextfile(gctx, cfg.MetricsTextfile, textfileInterval, func(err error) {
				log.Warn("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
			})
			return nil
		})
	}
	if cfg.WebEnabled {
		srv := web.NewServer(web.Dependencies{
			Schedulers: []web.SchedulerStats{actions, cronSched},
			Cron:       dispatcher,
			Jobs:       jobs,
			History:    db,
			Suppressed: db,
			EventBus:   bus,
			Log:        log.Logger,
		})
		g.Go(func() error {
			err := srv.ListenAndServe(net.JoinHostPort("", cfg.WebPort))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("site-sentinel started", "version", version, "components", len(components), "notifiers", notifier.Names())
	runErr := g.Wait()

	// Both pools drain in parallel so shutdown takes at most one grace period.
	var drain errgroup.Group
	drain.Go(actions.Shutdown)
	drain.Go(cronSched.Shutdown)
	if err := drain.Wait(); err != nil {
		log.Warn("scheduler shutdown forced", "error", err)
	}
	return runErr
}

func newScheduler(name string, workers int, cfg *config.Config, obs action.Observer, log *logging.Logger, clk clock.Clock) *action.Scheduler {
	s := action.NewScheduler(name, workers, log, clk)
	s.SetGracePeriod(cfg.ShutdownGrace)
	s.SetObserver(obs)
	return s
}

// changeEvents are the events every notifier relays. MQTT also carries
// finished actions, one topic per type.
var changeEvents = []events.Type{events.TypeInstalled, events.TypeUpdated, events.TypeCoreUpdated}

func buildNotifiers(cfg *config.Config, log *logging.Logger) []notify.Notifier {
	notifiers := []notify.Notifier{notify.NewFiltered(notify.NewLogNotifier(log), changeEvents...)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewFiltered(notify.NewWebhook(cfg.WebhookURL, cfg.WebhookHeaders), changeEvents...))
		log.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	}
	if cfg.MQTTBroker != "" {
		notifiers = append(notifiers, notify.NewMQTT(notify.MQTTSettings{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		}))
		log.Info("mqtt notifications enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
	}
	return notifiers
}
