package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/softcrew/crewd/internal/agent"
	"github.com/softcrew/crewd/internal/backend"
	"github.com/softcrew/crewd/internal/collab"
	"github.com/softcrew/crewd/internal/config"
	"github.com/softcrew/crewd/internal/natsbus"
	"github.com/softcrew/crewd/internal/notify"
	"github.com/softcrew/crewd/internal/router"
	"github.com/softcrew/crewd/internal/sandbox"
	"github.com/softcrew/crewd/internal/scheduler"
	"github.com/softcrew/crewd/internal/store"
	"github.com/softcrew/crewd/internal/vault"
	"github.com/softcrew/crewd/internal/web"
	"github.com/softcrew/crewd/internal/workflow"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("crewd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crewd <command>

Commands:
  gateway    Start the crewd gateway service
  backup     Archive the data directory to a .tar.zst file
  restore    Restore the data directory from a .tar.zst file
  version    Print version
`)
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting crewd gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	completer, err := backend.New(cfg.Backend, bus)
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}

	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	workspace := filepath.Join(filepath.Dir(cfg.Store.Path), "workspace")
	dispatcher := agent.NewDispatcher()
	dispatcher.Register(agent.ActionWriteFile, agent.NewWriteFileHandler(workspace))

	if cfg.Sandbox.Enabled {
		sb, err := sandbox.NewRunner(cfg.Sandbox)
		if err != nil {
			return fmt.Errorf("init sandbox: %w", err)
		}
		dispatcher.Register(agent.ActionRunCommand, sandbox.NewRunCommandHandler(sb))
		slog.Info("sandbox enabled", "image", cfg.Sandbox.Image)
	} else {
		slog.Warn("sandbox disabled, run_command actions will fail")
	}

	roster := agent.NewRoster(cfg.Backend.Model, completer, dispatcher, db)
	if err := roster.Sync(cfg.Roster.Agents); err != nil {
		return fmt.Errorf("sync roster: %w", err)
	}
	dispatcher.Register(agent.ActionStoreSet, agent.NewStoreSetHandler(db, "shared"))
	for _, a := range roster.List() {
		if err := a.Initialize(ctx); err != nil {
			slog.Warn("agent initialization failed", "agent", a.ID, "error", err)
		}
	}
	slog.Info("roster synced", "agents", len(roster.List()))

	orch := collab.New(roster, db, client)
	runner := workflow.NewRunner(db, client, roster, cfg.Router.DefaultAgent)

	sched := scheduler.New(db, runner, client, cfg.Scheduler)
	go sched.Start(ctx)

	rtr := router.New(roster, completer, cfg.Backend.Model, cfg.Router)

	if cfg.Notify.TelegramToken != "" {
		notifier, err := notify.New(cfg.Notify)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		dispatcher.Register(agent.ActionNotify, notify.NewNotifyHandler(notifier))
		if _, err := notifier.WatchEvents(client); err != nil {
			slog.Warn("event notifications unavailable", "error", err)
		}
		slog.Info("notifications enabled")
	} else {
		slog.Warn("telegram token not set, notifications disabled")
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, roster, orch, runner, sched, rtr, v, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			reload(cfg, roster, sched, rtr)
			continue
		}
		slog.Info("shutting down", "signal", sig)
		cancel()
		return nil
	}
}

// reload applies config changes that are safe to pick up at runtime: the
// roster, the scheduler poll interval, and the router default.
func reload(old *config.Config, roster *agent.Roster, sched *scheduler.Scheduler, rtr *router.Router) {
	fresh, err := config.Load()
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return
	}

	diff := config.Compare(old, fresh)
	if len(diff.NonReloadable) > 0 {
		slog.Warn("config changes require a restart", "settings", diff.NonReloadable)
	}

	if len(diff.AgentsAdded)+len(diff.AgentsRemoved)+len(diff.AgentsChanged) > 0 {
		if err := roster.Sync(fresh.Roster.Agents); err != nil {
			slog.Error("roster reload failed", "error", err)
		} else {
			slog.Info("roster reloaded",
				"added", diff.AgentsAdded, "removed", diff.AgentsRemoved, "changed", diff.AgentsChanged)
		}
	}

	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewScheduler.PollInterval)
		slog.Info("scheduler reloaded", "poll_interval", diff.NewScheduler.PollInterval)
	}

	if diff.RouterChanged {
		rtr.SetDefaultAgent(diff.NewDefaultAgent)
		slog.Info("router reloaded", "default_agent", diff.NewDefaultAgent)
	}

	*old = *fresh
}
