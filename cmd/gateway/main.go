package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/yoyo3287258/wol-gateway/internal/api"
	"github.com/yoyo3287258/wol-gateway/internal/auth"
	"github.com/yoyo3287258/wol-gateway/internal/bot"
	"github.com/yoyo3287258/wol-gateway/internal/broker"
	"github.com/yoyo3287258/wol-gateway/internal/config"
	xlog "github.com/yoyo3287258/wol-gateway/internal/log"
	"github.com/yoyo3287258/wol-gateway/internal/metrics"
	"github.com/yoyo3287258/wol-gateway/internal/telegram"
	"golang.org/x/sync/errgroup"
)

// Injected at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const serviceName = "wol-gateway"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		modeFlag    string
		envFile     string
		showVersion bool
		selfUpdate  bool
	)

	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/config.yaml", "config file; environment variables are used when it is missing")
	flagSet.StringVarP(&modeFlag, "mode", "m", string(config.ModeAll), "adapters to run: all, bot or trigger")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	flagSet.BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	flagSet.BoolVarP(&selfUpdate, "update", "U", false, "update to the latest release and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("WoL Gateway %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		return nil
	}

	if selfUpdate {
		return doSelfUpdate(context.Background())
	}

	mode, err := config.ParseMode(modeFlag)
	if err != nil {
		return err
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	configPath = resolvePath(configPath)
	configMgr := config.NewManager(configPath, mode)
	if err := configMgr.Load(); err != nil {
		return err
	}
	cfg := configMgr.Get()

	xlog.Configure(xlog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  os.Stdout,
		Service: serviceName,
	})
	logger := xlog.WithComponent("main")

	logger.Info().
		Str(xlog.FieldEvent, "startup").
		Str("version", Version).
		Str("mode", string(mode)).
		Str("config", configPath).
		Str(xlog.FieldDriver, cfg.Broker.Driver).
		Str(xlog.FieldBroker, cfg.Broker.Address()).
		Bool("api_token", cfg.Security.APIToken != "").
		Int("ip_whitelist", len(cfg.Security.IPWhitelist)).
		Msg("starting wol gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	guard := auth.NewGuard(cfg.Channels.Telegram.AllowedID)
	handlerOpts := api.HandlerOptions{
		Config:  cfg,
		Dial:    broker.NewDialer(brokerOptions(cfg.Broker)),
		Version: Version,
	}

	if mode.RunsBot() {
		client, err := startBot(ctx, g, cfg, guard, &handlerOpts)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	configMgr.OnReload(func(newCfg *config.Config) {
		xlog.SetLevel(newCfg.Log.Level)
		guard.SetAllowedID(newCfg.Channels.Telegram.AllowedID)
	})

	stopWatch, err := configMgr.WatchChanges()
	if err != nil {
		logger.Warn().Err(err).Str(xlog.FieldEvent, "config.watcher_start_failed").Msg("config file watcher not started")
	} else {
		defer stopWatch()
	}

	g.Go(func() error {
		return reloadOnHangup(ctx, configMgr)
	})

	server := api.NewServer(api.NewHandler(handlerOpts), cfg, mode)
	g.Go(server.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Str(xlog.FieldEvent, "shutdown").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startBot connects the long-lived broker session, subscribes to responses
// and starts the chat loop plus, in polling mode, the update poller.
func startBot(ctx context.Context, g *errgroup.Group, cfg *config.Config, guard *auth.Guard, handlerOpts *api.HandlerOptions) (broker.Client, error) {
	opts := brokerOptions(cfg.Broker)
	opts.AutoReconnect = cfg.Broker.AutoReconnect
	opts.OnStateChange = func(s broker.State) {
		metrics.SetBrokerConnected(s == broker.StateConnected)
	}

	client, err := broker.Dial(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect broker %s: %w", cfg.Broker.Address(), err)
	}

	tg, err := telegram.NewClient(cfg.Channels.Telegram.BotToken, cfg.Channels.Telegram.PollTimeout)
	if err != nil {
		client.Close()
		return nil, err
	}

	chat := bot.New(bot.Config{
		CommandsTopic:  cfg.Broker.CommandsTopic,
		PublishTimeout: cfg.Broker.PublishTimeout,
		SendTimeout:    cfg.Channels.Telegram.SendTimeout,
	}, guard, client, tg)

	if err := client.Subscribe(cfg.Broker.ResponseTopic, chat.HandleResponse); err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Broker.ResponseTopic, err)
	}

	g.Go(func() error {
		return chat.Run(ctx)
	})

	if cfg.Channels.Telegram.UpdatesMode == config.UpdatesPolling {
		g.Go(func() error {
			err := tg.Poll(ctx, chat.Submit)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	handlerOpts.Bot = chat
	handlerOpts.BrokerState = client.State
	return client, nil
}

func brokerOptions(cfg config.BrokerConfig) broker.Options {
	opts := broker.OptionsFromConfig(cfg)
	opts.Logger = xlog.WithComponent("broker")
	return opts
}

// reloadOnHangup reloads the configuration on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, configMgr *config.Manager) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			// failures are logged by the manager; the old config stays active
			_ = configMgr.Reload()
		}
	}
}

// resolvePath makes a relative path relative to the executable.
func resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	execPath, err := os.Executable()
	if err != nil {
		return path
	}
	return filepath.Join(filepath.Dir(execPath), path)
}
