package cliapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/orienteering/yarocd/internal/config"
	"github.com/orienteering/yarocd/internal/devicemgr"
	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/sicodec"
)

var fieldNodeDryRun bool

func newFieldNodeRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch local punch sources and forward to configured sinks",
		Long: `run watches /dev for USB SI readers (ttyUSB*) and Meshtastic radios
(ttyACM*) when punch_source.usb.enable is set, decodes every SI punch
record it sees, and fans each one out to every enabled client.* sink.`,
		RunE: runFieldNode,
	}
	cmd.Flags().BoolVar(&fieldNodeDryRun, "dry-run", false, "validate configuration without starting the service")
	return cmd
}

func runFieldNode(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Initialize(logging.Config{Level: cfg.LogLevel, Format: viper.GetString("log_format")}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("using config file", zap.String("path", cfgFile))
	}

	if fieldNodeDryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  si_punches: %s\n", cfg.SiPunches)
		fmt.Printf("  punch_source.usb: %v\n", cfg.PunchSource.USB.Enable)
		fmt.Printf("  mac-addresses: %d entries\n", len(cfg.MacAddresses))
		return nil
	}

	sinks, err := buildSinks(cfg, cfg.MacAddr, cfg.Hostname, nil)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.With(zap.String("component", "fieldnode"))

	onPunch := func(p sicodec.Punch, meta devicemgr.DeviceMeta) {
		p.MacAddr = cfg.MacAddr
		log.Info("punch read",
			zap.Uint32("card", p.Card),
			zap.Uint16("code", p.Code),
			zap.Time("punch_time", p.Time),
			zap.String("tty", meta.TTYPath))
		sinks.SendPunch(ctx, p)
	}
	onEvent := func(ev devicemgr.Event) {
		log.Info("device event", zap.Bool("added", ev.Added), zap.String("tty", ev.TTYPath))
	}

	mgr := devicemgr.NewManager(onPunch, onEvent)
	go mgr.Run(ctx)

	var watcher *devicemgr.Watcher
	if cfg.PunchSource.USB.Enable {
		watcher, err = devicemgr.NewWatcher(mgr, "/dev")
		if err != nil {
			return fmt.Errorf("failed to watch /dev for USB devices: %w", err)
		}
		watcher.Scan()
		go watcher.Run()
		defer watcher.Close()
	}

	go sinks.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("fieldnode running, press Ctrl+C to stop")
	<-sigChan
	log.Info("received shutdown signal")
	cancel()

	return nil
}
