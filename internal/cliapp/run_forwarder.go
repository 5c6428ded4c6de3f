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
	"github.com/orienteering/yarocd/internal/ingest"
	"github.com/orienteering/yarocd/internal/logging"
	"github.com/orienteering/yarocd/internal/status"
	"github.com/orienteering/yarocd/internal/statushttp"
)

var (
	forwarderDryRun      bool
	forwarderInteractive bool
)

func newForwarderRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Subscribe to the cloud broker and relay punches to sinks",
		Long: `run subscribes to the topic tree named by mac-addresses on the
configured broker, decodes every inbound Punches/Status/Meshtastic
ServiceEnvelope message, maintains a per-node status view, and
re-emits punches into the configured client.* sinks.`,
		RunE: runForwarder,
	}
	cmd.Flags().BoolVar(&forwarderDryRun, "dry-run", false, "validate configuration without starting the service")
	cmd.Flags().BoolVarP(&forwarderInteractive, "interactive", "i", false, "run with the interactive status table")
	return cmd
}

func runForwarder(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.Config{Level: cfg.LogLevel, Format: viper.GetString("log_format")}
	if forwarderInteractive {
		logCfg.Format = "text"
		logCfg.Level = "error"
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		logging.Info("using config file", zap.String("path", cfgFile))
	}

	if forwarderDryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  client.mqtt.broker: %s\n", cfg.Client.MQTT.Broker)
		fmt.Printf("  mac-addresses: %d entries\n", len(cfg.MacAddresses))
		fmt.Printf("  meshtastic.main_channel: %s\n", cfg.Meshtastic.MainChannel)
		return nil
	}

	sinks, err := buildSinks(cfg, cfg.MacAddr, cfg.Hostname, nil)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}

	fwd := ingest.NewForwarder(ingest.Config{
		Broker:            cfg.Client.MQTT.Broker,
		MacNames:          cfg.MacAddresses,
		MeshtasticChannel: cfg.Meshtastic.MainChannel,
		MeshtasticMacAddr: cfg.Meshtastic.MacAddr,
	}, sinks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sinks.Run(ctx)

	if err := fwd.Run(); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer fwd.Close()

	var httpSrv *statushttp.Server
	if cfg.Display.HTTPAddr != "" {
		httpSrv = statushttp.NewServer(cfg.Display.HTTPAddr, fwd.Tracker())
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil {
				logging.Error("status http server exited", zap.Error(err))
			}
		}()
		logging.Info("status http endpoint listening", zap.String("addr", cfg.Display.HTTPAddr))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if forwarderInteractive {
		go func() {
			<-sigChan
			cancel()
		}()
		if err := status.Run(fwd.Tracker()); err != nil {
			logging.Error("status table error", zap.Error(err))
		}
	} else {
		logging.Info("forwarder running, press Ctrl+C to stop")
		<-sigChan
		logging.Info("received shutdown signal")
	}
	cancel()
	if httpSrv != nil {
		_ = httpSrv.Close()
	}

	return nil
}
