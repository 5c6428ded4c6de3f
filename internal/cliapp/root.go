// Package cliapp provides the command-line interface shared by the
// fieldnode and forwarder binaries.
package cliapp

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// newRootCmd builds the persistent flags, config search path and env
// binding common to both binaries; use is the binary name ("fieldnode" or
// "forwarder") and short/long describe it.
func newRootCmd(use, short, long string) *cobra.Command {
	root := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", fmt.Sprintf("config file (default is ./%s.toml)", use))
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))
	root.PersistentFlags().String("log-format", "json", "log format (json, text)")
	_ = viper.BindPFlag("log_format", root.PersistentFlags().Lookup("log-format"))

	cobra.OnInitialize(func() { initConfig(use) })
	return root
}

func initConfig(defaultName string) {
	viper.SetConfigType("toml")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(defaultName)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/yarocd")
	}

	viper.SetEnvPrefix("YAROC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// NewFieldNodeRoot builds the `fieldnode` command tree: run, version, simulate.
func NewFieldNodeRoot() *cobra.Command {
	root := newRootCmd("fieldnode", "Forward SI punches from local readers and radios",
		`fieldnode reads SportIdent punches from attached USB readers and Meshtastic
radios and forwards each punch over the configured sink transports
(MQTT, NB-IoT MQTT, SIRAP, ROC, MOP, serial dongle emulation).`)

	root.AddCommand(newFieldNodeRunCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newVersionCmd("fieldnode"))
	return root
}

// NewForwarderRoot builds the `forwarder` command tree: run, version.
func NewForwarderRoot() *cobra.Command {
	root := newRootCmd("forwarder", "Relay punches and status from the cloud broker to scoring systems",
		`forwarder subscribes to the cloud MQTT broker, decodes inbound Punches,
Status and Meshtastic ServiceEnvelope messages, maintains a per-node
status view, and re-emits punches into the configured sink transports.`)

	root.AddCommand(newForwarderRunCmd())
	root.AddCommand(newVersionCmd("forwarder"))
	return root
}

// Execute runs cmd and exits 1 on error, matching the teacher's top-level
// error handling.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
