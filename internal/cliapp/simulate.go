package cliapp

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orienteering/yarocd/internal/sicodec"
	"github.com/orienteering/yarocd/pkg/meshtastic/simulator"
)

var (
	simCard     uint32
	simCode     uint16
	simMode     int
	simInterval time.Duration
	simSymlink  string
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Emit simulated SI punches onto a virtual serial port",
		Long: `simulate opens a pseudo-terminal that behaves like an SRR dongle: it
periodically writes a framed SI punch record to the master side, where
it can be read from the printed slave path (or the --symlink path) by
any serial reader, without real hardware.

Each emitted punch shifts the control code by -1, 0 or +1 at random.`,
		RunE: runSimulate,
	}

	cmd.Flags().Uint32Var(&simCard, "card", 1234567, "SI card number to emit")
	cmd.Flags().Uint16Var(&simCode, "code", 31, "starting control code (drifts by -1, 0 or +1 per punch)")
	cmd.Flags().IntVar(&simMode, "mode", sicodec.FinishMode, "station mode byte")
	cmd.Flags().DurationVar(&simInterval, "interval", 10*time.Second, "punch send interval")
	cmd.Flags().StringVar(&simSymlink, "symlink", "", "create a symlink to the PTY slave at this path")

	return cmd
}

func runSimulate(_ *cobra.Command, _ []string) error {
	pty, err := simulator.OpenPTY()
	if err != nil {
		return fmt.Errorf("failed to open simulated serial port: %w", err)
	}
	defer pty.Master.Close()

	if simSymlink != "" {
		if err := pty.CreateSymlink(simSymlink); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to create symlink: %v\n", err)
		} else {
			defer os.Remove(simSymlink)
		}
	}

	fmt.Printf("Simulated SI dongle started\n")
	fmt.Printf("  Device path: %s\n", pty.SlavePath)
	fmt.Printf("  Card: %d  Code: %d  Mode: %d\n", simCard, simCode, simMode)
	if simSymlink != "" {
		fmt.Printf("  Symlink: %s\n", simSymlink)
	}
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	code := simCode
	for {
		select {
		case <-sigChan:
			fmt.Println("\nshutting down")
			return nil
		case <-ticker.C:
			code = code + uint16(rand.Intn(3)-1)
			punch, err := sicodec.Encode(simCard, code, time.Now(), simMode)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to encode punch: %v\n", err)
				continue
			}
			if _, err := pty.Master.Write(punch.Raw[:]); err != nil {
				fmt.Fprintf(os.Stderr, "failed to write punch: %v\n", err)
			}
		}
	}
}
