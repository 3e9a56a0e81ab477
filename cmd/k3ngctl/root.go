package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/w1xm/k3ng_interface/gateway"
	"github.com/w1xm/k3ng_interface/internal/logging"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/k3ng/simulator"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// Gateway connection flags
	gatewayURL string

	simulate bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "k3ngctl",
	Short: "Control a K3NG antenna rotator",
	Long: `k3ngctl drives a K3NG rotator controller, either directly over its serial
port or through a running k3ngd gateway.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 9600]
  Gateway:   --gateway http://host:18866
  Simulated: --simulate

The serial port defaults to $K3NG_SERIAL and the gateway to $K3NG_GATEWAY.
Only one process can own the serial port; use the gateway when k3ngd is running.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Setup(logLevel, true)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", os.Getenv("K3NG_SERIAL"), "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVarP(&gatewayURL, "gateway", "g", os.Getenv("K3NG_GATEWAY"), "Gateway URL")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use a simulated rotator")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level")
}

// connect opens the rotator named by the connection flags. The returned
// function releases it.
func connect(ctx context.Context) (gateway.Service, func(), error) {
	switch {
	case gatewayURL != "":
		return gateway.NewClient(gatewayURL).WithContext(ctx), func() {}, nil
	case simulate:
		sim := simulator.New()
		ctx, cancel := context.WithCancel(ctx)
		go sim.Run(ctx)
		r, err := k3ng.New(sim, &k3ng.Options{})
		if err != nil {
			cancel()
			return nil, nil, err
		}
		return r, func() {
			cancel()
			r.Close()
		}, nil
	case portName != "":
		opts := k3ng.DefaultOptions()
		opts.Baud = baudRate
		r, err := k3ng.Open(portName, opts)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	}
	return nil, nil, errors.New("one of --port, --gateway or --simulate is required")
}

// withRotator runs f against a connected rotator.
func withRotator(f func(cmd *cobra.Command, args []string, r gateway.Service) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, release, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer release()
		return f(cmd, args, r)
	}
}

var stdin *bufio.Reader

// prompt prints msg and waits for a line on the command's input.
func prompt(cmd *cobra.Command, msg string) (string, error) {
	fmt.Fprint(cmd.OutOrStdout(), msg+" ")
	if stdin == nil {
		stdin = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := stdin.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
