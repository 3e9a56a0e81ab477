package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/w1xm/k3ng_interface/gateway"
	"go.bug.st/serial"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports on this host. The controller's Arduino usually
appears as /dev/ttyACM0 or /dev/ttyUSB0.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.GetPortsList()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No serial ports found")
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Invoke a gateway method directly",
	Long: `Invoke one of the gateway's methods and print its JSON result. Run with
"list" as the method to print the available names.

Example:
  k3ngctl --gateway http://localhost:18866 call set_azimuth '{"angle": 90}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if gatewayURL == "" {
			return fmt.Errorf("call requires --gateway")
		}
		c := gateway.NewClient(gatewayURL)
		out := cmd.OutOrStdout()
		if args[0] == "list" {
			names, err := c.Methods(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, strings.Join(names, "\n"))
			return nil
		}
		var p gateway.Params
		if len(args) > 1 {
			if err := json.Unmarshal([]byte(args[1]), &p); err != nil {
				return fmt.Errorf("params: %w", err)
			}
		}
		var result json.RawMessage
		if err := c.Call(cmd.Context(), args[0], p, &result); err != nil {
			return err
		}
		if len(result) > 0 {
			fmt.Fprintln(out, string(result))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd, callCmd)
}
