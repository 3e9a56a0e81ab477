package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/w1xm/k3ng_interface/gateway"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/rotator"
	"github.com/w1xm/k3ng_interface/satnogs"
)

var (
	tleFile    string
	satnogsURL string
	trackNow   bool
	noSave     bool
)

// defaultGrid is the ground station's subsquare.
const defaultGrid = "FN03hp"

var setupCmd = &cobra.Command{
	Use:   "setup [grid]",
	Short: "Set the station location and clock",
	Long: `Set the rotator's Maidenhead grid square (six characters, subsquare
precision) and synchronize its clock to this host. The grid defaults to ` + defaultGrid + `.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		grid := defaultGrid
		if len(args) > 0 {
			grid = args[0]
		}
		if err := r.SetLocation(grid); err != nil {
			return err
		}
		if err := r.SetClockNow(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Location set to %s and clock synchronized\n", grid)
		return nil
	}),
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Latch the axis limits and save them",
	Long: `Walk through calibration. Use the rotator box to drive the antenna to each
limit; the controller records the raw reading at each one. The calibration is
then written to EEPROM, which reboots the controller.`,
	Args: cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "To calibrate the antenna, use the rotator box to go to limits")
		if _, err := prompt(cmd, "Set the antenna all the way left (CCW) and down (pointing north), then press Enter."); err != nil {
			return err
		}
		down, err := r.CalFullDown()
		if err != nil {
			return err
		}
		ccw, err := r.CalFullCCW()
		if err != nil {
			return err
		}
		if _, err := prompt(cmd, "Set the antenna all the way right (CW) and up, then press Enter."); err != nil {
			return err
		}
		up, err := r.CalFullUp()
		if err != nil {
			return err
		}
		cw, err := r.CalFullCW()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Raw limits: down %d, ccw %d, up %d, cw %d\n", down, ccw, up, cw)
		if noSave {
			return nil
		}
		return r.SaveToEEPROM()
	}),
}

// satellite resolves the element set named by args or --file.
func satellite(cmd *cobra.Command, args []string) (k3ng.Satellite, error) {
	if tleFile != "" {
		f, err := os.Open(tleFile)
		if err != nil {
			return k3ng.Satellite{}, err
		}
		defer f.Close()
		tle, err := k3ng.ReadTLE(f)
		if err != nil {
			return k3ng.Satellite{}, fmt.Errorf("reading %q: %w", tleFile, err)
		}
		return k3ng.NewSatellite(0, tle), nil
	}
	if len(args) != 1 {
		return k3ng.Satellite{}, fmt.Errorf("a NORAD ID or --file is required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return k3ng.Satellite{}, fmt.Errorf("NORAD ID %q: %w", args[0], err)
	}
	return satnogs.NewClient(satnogsURL).Satellite(cmd.Context(), id)
}

var loadTLECmd = &cobra.Command{
	Use:   "load-tle [norad-id]",
	Short: "Upload an element set and select it",
	Long: `Fetch a two-line element set from SatNOGS (or read it from --file), upload
it to the controller and select it. With --track the clock is set first and
tracking is enabled afterwards.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		sat, err := satellite(cmd, args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if trackNow {
			status, err := r.LoadAndTrack(sat)
			if err != nil {
				return err
			}
			printTracking(cmd, status)
			return nil
		}
		if err := r.LoadTLE(sat); err != nil {
			return err
		}
		if err := r.CheckClock(); err != nil {
			return err
		}
		trackable, err := r.Trackable()
		if err != nil {
			return err
		}
		for _, line := range trackable {
			fmt.Fprintln(out, line)
		}
		if err := r.SelectSatellite(sat); err != nil {
			return err
		}
		fmt.Fprintf(out, "Selected %s\n", sat.TLE.Title)
		return nil
	}),
}

var trackCmd = &cobra.Command{
	Use:       "track [on|off|toggle]",
	Short:     "Set the state of satellite tracking",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		state := "toggle"
		if len(args) > 0 {
			state = args[0]
		}
		if state == "toggle" {
			status, err := r.TrackingStatus()
			if err != nil {
				return err
			}
			state = "on"
			if status.IsTracking {
				state = "off"
			}
		}
		if state == "on" {
			return r.EnableTracking()
		}
		return r.DisableTracking()
	}),
}

var parkCmd = &cobra.Command{
	Use:   "park",
	Short: "Send the antenna to its park location",
	Args:  cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		az, el, err := r.ParkLocation()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sending antenna to (%d, %d)\n", az, el)
		return r.Park()
	}),
}

var setParkCmd = &cobra.Command{
	Use:   "set-park",
	Short: "Make the current position the park location and save it",
	Args:  cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		pos, err := rotator.Read(r)
		if err != nil {
			return err
		}
		az, el := int(pos.Azimuth), int(pos.Elevation)
		answer, err := prompt(cmd, fmt.Sprintf("Setting park to (%d, %d). Are you sure? [y/N]", az, el))
		if err != nil {
			return err
		}
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			return nil
		}
		if err := r.SetParkLocation(az, el); err != nil {
			return err
		}
		if noSave {
			return nil
		}
		return r.SaveToEEPROM()
	}),
}

var goHomeCmd = &cobra.Command{
	Use:   "go-home",
	Short: "Send the antenna to (0, 0)",
	Args:  cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		pos, err := rotator.Read(r)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moving from (%.2f, %.2f) to (0, 0)\n", pos.Azimuth, pos.Elevation)
		return rotator.Goto(r, rotator.Position{})
	}),
}

var testMotionCmd = &cobra.Command{
	Use:   "test-motion",
	Short: "Exercise the up and right motion channels, then return home",
	Args:  cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		steps := []struct {
			msg string
			do  func() error
		}{
			{"Set rotator to fully down, fully left. Enter to continue.", nil},
			{"Moving UP. Enter to continue.", r.Up},
			{"Moving RIGHT. Enter to continue.", func() error {
				if err := r.Stop(); err != nil {
					return err
				}
				return r.Right()
			}},
			{"Going home (0, 0). Enter to continue.", func() error {
				if err := r.Stop(); err != nil {
					return err
				}
				return rotator.Goto(r, rotator.Position{})
			}},
		}
		for _, step := range steps {
			if step.do != nil {
				if err := step.do(); err != nil {
					return err
				}
			}
			if _, err := prompt(cmd, step.msg); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Done!")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the controller's configuration and position",
	Args:  cobra.NoArgs,
	RunE: withRotator(func(cmd *cobra.Command, args []string, r gateway.Service) error {
		out := cmd.OutOrStdout()
		version, err := r.Version()
		if err != nil {
			return err
		}
		clock, err := r.Clock()
		if err != nil {
			return err
		}
		grid, err := r.Location()
		if err != nil {
			return err
		}
		pos, err := rotator.Read(r)
		if err != nil {
			return err
		}
		parkAz, parkEl, err := r.ParkLocation()
		if err != nil {
			return err
		}
		autopark, err := r.Autopark()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Version:   %s\n", version)
		fmt.Fprintf(out, "Clock:     %s\n", clock.Format("2006-01-02 15:04:05Z"))
		fmt.Fprintf(out, "Location:  %s\n", grid)
		fmt.Fprintf(out, "Position:  az %.2f el %.2f\n", pos.Azimuth, pos.Elevation)
		fmt.Fprintf(out, "Park:      az %d el %d\n", parkAz, parkEl)
		if autopark == 0 {
			fmt.Fprintln(out, "Autopark:  off")
		} else {
			fmt.Fprintf(out, "Autopark:  %d minutes\n", autopark)
		}
		if status, err := r.TrackingStatus(); err == nil {
			printTracking(cmd, status)
		}
		return nil
	}),
}

func printTracking(cmd *cobra.Command, s k3ng.TrackingStatus) {
	out := cmd.OutOrStdout()
	tracking := "inactive"
	if s.IsTracking {
		tracking = "active"
	}
	fmt.Fprintf(out, "Satellite: %s (%s, tracking %s)\n", s.SatName, s.SatState, tracking)
	fmt.Fprintf(out, "Pointing:  az %.0f el %.0f\n", s.Azimuth, s.Elevation)
	fmt.Fprintf(out, "Next pass: AOS %s az %d, LOS %s az %d, max el %d\n",
		s.NextPass.StartTime.Format("2006-01-02 15:04:05"), s.NextPass.StartAzimuth,
		s.NextPass.EndTime.Format("2006-01-02 15:04:05"), s.NextPass.EndAzimuth,
		s.NextPass.MaxElevation)
	fmt.Fprintf(out, "Next:      %s in %d minutes\n", s.NextEvent, s.NextEventMins)
}

func init() {
	calibrateCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write to EEPROM")
	setParkCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write to EEPROM")
	loadTLECmd.Flags().StringVarP(&tleFile, "file", "f", "", "Read the element set from a three-line file")
	loadTLECmd.Flags().StringVar(&satnogsURL, "satnogs-url", satnogs.DefaultURL, "SatNOGS TLE endpoint")
	loadTLECmd.Flags().BoolVar(&trackNow, "track", false, "Set the clock and start tracking after loading")

	rootCmd.AddCommand(setupCmd, calibrateCmd, loadTLECmd, trackCmd, parkCmd,
		setParkCmd, goHomeCmd, testMotionCmd, statusCmd)
}
