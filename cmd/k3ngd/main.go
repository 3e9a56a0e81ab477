// Command k3ngd owns the rotator's serial port and serves it over HTTP and
// the Hamlib rotctld protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
	"github.com/w1xm/k3ng_interface/gateway"
	"github.com/w1xm/k3ng_interface/internal/logging"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/k3ng/simulator"
	"golang.org/x/sync/errgroup"
)

var (
	serialPort  = flag.String("serial", os.Getenv("K3NG_SERIAL"), "serial port name")
	baud        = flag.Int("baud", 9600, "serial baud rate")
	addr        = flag.String("addr", fmt.Sprintf(":%d", gateway.DefaultPort), "HTTP listen address")
	rotctldAddr = flag.String("rotctld_addr", "", "rotctld listen address (e.g. :4533); empty disables")
	pollPeriod  = flag.Duration("poll", 2*time.Second, "status poll period")
	simulate    = flag.Bool("simulate", false, "use a simulated rotator instead of a serial port")
	setClock    = flag.Bool("set_clock", true, "set the rotator clock from the host on start")
	logLevel    = flag.String("log_level", "info", "log level")
	logConsole  = flag.Bool("log_console", true, "human readable logs")
)

func main() {
	flag.Parse()
	if err := logging.Setup(*logLevel, *logConsole); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("k3ngd failed")
	}
}

func run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	opts := k3ng.DefaultOptions()
	opts.Baud = *baud
	var port k3ng.Port
	if *simulate {
		sim := simulator.New()
		g.Go(func() error { return sim.Run(ctx) })
		port = sim
		log.Info().Msg("using simulated rotator")
	} else {
		if *serialPort == "" {
			return errors.New("-serial or K3NG_SERIAL is required")
		}
		p, err := k3ng.OpenPort(*serialPort, opts)
		if err != nil {
			return fmt.Errorf("opening %q: %w", *serialPort, err)
		}
		port = p
	}
	r, err := k3ng.New(port, opts)
	if err != nil {
		port.Close()
		return err
	}
	defer r.Close()

	version, err := r.Version()
	if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	log.Info().Str("version", version).Msg("connected to rotator")
	if *setClock {
		if err := r.SetClockNow(); err != nil {
			log.Error().Err(err).Msg("setting rotator clock")
		}
	}

	s := gateway.NewServer(r)
	srv := &http.Server{
		Handler:     s.Router(),
		Addr:        *addr,
		ReadTimeout: 15 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", *addr).Msg("serving")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return s.Watch(ctx, *pollPeriod) })
	if *rotctldAddr != "" {
		if err := s.ListenRotctld(ctx, *rotctldAddr); err != nil {
			return err
		}
		log.Info().Str("addr", *rotctldAddr).Msg("rotctld listening")
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("notifying systemd")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}
	return g.Wait()
}
