// Command k3ng_logger polls a k3ngd gateway for telemetry and writes it to
// InfluxDB, or prints one Telegraf line with -telegraf.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/influxdata/influxdb-client-go/api/write"
	protocol "github.com/influxdata/line-protocol"
	"github.com/rs/zerolog/log"
	"github.com/w1xm/k3ng_interface/gateway"
	"github.com/w1xm/k3ng_interface/internal/logging"
	"github.com/w1xm/k3ng_interface/rotator"
)

const measurement = "rotator"

var (
	gatewayURL = flag.String("gateway", envOr("K3NG_GATEWAY", fmt.Sprintf("http://localhost:%d", gateway.DefaultPort)), "gateway URL")
	telegraf   = flag.Bool("telegraf", false, "print one line protocol sample and exit")
	period     = flag.Duration("period", time.Second, "sample period")
	logLevel   = flag.String("log_level", "info", "log level")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	flag.Parse()
	if err := logging.Setup(*logLevel, !*telegraf); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	c := gateway.NewClient(*gatewayURL)

	if *telegraf {
		s, err := sample(c, time.Now)
		if err != nil {
			log.Fatal().Err(err).Msg("sampling rotator")
		}
		if err := writeLine(os.Stdout, s); err != nil {
			log.Fatal().Err(err).Msg("encoding sample")
		}
		return
	}

	// Create client
	client := influxdb2.NewClient(envOr("INFLUX_SERVER", "http://localhost:9999"), os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(envOr("INFLUX_ORG", "w1xm"), envOr("INFLUX_BUCKET", "rotator"))
	defer writeApi.Close()
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logData(ctx, c, writeApi)
}

func logData(ctx context.Context, c *gateway.Client, writeApi api.WriteApi) {
	defer writeApi.Flush()
	t := time.NewTicker(*period)
	defer t.Stop()
	for {
		s, err := sample(c.WithContext(ctx), time.Now)
		if err != nil {
			log.Print(err)
		} else {
			// write asynchronously
			writeApi.WritePoint(s.point())
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// telemetry is one flattened observation.
type telemetry struct {
	tags   map[string]string
	fields map[string]interface{}
	time   time.Time
}

// sample reads position and, when a satellite is selected, tracking state.
func sample(svc gateway.Service, now func() time.Time) (telemetry, error) {
	pos, err := rotator.Read(svc)
	if err != nil {
		return telemetry{}, err
	}
	s := telemetry{
		tags: map[string]string{},
		fields: map[string]interface{}{
			"azimuth":     pos.Azimuth,
			"elevation":   pos.Elevation,
			"is_tracking": 0,
		},
		time: now(),
	}
	status, err := svc.TrackingStatus()
	if err != nil {
		log.Debug().Err(err).Msg("no tracking status")
		return s, nil
	}
	s.tags["satname"] = status.SatName
	s.tags["sat_state"] = status.SatState.String()
	s.tags["next_event"] = status.NextEvent.String()
	s.fields["next_event_mins"] = status.NextEventMins
	if status.IsTracking {
		s.fields["is_tracking"] = 1
	}
	return s, nil
}

// point converts s for the InfluxDB client.
func (s telemetry) point() *write.Point {
	return influxdb2.NewPoint(measurement, s.tags, s.fields, s.time)
}

// writeLine prints s as one line of InfluxDB line protocol.
func writeLine(w io.Writer, s telemetry) error {
	_, err := protocol.NewEncoder(w).Encode(s.point())
	return err
}
