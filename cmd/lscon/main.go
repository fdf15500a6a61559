// Command lscon boots a low-speed connector on the in-memory provider and
// serves its control files over a line-oriented shell on stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lscon-go/connector"
	"lscon-go/internal/config"
	"lscon-go/internal/logging"
	"lscon-go/lsbus"
	"lscon-go/mezzanines/secure96"
	"lscon-go/provider/host"
	"lscon-go/telemetry"
	"lscon-go/uevent"
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file (defaults built in)")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatal().Err(err).Msg("failed to load configuration")
		}
	}
	if *configCheck {
		fmt.Println("Configuration check completed successfully.")
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("lscon stopped with error")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var gatherer prometheus.Gatherer
	metrics := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		reg := prometheus.NewRegistry()
		pc, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry disabled")
		} else {
			metrics, gatherer = pc, reg
		}
	}

	events := uevent.New(cfg.Bus.EventQueue)
	defer events.Close()
	bus := lsbus.NewRegistry(
		lsbus.WithLogger(logger),
		lsbus.WithCollector(metrics),
		lsbus.WithEvents(events),
		lsbus.WithMaxDevices(cfg.Bus.MaxDevices),
	)
	for _, name := range cfg.Drivers {
		drv, err := builtin(name, logger)
		if err != nil {
			return err
		}
		if err := bus.RegisterDriver(drv); err != nil {
			return err
		}
	}

	provider := host.New()
	for _, ref := range cfg.Provider.Unavailable {
		provider.SetUnavailable(ref, cfg.Provider.UnavailableAttempts)
	}

	conn := connector.New(cfg.Topology.Connector, provider, bus,
		connector.WithLogger(logger),
		connector.WithCollector(metrics),
	)
	err := connector.Boot(ctx, conn, connector.Retry{
		Backoff:     cfg.Init.RetryBackoff.Duration,
		MaxBackoff:  cfg.Init.MaxBackoff.Duration,
		MaxAttempts: cfg.Init.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("boot %s: %w", conn.Name(), err)
	}
	defer conn.Teardown()

	sub := events.Subscribe()
	go logEvents(ctx, logger, sub)
	defer sub.Unsubscribe()

	sh := &shell{conn: conn, gatherer: gatherer, out: os.Stdout}
	return sh.serve(ctx, os.Stdin)
}

func builtin(name string, logger zerolog.Logger) (lsbus.Driver, error) {
	switch name {
	case secure96.Name:
		return secure96.New(secure96.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("unknown driver %q", name)
}

func logEvents(ctx context.Context, logger zerolog.Logger, sub *uevent.Subscription) {
	l := logger.With().Str("component", "uevent").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel():
			if !ok {
				return
			}
			l.Debug().Uint64("seq", ev.Seq).Str("action", string(ev.Action)).
				Str("device", ev.Device).Str("driver", ev.Driver).Msg("uevent")
		}
	}
}
