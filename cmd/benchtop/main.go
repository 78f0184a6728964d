package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/benchtop/pkg/bench"
	"github.com/norasector/benchtop/pkg/bench/config"
	"github.com/norasector/benchtop/pkg/bench/instrument"
	"github.com/norasector/benchtop/pkg/bench/instrument/scpi"
	"github.com/norasector/benchtop/pkg/bench/instrument/sim"
	"github.com/norasector/benchtop/pkg/dsp/viz"
	"golang.org/x/sync/errgroup"
)

func openInstruments(ctx context.Context, cfg config.Config) (instrument.Oscilloscope, instrument.Generator, error) {
	switch cfg.Device {
	case config.DeviceSCPI:
		scope, err := scpi.DialDS1000Z(ctx, cfg.Scope.TransportConfig(), log.Logger.With().Str("device", "scope").Logger())
		if err != nil {
			return nil, nil, err
		}
		gen, err := scpi.DialKeysight33500(ctx, cfg.Generator.TransportConfig(), cfg.MemoryLocations, log.Logger.With().Str("device", "generator").Logger())
		if err != nil {
			scope.Close()
			return nil, nil, err
		}
		return scope, gen, nil
	default:
		return sim.NewScope(), sim.NewGenerator(cfg.MemoryLocations...), nil
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "benchtop.yaml", "YAML config file")
	debug := flag.Bool("debug", false, "log at debug level")
	captureChannel := flag.Int("capture", 0, "capture deep memory of this channel once and exit")

	flag.Parse()
	if *debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *configFile).Msg("error loading config file")
	}

	log.Info().Str("device", cfg.Device).Msg("initializing instruments...")
	scope, gen, err := openInstruments(context.Background(), cfg)
	if err != nil {
		log.Fatal().Str("device", cfg.Device).Err(err).Msg("failed to open instruments")
	}

	sessionOpts := []bench.SessionOption{bench.WithLogger(log.Logger)}

	if cfg.VizServer.Port > 0 {
		vizServer := viz.NewServer(cfg.VizServer.Port, cfg.VizServer.UpdateInterval, viz.WithServerLogger(log.Logger))
		sessionOpts = append(sessionOpts, bench.WithImageServer(vizServer))
	}

	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, "")
		defer client.Close()
		var writeAPI api.WriteAPI = client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		sessionOpts = append(sessionOpts, bench.WithInfluxDB(writeAPI))
	}

	session, err := bench.NewSession(scope, gen, cfg.SessionOptions(), sessionOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close instruments")
		}
	}()

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		return session.Stop()
	})

	eg.Go(func() error {
		return session.Start(ctx)
	})

	if *captureChannel > 0 {
		eg.Go(func() error {
			select {
			case <-session.Ready():
			case <-ctx.Done():
				return nil
			}
			defer session.Stop()

			task := session.Capture(ctx, *captureChannel)
			if err := task.Wait(ctx); err != nil {
				return err
			}
			res := task.Result()
			log.Info().
				Str("path", res.Path).
				Int("samples", res.Samples).
				Dur("took", res.Duration).
				Msg("capture written")
			return nil
		})
	}

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}
