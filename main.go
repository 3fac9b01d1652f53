// Command reactors-czlab runs the supervisory control core: it samples
// the configured sensors, evaluates the actuator control laws, drives
// the outputs and mirrors observed values into the relational store.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/host/v3"

	"github.com/asaldivar93/reactors-czlab/bus"
	"github.com/asaldivar93/reactors-czlab/config"
	"github.com/asaldivar93/reactors-czlab/gateway"
	"github.com/asaldivar93/reactors-czlab/mirror"
	"github.com/asaldivar93/reactors-czlab/modbus"
	"github.com/asaldivar93/reactors-czlab/plcio"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/storage"
)

func main() {
	cfgPath := flag.String("config", "config.json", "deployment configuration file")
	logPath := flag.String("log", "record.log", "log file (empty for console only)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log, closeLog, err := setupLogging(*logPath, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(log, *cfgPath); err != nil {
		log.Fatal().Err(err).Msg("controller failed")
	}
}

func run(log zerolog.Logger, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if _, err := host.Init(); err != nil {
		log.Warn().Err(err).Msg("periph host init failed, continuing without I2C")
	}

	dispatcher, err := modbus.Open(cfg.SerialConfig(), log.With().Str("component", "modbus").Logger())
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	dispatcher.Start(ctx)

	// The vendor GPIO/PWM binding is injected here; the simulated
	// platform stands in until the PLC bindings are linked.
	pio := plcio.NewSim()

	reactors, err := buildReactors(cfg, dispatcher, pio, log)
	if err != nil {
		return err
	}
	// The OPC-UA adapter drives this surface; building it up front
	// validates the browse names before anything starts moving.
	surface, err := gateway.New(log, reactors...)
	if err != nil {
		return err
	}

	var store *storage.Store
	var sink mirror.Sink
	if cfg.Database != "" {
		store, err = storage.Open(cfg.Database, log.With().Str("component", "storage").Logger())
		if err != nil {
			return err
		}
		defer store.Close()
		ids := make([]string, 0, len(reactors))
		for _, r := range reactors {
			ids = append(ids, r.ID())
		}
		if err := store.CreateExperiment(cfg.Experiment.Name, time.Now(), ids, cfg.Experiment.Volume); err != nil {
			return err
		}
		sink = store
	}

	b := bus.NewBus(16)
	m := mirror.New(b, sink, cfg.Experiment.Name, reactors, nil, log)

	var wg sync.WaitGroup
	for _, r := range reactors {
		r.SetState(reactor.StateOn)
		wg.Add(2)
		go func(r *reactor.Reactor) { defer wg.Done(); r.RunSlow(ctx) }(r)
		go func(r *reactor.Reactor) { defer wg.Done(); r.RunFast(ctx) }(r)
	}
	wg.Add(1)
	go func() { defer wg.Done(); m.Run(ctx) }()

	log.Info().Strs("reactors", surface.ReactorIDs()).Msg("controller started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range reactors {
		r.Stop(stopCtx)
	}
	return nil
}

func setupLogging(path string, debug bool) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}
	closeFn := func() {}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("opening log file: %w", err)
		}
		writers = append(writers, f)
		closeFn = func() { f.Close() }
	}
	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return log, closeFn, nil
}
