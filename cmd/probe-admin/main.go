// Command probe-admin is the bench tool for Hamilton probes: read a
// measurement, re-address or re-baud a probe, or run a calibration
// point, one probe at a time on an otherwise idle line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/drivers/hamilton"
	"github.com/asaldivar93/reactors-czlab/modbus"
)

func main() {
	var (
		port      = flag.String("port", "/dev/ttySC2", "serial port")
		baud      = flag.Int("baud", 19200, "serial baud rate")
		timeout   = flag.Duration("timeout", 500*time.Millisecond, "request timeout")
		slave     = flag.Uint("slave", 1, "probe slave address")
		read      = flag.String("read", "", "measurement block to read (pmc1, pmc6)")
		newAddr   = flag.Uint("set-address", 0, "reprogram the probe slave address")
		newBaud   = flag.Int("set-baud", 0, "reprogram the probe baud rate")
		calPoint  = flag.String("calibrate", "", "calibration point to write (cp1, cp2, cp6)")
		calValue  = flag.Float64("value", 0, "calibration value")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	dispatcher, err := modbus.Open(modbus.Config{Port: *port, Baud: *baud, Timeout: *timeout}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("opening serial line")
	}
	defer dispatcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dispatcher.Start(ctx)

	dev := hamilton.New(dispatcher, uint8(*slave), log)

	switch {
	case *read != "":
		v, err := dev.ReadMeasurement(ctx, *read)
		if err != nil {
			log.Fatal().Err(err).Str("block", *read).Msg("read failed")
		}
		fmt.Printf("%s: %g\n", *read, v)

	case *newAddr != 0:
		if err := dev.SetAddress(ctx, uint8(*newAddr)); err != nil {
			log.Fatal().Err(err).Msg("address change failed")
		}
		fmt.Printf("probe now answers at address %d\n", *newAddr)

	case *newBaud != 0:
		if err := dev.SetBaudrate(ctx, *newBaud); err != nil {
			log.Fatal().Err(err).Msg("baud change failed")
		}
		fmt.Printf("probe serial interface set to %d baud; reopen the host side to match\n", *newBaud)

	case *calPoint != "":
		res, err := dev.WriteCalibration(ctx, *calPoint, *calValue)
		if err != nil {
			log.Fatal().Err(err).Str("point", *calPoint).Msg("calibration failed")
		}
		fmt.Printf("status: %s\nvalue: %g\nquality: %g\npH: %g\n", res.Status, res.Value, res.Quality, res.PH)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
