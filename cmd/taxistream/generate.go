package main

import (
	"compress/gzip"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/snappy"

	"github.com/arkilian/taxistream/internal/replay"
)

// runGenerate writes a synthetic, event-time sorted ride file.
func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	var (
		rides = fs.Int("rides", 1000, "Number of rides (each yields a start and an end event)")
		out   = fs.String("out", "nycTaxiRides.gz", "Output file")
		codec = fs.String("codec", "gzip", "Compression: gzip, snappy, none")
		start = fs.String("start", "2013-01-01T00:00:00Z", "Pickup time of the first ride (RFC 3339)")
		seed  = fs.Uint64("seed", replay.DefaultSeed, "Random seed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	t0, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if *rides < 0 {
		return fmt.Errorf("-rides must be >= 0")
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	events := replay.GenerateRides(*rides, t0, *seed)
	switch *codec {
	case "gzip":
		zw := gzip.NewWriter(f)
		if err := replay.WriteRides(zw, events); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	case "snappy":
		sw := snappy.NewBufferedWriter(f)
		if err := replay.WriteRides(sw, events); err != nil {
			return err
		}
		if err := sw.Close(); err != nil {
			return err
		}
	case "none":
		if err := replay.WriteRides(f, events); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown codec %q", *codec)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %d events to %s\n", len(events), *out)
	return nil
}
