package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-metrics/internal/staging"
	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
)

const (
	serviceName  = "metrics-ingest"
	maxLineBytes = 4 << 20
	flushRecords = 1000
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	file := flag.String("file", "-", "newline-delimited JSON of {\"source\":...,\"fields\":{...}} records; - reads stdin")
	source := flag.String("source", "", "source applied to lines without one")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "file": *file})

	var fallback enums.Source
	if *source != "" {
		if fallback, err = enums.ParseSource(*source); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	in := io.Reader(os.Stdin)
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logg.Error(ctx, "open input", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	loader := staging.NewGormLoader(dbClient.DB())
	total := 0
	err = readRecords(in, fallback, func(batch []staging.RawRecord) error {
		if err := loader.Append(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		return nil
	})
	if err != nil {
		logg.Error(logg.WithField(ctx, "landed", total), "ingest failed", err)
		os.Exit(1)
	}
	logg.Info(logg.WithField(ctx, "landed", total), "raw events landed")
}

// readRecords decodes one record per line and hands them to flush in batches.
// Blank lines are skipped.
func readRecords(r io.Reader, fallback enums.Source, flush func([]staging.RawRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	batch := make([]staging.RawRecord, 0, flushRecords)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := decodeLine(raw, fallback)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, rec)
		if len(batch) == flushRecords {
			if err := flush(batch); err != nil {
				return err
			}
			batch = make([]staging.RawRecord, 0, flushRecords)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	return flush(batch)
}

func decodeLine(raw []byte, fallback enums.Source) (staging.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec staging.RawRecord
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("decode: %w", err)
	}
	if rec.Source == "" {
		rec.Source = fallback
	}
	source, err := enums.ParseSource(rec.Source.String())
	if err != nil {
		return rec, err
	}
	rec.Source = source
	if len(rec.Fields) == 0 {
		return rec, fmt.Errorf("record has no fields")
	}
	return rec, nil
}
