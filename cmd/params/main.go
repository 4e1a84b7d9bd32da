package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/params"
	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	"github.com/angelmondragon/packfinderz-metrics/pkg/logger"
)

const serviceName = "metrics-params"

type flags struct {
	cmd   string
	kind  string
	key   string
	from  string
	to    string
	value string
	by    string
	note  string
}

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	var f flags
	flag.StringVar(&f.cmd, "cmd", "history", "command: publish|history")
	flag.StringVar(&f.kind, "kind", "", "parameter kind (product_cost, channel_weight, forecast_window_months, forecast_horizon_months)")
	flag.StringVar(&f.key, "key", "", "parameter key (sku or channel; empty for global kinds)")
	flag.StringVar(&f.from, "from", "", "effective from (YYYY-MM-DD or RFC3339)")
	flag.StringVar(&f.to, "to", "", "effective to, exclusive (optional)")
	flag.StringVar(&f.value, "value", "", "decimal value")
	flag.StringVar(&f.by, "by", os.Getenv("USER"), "publisher recorded on the version")
	flag.StringVar(&f.note, "note", "", "free-form note")
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
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": f.cmd})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	svc, err := params.NewService(dbClient)
	if err != nil {
		logg.Error(ctx, "failed to create parameter service", err)
		os.Exit(1)
	}

	var out any
	switch f.cmd {
	case "publish":
		input, perr := f.publishInput()
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(2)
		}
		out, err = svc.Publish(ctx, input)
	case "history":
		kind, perr := enums.ParseParameterKind(f.kind)
		if perr != nil {
			fmt.Fprintln(os.Stderr, perr)
			os.Exit(2)
		}
		var key *string
		if f.key != "" {
			key = &f.key
		}
		out, err = svc.History(ctx, kind, key)
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", f.cmd)
		os.Exit(2)
	}
	if err != nil {
		logg.Error(ctx, "parameter command failed", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func (f flags) publishInput() (params.PublishInput, error) {
	kind, err := enums.ParseParameterKind(f.kind)
	if err != nil {
		return params.PublishInput{}, err
	}
	from, err := parseInstant(f.from)
	if err != nil {
		return params.PublishInput{}, fmt.Errorf("-from: %w", err)
	}
	value, err := decimal.NewFromString(f.value)
	if err != nil {
		return params.PublishInput{}, fmt.Errorf("-value: %w", err)
	}
	input := params.PublishInput{
		Kind:          kind,
		Key:           f.key,
		EffectiveFrom: from,
		Value:         value,
		PublishedBy:   f.by,
		Note:          f.note,
	}
	if f.to != "" {
		to, err := parseInstant(f.to)
		if err != nil {
			return params.PublishInput{}, fmt.Errorf("-to: %w", err)
		}
		input.EffectiveTo = &to
	}
	return input, nil
}

func parseInstant(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected YYYY-MM-DD or RFC3339)", value)
	}
	return t, nil
}
