package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/packfinderz-metrics/pkg/config"
)

func TestRawTables(t *testing.T) {
	cfg := config.BigQueryConfig{RawTablePrefix: "raw_"}

	tables := rawTables(cfg, []string{" orders ", "", "refunds"})
	if len(tables) != 2 {
		t.Fatalf("expected 2 tables, got %v", tables)
	}
	if tables[0] != "raw_orders" || tables[1] != "raw_refunds" {
		t.Fatalf("unexpected tables %v", tables)
	}
	if got := rawTables(cfg, nil); len(got) != 0 {
		t.Fatalf("expected no tables, got %v", got)
	}
}

func TestAPIStatus(t *testing.T) {
	notFound := fmt.Errorf("metadata: %w", &googleapi.Error{Code: http.StatusNotFound})
	if !isNotFound(notFound) || isAlreadyExists(notFound) {
		t.Fatal("expected wrapped 404 to be not found")
	}
	if !isAlreadyExists(&googleapi.Error{Code: http.StatusConflict}) {
		t.Fatal("expected 409 to be already exists")
	}
	if isNotFound(errors.New("plain")) {
		t.Fatal("plain errors carry no status")
	}
}

func TestUninitializedClient(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Ping(ctx); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := c.InsertRows(ctx, "export_x", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := c.EnsureTable(ctx, "export_x", nil, ""); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
