package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpWalksJoinedErrors(t *testing.T) {
	left := New(CodeReconciliation, "gross_matches_lines")
	right := fmt.Errorf("bounds: %w", New(CodeBoundsViolation, "roas_plausible"))
	err := Wrap(CodeReconciliation, stdErrors.Join(left, right), "hard invariants failed").
		WithDetails(map[string]any{"checks": 2})

	d := Dump(err)
	if d.Code != CodeReconciliation {
		t.Fatalf("expected code %s, got %s", CodeReconciliation, d.Code)
	}
	if d.Details == nil {
		t.Fatalf("expected details")
	}
	joined := strings.Join(d.Chain, "\n")
	for _, want := range []string{"gross_matches_lines", "roas_plausible"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("chain missing %q:\n%s", want, joined)
		}
	}
}

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_parameter_versions_kind_key_version", TableName: "parameter_versions"}
	d := Dump(fmt.Errorf("insert: %w", pgErr))
	if d.PGCode != "23505" || d.PGTable != "parameter_versions" {
		t.Fatalf("unexpected dump %+v", d)
	}
	if empty := Dump(nil); empty.TopMessage != "" || empty.Chain != nil {
		t.Fatalf("nil error should dump empty")
	}
}
