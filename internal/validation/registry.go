// Package validation evaluates the declarative invariant registry against a
// build's materialized tables and keeps the audit trail of every result.
package validation

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Term is one signed column sum inside a reconciliation.
type Term struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
	Sign   string `yaml:"sign"`
}

func (t Term) negative() bool {
	return strings.TrimSpace(t.Sign) == "-"
}

// Check is one declared invariant. Which fields apply depends on Kind:
// reconcile uses GroupBy, Left, Right and Tolerance; bounds uses Table,
// Columns, Min and Max; not_null uses Table and Columns; unique_grain and
// grain_complete only need Table.
type Check struct {
	Name      string          `yaml:"name"`
	Kind      enums.CheckKind `yaml:"kind"`
	Severity  enums.Severity  `yaml:"severity"`
	Table     string          `yaml:"table"`
	Columns   []string        `yaml:"columns"`
	GroupBy   []string        `yaml:"group_by"`
	Left      []Term          `yaml:"left"`
	Right     []Term          `yaml:"right"`
	Tolerance string          `yaml:"tolerance"`
	Min       string          `yaml:"min"`
	Max       string          `yaml:"max"`

	tolerance decimal.Decimal
	min       *decimal.Decimal
	max       *decimal.Decimal
}

// Subject is the table a result is filed under.
func (c Check) Subject() string {
	if c.Kind == enums.CheckReconcile && len(c.Left) > 0 {
		return c.Left[0].Table
	}
	return c.Table
}

// Tables lists every table the check reads.
func (c Check) Tables() []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	add(c.Table)
	for _, t := range c.Left {
		add(t.Table)
	}
	for _, t := range c.Right {
		add(t.Table)
	}
	return out
}

// Registry is the ordered, validated list of checks.
type Registry struct {
	Checks []Check `yaml:"checks"`
}

// LoadRegistry reads the registry at path, or the embedded default when path
// is empty.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return ParseRegistry(bytes.NewReader(defaultRegistry))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return ParseRegistry(f)
}

// DefaultRegistry returns the embedded registry.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry("")
}

// ParseRegistry decodes and validates a YAML registry. Unknown fields are
// rejected so a typo cannot silently disable a check.
func ParseRegistry(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var reg Registry
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	names := map[string]struct{}{}
	for i := range reg.Checks {
		c := &reg.Checks[i]
		if _, dup := names[c.Name]; dup {
			return nil, fmt.Errorf("duplicate check %q", c.Name)
		}
		names[c.Name] = struct{}{}
		if err := c.compile(); err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
	}
	return &reg, nil
}

func (c *Check) compile() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	if !c.Severity.IsValid() {
		return fmt.Errorf("unknown severity %q", c.Severity)
	}

	switch c.Kind {
	case enums.CheckReconcile:
		if len(c.Left) == 0 || len(c.Right) == 0 {
			return fmt.Errorf("reconcile needs left and right terms")
		}
		for _, t := range append(append([]Term{}, c.Left...), c.Right...) {
			if t.Table == "" || t.Column == "" {
				return fmt.Errorf("term needs table and column")
			}
			if s := strings.TrimSpace(t.Sign); s != "" && s != "+" && s != "-" {
				return fmt.Errorf("term sign must be + or -, got %q", t.Sign)
			}
		}
		c.tolerance = decimal.Zero
		if c.Tolerance != "" {
			tol, err := decimal.NewFromString(c.Tolerance)
			if err != nil || tol.IsNegative() {
				return fmt.Errorf("invalid tolerance %q", c.Tolerance)
			}
			c.tolerance = tol
		}
	case enums.CheckBounds:
		if c.Table == "" || len(c.Columns) == 0 {
			return fmt.Errorf("bounds needs table and columns")
		}
		var err error
		if c.min, err = optionalDecimal(c.Min); err != nil {
			return err
		}
		if c.max, err = optionalDecimal(c.Max); err != nil {
			return err
		}
		if c.min == nil && c.max == nil {
			return fmt.Errorf("bounds needs min or max")
		}
	case enums.CheckNotNull:
		if c.Table == "" || len(c.Columns) == 0 {
			return fmt.Errorf("not_null needs table and columns")
		}
	default:
		if c.Table == "" {
			return fmt.Errorf("table is required")
		}
	}
	return nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bound %q", raw)
	}
	return &d, nil
}
