package marts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/internal/types"
	"github.com/angelmondragon/packfinderz-metrics/pkg/ratio"
)

// Formula is the arithmetic a derived metric applies to its operands.
type Formula string

const (
	FormulaRatio      Formula = "ratio"
	FormulaDifference Formula = "difference"
	FormulaSum        Formula = "sum"
	FormulaProduct    Formula = "product"
)

// Metric is a named formula. Operands are metric names of the same mart and
// are evaluated in the order given.
type Metric struct {
	Name        string   `json:"name"`
	Formula     Formula  `json:"formula"`
	DependsOn   []string `json:"depends_on"`
	Description string   `json:"description,omitempty"`
}

func (m Metric) eval(values map[string]decimal.NullDecimal) decimal.NullDecimal {
	operands := make([]decimal.NullDecimal, len(m.DependsOn))
	for i, dep := range m.DependsOn {
		operands[i] = values[dep]
	}
	switch m.Formula {
	case FormulaRatio:
		return ratio.SafeDivide(operands[0], operands[1])
	case FormulaDifference:
		return ratio.Sub(operands[0], operands[1])
	case FormulaSum:
		return ratio.Add(operands...)
	case FormulaProduct:
		return ratio.Mul(operands...)
	}
	return ratio.Null
}

// Definition declares a mart: its grain, the tables it reads, the measures
// its aggregator emits and the metrics derived from them.
type Definition struct {
	Name      string   `json:"name"`
	Grain     []string `json:"grain"`
	DependsOn []string `json:"depends_on"`
	Base      []string `json:"base"`
	Derived   []Metric `json:"derived"`

	order []Metric
}

// Metrics lists every metric name of the mart, base first.
func (d Definition) Metrics() []string {
	out := append([]string{}, d.Base...)
	for _, m := range d.order {
		out = append(out, m.Name)
	}
	return out
}

// Catalog is the validated set of mart definitions.
type Catalog struct {
	defs  map[string]*Definition
	names []string
	owner map[string]string
}

// NewCatalog validates the definitions: every metric name is unique across
// marts so each has exactly one grain, operands exist, arities match and
// derived metrics are acyclic.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: map[string]*Definition{}, owner: map[string]string{}}
	for i := range defs {
		def := defs[i]
		if def.Name == "" || len(def.Grain) == 0 {
			return nil, fmt.Errorf("mart %q needs a name and a grain", def.Name)
		}
		if _, dup := c.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate mart %s", def.Name)
		}
		for _, name := range def.Metrics() {
			if err := c.claim(def.Name, name); err != nil {
				return nil, err
			}
		}
		for _, m := range def.Derived {
			if err := c.claim(def.Name, m.Name); err != nil {
				return nil, err
			}
			if err := checkArity(m); err != nil {
				return nil, fmt.Errorf("mart %s: %w", def.Name, err)
			}
		}
		order, err := resolveOrder(def)
		if err != nil {
			return nil, err
		}
		def.order = order
		c.defs[def.Name] = &def
		c.names = append(c.names, def.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

func (c *Catalog) claim(mart, metric string) error {
	if metric == "" {
		return fmt.Errorf("mart %s has an unnamed metric", mart)
	}
	if owner, ok := c.owner[metric]; ok {
		return fmt.Errorf("metric %s declared by both %s and %s", metric, owner, mart)
	}
	c.owner[metric] = mart
	return nil
}

func checkArity(m Metric) error {
	switch m.Formula {
	case FormulaRatio, FormulaDifference:
		if len(m.DependsOn) != 2 {
			return fmt.Errorf("%s: %s takes exactly two operands", m.Name, m.Formula)
		}
	case FormulaSum, FormulaProduct:
		if len(m.DependsOn) < 2 {
			return fmt.Errorf("%s: %s takes at least two operands", m.Name, m.Formula)
		}
	default:
		return fmt.Errorf("%s: unknown formula %q", m.Name, m.Formula)
	}
	return nil
}

// resolveOrder sorts derived metrics so operands are computed first.
func resolveOrder(def Definition) ([]Metric, error) {
	known := map[string]bool{}
	for _, b := range def.Base {
		known[b] = true
	}
	byName := map[string]Metric{}
	for _, m := range def.Derived {
		byName[m.Name] = m
	}
	for _, m := range def.Derived {
		for _, dep := range m.DependsOn {
			if _, derived := byName[dep]; !derived && !known[dep] {
				return nil, fmt.Errorf("mart %s: metric %s depends on unknown %s", def.Name, m.Name, dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	order := []Metric{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		m, derived := byName[name]
		if !derived {
			return nil
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("mart %s: metric cycle %s", def.Name, strings.Join(append(path, name), " -> "))
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range m.DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, m)
		return nil
	}
	for _, m := range def.Derived {
		if err := visit(m.Name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Names lists the marts in sorted order.
func (c *Catalog) Names() []string {
	return append([]string{}, c.names...)
}

// Definition returns a mart definition.
func (c *Catalog) Definition(name string) (Definition, bool) {
	def, ok := c.defs[name]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// Definitions returns every mart definition in name order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, *c.defs[name])
	}
	return out
}

// Derive evaluates the mart's derived metrics on every row in dependency
// order. Missing base measures are treated as null.
func (c *Catalog) Derive(mart string, rows []types.MartRow) error {
	def, ok := c.defs[mart]
	if !ok {
		return fmt.Errorf("unknown mart %s", mart)
	}
	for _, row := range rows {
		for _, base := range def.Base {
			if _, present := row.Metrics[base]; !present {
				row.Metrics[base] = ratio.Null
			}
		}
		for _, m := range def.order {
			row.Metrics[m.Name] = m.eval(row.Metrics)
		}
	}
	return nil
}
