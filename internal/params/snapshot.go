package params

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

// Resolver answers "which value was in effect for (kind, key) at ts".
type Resolver interface {
	Resolve(kind enums.ParameterKind, key string, ts time.Time) (decimal.Decimal, error)
}

type lookupKey struct {
	kind enums.ParameterKind
	key  string
}

// Snapshot is the set of versions visible to one build. It never changes after
// construction, so versions published mid-build stay invisible.
type Snapshot struct {
	at       time.Time
	versions map[lookupKey][]Version
}

// NewSnapshot keeps the versions published at or before cutoff.
func NewSnapshot(cutoff time.Time, versions []Version) *Snapshot {
	s := &Snapshot{at: cutoff.UTC(), versions: map[lookupKey][]Version{}}
	for _, v := range versions {
		if v.PublishedAt.After(s.at) {
			continue
		}
		k := lookupKey{kind: v.Kind, key: v.Key}
		s.versions[k] = append(s.versions[k], v)
	}
	for k := range s.versions {
		list := s.versions[k]
		sort.Slice(list, func(i, j int) bool { return list[i].Version > list[j].Version })
	}
	return s
}

// At is the snapshot cutoff.
func (s *Snapshot) At() time.Time {
	return s.at
}

// Len counts visible versions.
func (s *Snapshot) Len() int {
	n := 0
	for _, list := range s.versions {
		n += len(list)
	}
	return n
}

// Lookup returns the highest version whose range contains ts.
func (s *Snapshot) Lookup(kind enums.ParameterKind, key string, ts time.Time) (Version, error) {
	for _, v := range s.versions[lookupKey{kind: kind, key: key}] {
		if v.Covers(ts) {
			return v, nil
		}
	}
	return Version{}, MissingParameter(kind, key, ts)
}

// Resolve implements Resolver.
func (s *Snapshot) Resolve(kind enums.ParameterKind, key string, ts time.Time) (decimal.Decimal, error) {
	v, err := s.Lookup(kind, key, ts)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Value, nil
}

// MissingParameter builds the typed error raised when no version is in effect.
func MissingParameter(kind enums.ParameterKind, key string, ts time.Time) error {
	return pkgerrors.New(pkgerrors.CodeMissingParameter, "no parameter version in effect").
		WithDetails(map[string]any{
			"kind":      kind,
			"key":       key,
			"timestamp": ts.UTC().Format(time.RFC3339),
		})
}
