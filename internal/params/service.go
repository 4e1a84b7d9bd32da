package params

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-metrics/pkg/db"
	"github.com/angelmondragon/packfinderz-metrics/pkg/db/models"
	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	DB() *gorm.DB
}

// PublishInput describes a new parameter version.
type PublishInput struct {
	Kind          enums.ParameterKind
	Key           string
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Value         decimal.Decimal
	PublishedBy   string
	Note          string
}

// Service is the append-only parameter store.
type Service interface {
	Publish(ctx context.Context, input PublishInput) (*Version, error)
	Snapshot(ctx context.Context, cutoff time.Time) (*Snapshot, error)
	History(ctx context.Context, kind enums.ParameterKind, key *string) ([]Version, error)
}

type service struct {
	db  txRunner
	now func() time.Time
}

// NewService builds the parameter store over the shared database client.
func NewService(client txRunner) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &service{db: client, now: time.Now}, nil
}

var _ txRunner = (*db.Client)(nil)

// Publish appends the next version for (kind, key). Earlier versions are kept
// and remain visible to snapshots taken before this call.
func (s *service) Publish(ctx context.Context, input PublishInput) (*Version, error) {
	if err := validatePublish(&input); err != nil {
		return nil, err
	}

	var created models.ParameterVersion
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		current, err := repo.MaxVersion(ctx, input.Kind, input.Key)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read parameter version")
		}
		created = models.ParameterVersion{
			ID:            uuid.New(),
			Kind:          input.Kind,
			Key:           input.Key,
			Version:       current + 1,
			EffectiveFrom: input.EffectiveFrom.UTC(),
			EffectiveTo:   input.EffectiveTo,
			Value:         input.Value,
			PublishedBy:   input.PublishedBy,
			Note:          input.Note,
			PublishedAt:   s.now().UTC(),
		}
		if err := repo.Insert(ctx, &created); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "parameter version published concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert parameter version")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v := fromModel(created)
	return &v, nil
}

// Snapshot loads every version published at or before cutoff.
func (s *service) Snapshot(ctx context.Context, cutoff time.Time) (*Snapshot, error) {
	rows, err := NewRepository(s.db.DB()).PublishedBefore(ctx, cutoff)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parameter snapshot")
	}
	return NewSnapshot(cutoff, fromModels(rows)), nil
}

// History returns versions in (key, version) order.
func (s *service) History(ctx context.Context, kind enums.ParameterKind, key *string) ([]Version, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown parameter kind").
			WithDetails(map[string]any{"kind": kind})
	}
	if key != nil {
		folded := channelKey(kind, *key)
		key = &folded
	}
	rows, err := NewRepository(s.db.DB()).History(ctx, kind, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parameter history")
	}
	return fromModels(rows), nil
}

// channelKey folds a channel_weight key the way staged channels are folded.
func channelKey(kind enums.ParameterKind, key string) string {
	key = strings.TrimSpace(key)
	if kind == enums.ParameterChannelWeight {
		return strings.ToLower(key)
	}
	return key
}

func validatePublish(input *PublishInput) error {
	input.Key = channelKey(input.Kind, input.Key)
	details := map[string]string{}

	if !input.Kind.IsValid() {
		details["kind"] = "unknown parameter kind"
	}
	if input.Kind.Global() && input.Key != "" {
		details["key"] = "must be empty for global parameters"
	}
	if !input.Kind.Global() && input.Key == "" {
		details["key"] = "is required"
	}
	if input.EffectiveFrom.IsZero() {
		details["effective_from"] = "is required"
	}
	if input.EffectiveTo != nil {
		to := input.EffectiveTo.UTC()
		if !to.After(input.EffectiveFrom) {
			details["effective_to"] = "must be after effective_from"
		}
		input.EffectiveTo = &to
	}
	if input.Value.IsNegative() {
		details["value"] = "must be non-negative"
	}
	if input.Kind.Global() && (!input.Value.IsInteger() || !input.Value.IsPositive()) {
		details["value"] = "must be a positive whole number of months"
	}

	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid parameter version").WithDetails(details)
	}
	return nil
}
