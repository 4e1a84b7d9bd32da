package models

// All lists every persisted model. Tests use it with AutoMigrate; production
// schemas come from the goose migrations.
func All() []any {
	return []any{
		&RawEvent{},
		&ParameterVersion{},
		&Build{},
		&FactRow{},
		&MartMetricValue{},
		&CohortSize{},
		&ValidationResult{},
	}
}
