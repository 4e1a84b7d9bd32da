package staging

import (
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/packfinderz-metrics/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-metrics/pkg/errors"
)

func schemaError(source enums.Source, index int, r *fieldReader) error {
	sort.Strings(r.missing)
	details := map[string]any{
		"source": source,
		"record": index,
	}
	if len(r.missing) > 0 {
		details["missing"] = r.missing
	}
	if len(r.invalid) > 0 {
		details["invalid"] = r.invalid
	}
	return pkgerrors.New(pkgerrors.CodeSchema, "malformed "+string(source)+" record").WithDetails(details)
}

func ruleError(source enums.Source, index int, err error) error {
	details := map[string]any{"source": source, "record": index}
	if errs, ok := err.(validator.ValidationErrors); ok {
		fields := map[string]string{}
		for _, fe := range errs {
			fields[fe.Field()] = fe.Tag() + fe.Param()
		}
		details["rules"] = fields
	}
	return pkgerrors.Wrap(pkgerrors.CodeSchema, err, "record violates "+string(source)+" rules").WithDetails(details)
}

func conflictError(source enums.Source, id string) error {
	return pkgerrors.New(pkgerrors.CodeSchema, "conflicting duplicate "+string(source)+" record").
		WithDetails(map[string]any{"source": source, "id": id})
}
