package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rentory/internal/domain"
	"rentory/internal/num"
	"rentory/internal/validation"
)

// violations collects every problem found in one request so the caller gets
// them in a single ValidationError instead of the first one only.
type violations struct {
	details []validation.Detail
}

// check starts a collection with the struct-tag violations of req.
func (s *Service) check(req any) *violations {
	return &violations{details: s.validator.Struct(req)}
}

func (v *violations) add(d validation.Detail) {
	v.details = append(v.details, d)
}

func (v *violations) err() error {
	if len(v.details) == 0 {
		return nil
	}
	return &ValidationError{Details: v.details}
}

// has reports whether a detail was already recorded at path or below it.
func (v *violations) has(path ...any) bool {
	for _, d := range v.details {
		if len(d.Loc) < len(path)+1 {
			continue
		}
		match := true
		for i, part := range path {
			if d.Loc[i+1] != part {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// decimal reads a required numeric field.
func (v *violations) decimal(in num.Input, path ...any) (decimal.Decimal, bool) {
	if !in.Present() {
		if !v.has(path...) {
			v.add(validation.Field("missing", "Field required", nil, path...))
		}
		return decimal.Zero, false
	}
	return v.decimalOr(in, decimal.Zero, path...)
}

// decimalOr reads an optional numeric field, falling back when it is absent.
// A present but malformed value is recorded, never replaced by fallback.
func (v *violations) decimalOr(in num.Input, fallback decimal.Decimal, path ...any) (decimal.Decimal, bool) {
	d, err := in.Or(fallback)
	if err != nil {
		if !v.has(path...) {
			v.add(validation.Field("decimal_parsing", "Input should be a valid decimal", in.Raw(), path...))
		}
		return decimal.Zero, false
	}
	return d, true
}

// period reads a rental period in whole days within [1, MaxRentalPeriod].
func (v *violations) period(in num.Input, path ...any) (int, bool) {
	d, ok := v.decimal(in, path...)
	if !ok {
		return 0, false
	}
	var detail validation.Detail
	switch {
	case !d.IsInteger():
		detail = validation.Field("int_parsing", "Input should be a valid integer", in.Raw(), path...)
	case d.LessThan(decimal.NewFromInt(1)):
		detail = validation.Field("greater_than_equal", "Input should be greater than or equal to 1", in.Raw(), path...)
	case d.GreaterThan(decimal.NewFromInt(domain.MaxRentalPeriod)):
		detail = validation.Field("less_than_equal",
			fmt.Sprintf("Input should be less than or equal to %d", domain.MaxRentalPeriod), in.Raw(), path...)
	default:
		return int(d.IntPart()), true
	}
	if !v.has(path...) {
		v.add(detail)
	}
	return 0, false
}

// date parses a YYYY-MM-DD field unless the field already failed validation.
func (v *violations) date(value string, field string) (domain.Date, bool) {
	if v.has(field) {
		return domain.Date{}, false
	}
	d, err := domain.ParseDate(value)
	if err != nil {
		v.add(validation.Field("date_from_datetime_parsing",
			"Input should be a valid date in the format YYYY-MM-DD", value, field))
		return domain.Date{}, false
	}
	return d, true
}
