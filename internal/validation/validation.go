// Package validation checks request bodies and reports every violation as a
// Detail entry ({type, loc, msg, input}).
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"rentory/internal/num"
)

type Detail struct {
	Type  string `json:"type"`
	Loc   []any  `json:"loc"`
	Msg   string `json:"msg"`
	Input any    `json:"input"`
}

// Field builds a Detail for a body field path such as ("items", 0, "discount_amount").
func Field(kind, msg string, input any, path ...any) Detail {
	loc := make([]any, 0, len(path)+1)
	loc = append(loc, "body")
	loc = append(loc, path...)
	return Detail{Type: kind, Loc: loc, Msg: msg, Input: input}
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	// An absent num.Input validates as nil so omitempty skips it and required
	// reports it missing. A present one validates as a *string, which
	// omitempty never skips even when the text is empty.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		in, ok := field.Interface().(num.Input)
		if !ok || !in.Present() {
			return nil
		}
		raw := in.Raw()
		return &raw
	}, num.Input{})

	mustRegister(v, "num", func(fl validator.FieldLevel) bool {
		_, err := num.Parse(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "num_int", func(fl validator.FieldLevel) bool {
		d, err := num.Parse(fl.Field().String())
		return err == nil && d.IsInteger()
	})
	mustRegister(v, "num_gt", compare(func(d, bound decimal.Decimal) bool { return d.GreaterThan(bound) }))
	mustRegister(v, "num_gte", compare(func(d, bound decimal.Decimal) bool { return d.GreaterThanOrEqual(bound) }))
	mustRegister(v, "num_lte", compare(func(d, bound decimal.Decimal) bool { return d.LessThanOrEqual(bound) }))
	mustRegister(v, "num_ne", compare(func(d, bound decimal.Decimal) bool { return !d.Equal(bound) }))
	mustRegister(v, "num_scale", func(fl validator.FieldLevel) bool {
		d, err := num.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		places, err := strconv.ParseInt(fl.Param(), 10, 32)
		if err != nil {
			return false
		}
		return d.Equal(d.Truncate(int32(places)))
	})

	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s: %v", tag, err))
	}
}

func compare(ok func(d, bound decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := num.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := num.Parse(fl.Param())
		if err != nil {
			return false
		}
		return ok(d, bound)
	}
}

// Struct validates req and returns one Detail per failing field, in field order.
func (v *Validator) Struct(req any) []Detail {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []Detail{Field("value_error", err.Error(), nil)}
	}
	details := make([]Detail, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		details = append(details, fromFieldError(fe))
	}
	return details
}

// Decode maps a JSON decoding failure to a Detail.
func Decode(err error) []Detail {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return []Detail{Field("missing", "Request body required", nil)}
	case errors.As(err, &syntaxErr):
		return []Detail{Field("json_invalid", fmt.Sprintf("JSON decode error at offset %d", syntaxErr.Offset), nil)}
	case errors.As(err, &typeErr):
		path := splitNamespace(typeErr.Field)
		return []Detail{Field("type_error", fmt.Sprintf("Input should be a valid %s", typeErr.Type), typeErr.Value, path...)}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return []Detail{Field("extra_forbidden", "Extra inputs are not permitted", nil, field)}
	}
	return []Detail{Field("json_invalid", err.Error(), nil)}
}

func fromFieldError(fe validator.FieldError) Detail {
	ns := fe.Namespace()
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		ns = ns[idx+1:]
	}
	path := splitNamespace(ns)

	input := fe.Value()
	if fe.Tag() == "required" {
		input = nil
	}
	kind, msg := describe(fe)
	return Field(kind, msg, input, path...)
}

func describe(fe validator.FieldError) (string, string) {
	param := fe.Param()
	switch fe.Tag() {
	case "required":
		return "missing", "Field required"
	case "uuid":
		return "uuid_parsing", "Input should be a valid UUID"
	case "datetime":
		return "date_from_datetime_parsing", "Input should be a valid date in the format YYYY-MM-DD"
	case "oneof":
		return "enum", "Input should be " + quoteOptions(strings.Fields(param))
	case "max":
		if fe.Kind() == reflect.Slice {
			return "too_long", fmt.Sprintf("List should have at most %s items", param)
		}
		return "string_too_long", fmt.Sprintf("String should have at most %s characters", param)
	case "min":
		if fe.Kind() == reflect.Slice {
			return "too_short", fmt.Sprintf("List should have at least %s item(s)", param)
		}
		return "string_too_short", fmt.Sprintf("String should have at least %s characters", param)
	case "num":
		return "decimal_parsing", "Input should be a valid decimal"
	case "num_int":
		return "int_parsing", "Input should be a valid integer"
	case "num_gt":
		return "greater_than", "Input should be greater than " + param
	case "num_gte":
		return "greater_than_equal", "Input should be greater than or equal to " + param
	case "num_lte":
		return "less_than_equal", "Input should be less than or equal to " + param
	case "num_ne":
		return "value_error", "Input should not be equal to " + param
	case "num_scale":
		return "decimal_max_places", fmt.Sprintf("Decimal input should have no more than %s decimal places", param)
	}
	return "value_error", fe.Error()
}

func quoteOptions(options []string) string {
	quoted := make([]string, len(options))
	for i, opt := range options {
		quoted[i] = "'" + opt + "'"
	}
	if len(quoted) <= 1 {
		return strings.Join(quoted, "")
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}

// splitNamespace turns "items[0].quantity" into ["items", 0, "quantity"].
func splitNamespace(ns string) []any {
	if ns == "" {
		return nil
	}
	var path []any
	for _, part := range strings.Split(ns, ".") {
		name := part
		var indexes []string
		if open := strings.IndexByte(part, '['); open >= 0 {
			name = part[:open]
			for _, chunk := range strings.Split(part[open:], "[") {
				chunk = strings.TrimSuffix(chunk, "]")
				if chunk != "" {
					indexes = append(indexes, chunk)
				}
			}
		}
		if name != "" {
			path = append(path, name)
		}
		for _, raw := range indexes {
			if i, err := strconv.Atoi(raw); err == nil {
				path = append(path, i)
			} else {
				path = append(path, raw)
			}
		}
	}
	return path
}
