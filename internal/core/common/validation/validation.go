package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/cashback-settlement/internal"
)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct runs the `validate` tags of v and converts failures into a single
// VALIDATION_FAILED AppError listing every field.
func Struct(v interface{}) *apperrors.AppError {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error(), apperrors.ErrCodeValidationFailed)
	}
	out := make([]apperrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apperrors.ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
			Code:    string(apperrors.ErrCodeValidationFailed),
		})
	}
	return apperrors.NewValidationError("Validation failed", apperrors.ErrCodeValidationFailed).
		WithDetails(apperrors.ValidationErrors{Errors: out})
}

// fieldPath drops the top-level struct name: "CreateBatchDTO.transactions[0].amount" -> "transactions[0].amount".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", name, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters", name, fe.Param())
		}
		return fmt.Sprintf("%s must not exceed %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must not exceed %s", name, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain digits only", name)
	case "email":
		return fmt.Sprintf("%s must be an email address", name)
	}
	return fmt.Sprintf("%s is invalid", name)
}

type ValidatorFunc func(interface{}) *apperrors.ValidationError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

// ValidationBuilder collects checks that struct tags cannot express.
type ValidationBuilder struct {
	fields []*FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := &FieldValidator{FieldName: name, Value: value}
	v.fields = append(v.fields, fv)
	return fv
}

func (fv *FieldValidator) fail(message string, code apperrors.ErrorCode) *apperrors.ValidationError {
	return &apperrors.ValidationError{Field: fv.FieldName, Message: message, Code: string(code)}
}

// NonNegative accepts decimal.Decimal values of zero or more.
func (fv *FieldValidator) NonNegative() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *apperrors.ValidationError {
		if d, ok := value.(decimal.Decimal); ok && d.IsNegative() {
			return fv.fail(fmt.Sprintf("%s must not be negative", fv.FieldName), apperrors.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}

// DecimalRange bounds a decimal.Decimal value inclusively.
func (fv *FieldValidator) DecimalRange(min, max decimal.Decimal) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *apperrors.ValidationError {
		d, ok := value.(decimal.Decimal)
		if !ok {
			return nil
		}
		if d.LessThan(min) || d.GreaterThan(max) {
			return fv.fail(fmt.Sprintf("%s must be between %s and %s", fv.FieldName, min, max), apperrors.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}

// After requires a time.Time value strictly later than limit.
func (fv *FieldValidator) After(limit time.Time) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *apperrors.ValidationError {
		if t, ok := value.(time.Time); ok && !t.After(limit) {
			return fv.fail(fmt.Sprintf("%s must be after %s", fv.FieldName, limit.Format(time.RFC3339)), apperrors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// Unique rejects a []string containing the same value twice.
func (fv *FieldValidator) Unique() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *apperrors.ValidationError {
		values, ok := value.([]string)
		if !ok {
			return nil
		}
		seen := make(map[string]struct{}, len(values))
		for _, s := range values {
			if _, dup := seen[s]; dup {
				return fv.fail(fmt.Sprintf("%s contains duplicate value %q", fv.FieldName, s), apperrors.ErrCodeValidationFailed)
			}
			seen[s] = struct{}{}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(fn func(interface{}) *apperrors.ValidationError) *FieldValidator {
	fv.Validators = append(fv.Validators, fn)
	return fv
}

func (v *ValidationBuilder) Validate() *apperrors.AppError {
	var errs []apperrors.ValidationError
	for _, field := range v.fields {
		for _, check := range field.Validators {
			if fe := check(field.Value); fe != nil {
				errs = append(errs, *fe)
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return apperrors.NewValidationError("Validation failed", apperrors.ErrCodeValidationFailed).
		WithDetails(apperrors.ValidationErrors{Errors: errs})
}

// ISOWeeksInYear returns 52 or 53.
func ISOWeeksInYear(year int) int {
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

// ValidateWeekYear accepts an ISO week that exists in year, for year not
// before the reference year.
func ValidateWeekYear(week, year, referenceYear int) *apperrors.AppError {
	if year < referenceYear || week < 1 || week > ISOWeeksInYear(year) {
		return apperrors.ErrInvalidWeekYear.WithDetails(apperrors.ValidationErrors{Errors: []apperrors.ValidationError{{
			Field:   "week_number",
			Message: fmt.Sprintf("week %d of %d is not a valid ISO week on or after %d", week, year, referenceYear),
			Code:    string(apperrors.ErrCodeInvalidWeekYear),
		}}})
	}
	return nil
}
