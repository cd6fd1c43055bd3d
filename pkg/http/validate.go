package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	validate = newValidator()
	binder   = &echo.DefaultBinder{}
)

// newValidator reports fields under their wire names (query, param or json tag).
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "param", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// ReadAndValidateRequest binds path, query and body into req, fills `default`
// tags and validates the result. Query parameters are bound for every method,
// echo only binds them for GET, DELETE and HEAD on its own.
func ReadAndValidateRequest(c echo.Context, req any) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validationErrors(err)
	}
	switch c.Request().Method {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
	default:
		if err := binder.BindQueryParams(c, req); err != nil {
			return validationErrors(err)
		}
	}
	if err := defaults.Set(req); err != nil {
		return validationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validationErrors(err)
	}
	return nil
}

func validationErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, len(fieldErrs))
		for i, fe := range fieldErrs {
			out[i] = fieldError(fe)
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprint(he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldError(fe validator.FieldError) ValidationError {
	ve := ValidationError{
		Code:    "ERR_" + strings.ToUpper(fe.Tag()),
		Field:   fe.Field(),
		Message: fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag()),
	}
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch fe.Tag() {
	case "required":
		ve.Message = fe.Field() + " is required"
	case "oneof":
		opts := strings.Fields(fe.Param())
		ve.Message = fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.Join(opts, ", "))
		ve.Params = map[string]any{"options": opts}
	case "min", "gte":
		ve.Message = fmt.Sprintf("%s must be at least %s%s", fe.Field(), fe.Param(), unit)
		ve.Params = map[string]any{"min": fe.Param()}
	case "max", "lte":
		ve.Message = fmt.Sprintf("%s must be at most %s%s", fe.Field(), fe.Param(), unit)
		ve.Params = map[string]any{"max": fe.Param()}
	case "gt":
		ve.Message = fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
		ve.Params = map[string]any{"min": fe.Param()}
	}
	return ve
}
