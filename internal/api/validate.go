package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request bodies. Scalar fields are typed any so a wrong JSON type reaches the
// validator as a field error instead of failing the whole decode.
type registerUserRequest struct {
	FirstName any `json:"first_name" validate:"required,is_string,filled,max=255"`
	LastName  any `json:"last_name" validate:"required,is_string,filled,max=255"`
	Email     any `json:"email" validate:"required,is_string,filled,max=255,email"`
	Password  any `json:"password" validate:"required,is_string,filled,min=6"`
}

type loginRequest struct {
	Email    any `json:"email" validate:"required,is_string,filled"`
	Password any `json:"password" validate:"required,is_string,filled"`
}

type registerDeviceRequest struct {
	Name any `json:"name" validate:"required,is_string,filled,max=255"`
}

type strokeRequest struct {
	Data json.RawMessage `json:"data" validate:"required,payload"`
}

type ledRequest struct {
	State any `json:"state" validate:"omitempty,is_bool"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	rules := map[string]validator.Func{
		"is_string": func(fl validator.FieldLevel) bool {
			return fl.Field().Kind() == reflect.String
		},
		// required lets "" through on interface fields
		"filled": func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		},
		"is_bool": func(fl validator.FieldLevel) bool {
			return fl.Field().Kind() == reflect.Bool
		},
		// payload accepts a JSON array or object
		"payload": func(fl validator.FieldLevel) bool {
			raw, ok := fl.Field().Interface().(json.RawMessage)
			if !ok {
				return false
			}
			raw = bytes.TrimSpace(raw)
			return len(raw) > 0 && (raw[0] == '[' || raw[0] == '{')
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validator: %v", tag, err))
		}
	}
	return v
}

// fieldErrors maps a field to its failed-rule messages, rendered as the 422 body.
type fieldErrors map[string][]string

func (e fieldErrors) add(field, format string, args ...any) {
	e[field] = append(e[field], fmt.Sprintf(format, args...))
}

func (e fieldErrors) has(field string) bool {
	return len(e[field]) > 0
}

// check validates req. The validator stops at the first failed rule of a
// field, so each field carries at most one message.
func check(req any) fieldErrors {
	errs := fieldErrors{}
	err := validate.Struct(req)
	if err == nil {
		return errs
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs.add("body", "The request body is invalid.")
		return errs
	}
	for _, fe := range verrs {
		errs.add(fe.Field(), "%s", message(fe))
	}
	return errs
}

func message(fe validator.FieldError) string {
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required", "filled":
		return fmt.Sprintf("The %s field is required.", label)
	case "is_string":
		return fmt.Sprintf("The %s field must be a string.", label)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", label, fe.Param())
	case "min":
		return fmt.Sprintf("The %s field must be at least %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", label)
	case "payload":
		if raw, ok := fe.Value().(json.RawMessage); ok && string(bytes.TrimSpace(raw)) == "null" {
			return fmt.Sprintf("The %s field is required.", label)
		}
		return fmt.Sprintf("The %s field must be an array.", label)
	case "is_bool":
		return fmt.Sprintf("The %s field must be true or false.", label)
	default:
		return fmt.Sprintf("The %s field is invalid.", label)
	}
}
