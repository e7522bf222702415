package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/otp"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone10", func(fl validator.FieldLevel) bool {
		return otp.ValidPhone(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// check validates in and converts the first failing field into a validation
// error with a stable code.
func (s *Server) check(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Wrap(apperr.Validation, "invalid_request", "Request validation failed", err)
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validationf("missing_fields", "%s is required", fe.Field())
	case "email":
		return apperr.New(apperr.Validation, "invalid_email", "Invalid email format")
	case "phone10":
		return apperr.New(apperr.Validation, "invalid_phone", "Invalid phone number. Must be 10 digits.")
	case "min":
		if fe.Field() == "password" {
			return apperr.Validationf("weak_password", "Password must be at least %s characters", fe.Param())
		}
		return apperr.Validationf("invalid_field", "%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return apperr.Validationf("invalid_field", "%s must be at most %s characters", fe.Field(), fe.Param())
	case "eqfield":
		return apperr.New(apperr.Validation, "password_mismatch", "Passwords do not match")
	case "oneof":
		return apperr.Validationf("invalid_field", "%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return apperr.Validationf("invalid_field", "%s is invalid", fe.Field())
	}
}
