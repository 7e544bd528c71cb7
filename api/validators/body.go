package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

// MaxBodyBytes caps request bodies; settlement payloads are small.
const MaxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("payment_channel", func(fl validator.FieldLevel) bool {
		return enums.PaymentChannel(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("gateway_ref", func(fl validator.FieldLevel) bool {
		return referenceRe.MatchString(fl.Field().String())
	})
	return v
}

// Normalizer is implemented by request bodies that clean their fields before
// validation.
type Normalizer interface {
	Normalize()
}

// DecodeJSONBody decodes exactly one JSON object into dest, normalizes it when
// dest is a Normalizer and runs its validate tags. Unknown fields and trailing
// data are rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes+1))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) && r.ContentLength > MaxBodyBytes {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "request body exceeds %d bytes", MaxBodyBytes)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if decoder.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	if n, ok := dest.(Normalizer); ok {
		n.Normalize()
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		details[fieldErr.Field()] = validationMessage(fieldErr)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "url":
		return "must be an absolute URL"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "payment_channel":
		return "must be one of card, bank_transfer, ussd, bank"
	case "gateway_ref":
		return "must be 1-128 letters, digits, '-', '_' or '.'"
	}
	return "is invalid"
}
