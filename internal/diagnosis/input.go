package diagnosis

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const notBlankTag = "notblank"

var (
	validate = newValidator()

	// fieldMessages holds the learner-facing message per required field.
	fieldMessages = map[string]string{
		"user_explanation": "Explanation is required",
		"user_id":          "User ID is required",
	}
)

func newValidator() *validator.Validate {
	v := validator.New()

	// Report form field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})
	return v
}

// absentTokens are values browsers send for fields that were never set.
var absentTokens = map[string]bool{
	"undefined": true,
	"null":      true,
}

// Optional trims s and treats placeholder tokens as absent.
func Optional(s string) string {
	s = strings.TrimSpace(s)
	if absentTokens[s] {
		return ""
	}
	return s
}

// Normalize trims every text field and clears placeholder values, so a
// required field sent as "undefined" fails validation as missing.
func (in *Input) Normalize() {
	in.ConceptName = Optional(in.ConceptName)
	in.SessionID = Optional(in.SessionID)
	in.UserExplanation = Optional(in.UserExplanation)
	in.UserID = Optional(in.UserID)
}

// Validate checks required fields and reports the first failure as a
// KindInputValidation error.
func (in *Input) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return newError(KindInputValidation, err)
	}
	field := verrs[0].Field()
	msg, ok := fieldMessages[field]
	if !ok {
		msg = field + " is invalid"
	}
	return &Error{Kind: KindInputValidation, Field: field, Err: errors.New(msg)}
}
