package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// MaxPushTokenLength matches the width of the stored token column
const MaxPushTokenLength = 255

var (
	expoTokenRegex   = regexp.MustCompile(`^(ExponentPushToken|ExpoPushToken)\[[\w\-]+\]$`)
	nativeTokenRegex = regexp.MustCompile(`^[\w\-:]{152,255}$`)

	validate = newValidate()
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// IsExpoPushToken reports whether token has Expo's bracketed format
func IsExpoPushToken(token string) bool {
	return len(token) <= MaxPushTokenLength && expoTokenRegex.MatchString(token)
}

// IsPushToken accepts Expo tokens and long opaque native (FCM/APNs) tokens
func IsPushToken(token string) bool {
	return IsExpoPushToken(token) || nativeTokenRegex.MatchString(token)
}

// Struct validates a request struct using its `validate` tags
func Struct(s interface{}) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs ValidationErrors
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("request", err.Error())
		return errs
	}
	for _, fe := range fieldErrs {
		errs.Add(fe.Field(), describe(fe))
	}
	return errs
}

// SanitizeString trims whitespace and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

func newValidate() *playground.Validate {
	v := playground.New(playground.WithRequiredStructEnabled())

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("pushtoken", func(fl playground.FieldLevel) bool {
		return IsPushToken(fl.Field().String())
	})
	return v
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "pushtoken":
		return "is not a valid push token"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
