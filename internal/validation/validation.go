package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrCityEmpty is returned when a city name is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city name is required")

// ErrCityTooLong is returned when a city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when a city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

// ErrInvalidRequest wraps every struct validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultMaxCityLen bounds city names in runes.
const DefaultMaxCityLen = 100

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateCityName trims the input, enforces maxLen (in runes; <= 0 uses
// DefaultMaxCityLen) and restricts to letters (with combining marks), digits,
// space, comma, period, apostrophe and hyphen. Returns the trimmed name.
// Normalization is left to the caller.
func ValidateCityName(input string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxCityLen
	}
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// Struct validates v against its `validate` tags. Failures wrap
// ErrInvalidRequest with a short message naming the first offending field.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(verrs[0]))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " is too long"
	case "email":
		return field + " must be a valid email address"
	default:
		return field + " is invalid"
	}
}
