// Package validate holds the structural validators for patient identifiers,
// postcodes, phone numbers and email addresses. Every validator is a pure
// function returning a Result with a machine readable reason.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmpty            Reason = "EMPTY"
	ReasonWrongLength      Reason = "WRONG_LENGTH"
	ReasonNonNumeric       Reason = "NON_NUMERIC"
	ReasonChecksumMismatch Reason = "CHECKSUM_MISMATCH"
	ReasonInvalidFormat    Reason = "INVALID_FORMAT"
)

// Result is the outcome of a validation. Reason is empty when Valid is true.
type Result struct {
	Valid  bool   `json:"is_valid"`
	Reason Reason `json:"reason,omitempty"`
}

func ok() Result { return Result{Valid: true} }

func fail(r Reason) Result { return Result{Reason: r} }

const patientIdentifierLength = 10

// NormalizePatientIdentifier strips whitespace, Unicode spaces included, and
// hyphens.
func NormalizePatientIdentifier(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' {
			return -1
		}
		return r
	}, raw)
}

// PatientIdentifier validates a national patient identifier: ten digits where
// the last one is a modulus 11 check digit over the first nine.
func PatientIdentifier(raw string) Result {
	clean := NormalizePatientIdentifier(raw)
	if clean == "" {
		return fail(ReasonEmpty)
	}
	if len(clean) != patientIdentifierLength {
		return fail(ReasonWrongLength)
	}
	if !allDigits(clean) {
		return fail(ReasonNonNumeric)
	}

	expected, valid := CheckDigit(clean[:9])
	if !valid {
		return fail(ReasonChecksumMismatch)
	}
	if int(clean[9]-'0') != expected {
		return fail(ReasonChecksumMismatch)
	}
	return ok()
}

// CheckDigit computes the check digit for the first nine digits of a patient
// identifier. The second return is false when no digit can make the
// identifier valid (a computed check of 10) or the input is malformed.
func CheckDigit(first9 string) (int, bool) {
	if len(first9) != 9 || !allDigits(first9) {
		return 0, false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(first9[i]-'0') * (10 - i)
	}

	check := 11 - sum%11
	switch check {
	case 11:
		return 0, true
	case 10:
		return 0, false
	default:
		return check, true
	}
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

var postcodePattern = regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]?\s?\d[A-Z]{2}$`)

// Postcode validates a UK postcode, case insensitively.
func Postcode(raw string) Result {
	clean := strings.ToUpper(strings.TrimSpace(raw))
	if clean == "" {
		return fail(ReasonEmpty)
	}
	if !postcodePattern.MatchString(clean) {
		return fail(ReasonInvalidFormat)
	}
	return ok()
}

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

	// Subscriber numbers once the country code or trunk zero is removed.
	nationalPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^[1-9]\d{8,9}$`),
		regexp.MustCompile(`^7\d{9}$`),
		regexp.MustCompile(`^800\d{7}$`),
		regexp.MustCompile(`^845\d{7}$`),
	}
)

// PhoneNumber validates a UK phone number written internationally (+44,
// 0044, 44) or nationally with a trunk zero. A number takes one prefix only.
func PhoneNumber(raw string) Result {
	clean := phoneSeparators.Replace(strings.TrimSpace(raw))
	if clean == "" {
		return fail(ReasonEmpty)
	}

	var candidates []string
	switch {
	case strings.HasPrefix(clean, "+44"):
		candidates = []string{clean[3:]}
	case strings.HasPrefix(clean, "0044"):
		candidates = []string{clean[4:]}
	case strings.HasPrefix(clean, "0"):
		candidates = []string{clean[1:]}
	case strings.HasPrefix(clean, "44"):
		candidates = []string{clean, clean[2:]}
	default:
		candidates = []string{clean}
	}
	for _, c := range candidates {
		for _, p := range nationalPatterns {
			if p.MatchString(c) {
				return ok()
			}
		}
	}
	return fail(ReasonInvalidFormat)
}

var emailValidator = validator.New()

// Email validates the syntax of an email address. No lookups are made.
func Email(raw string) Result {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return fail(ReasonEmpty)
	}
	if err := emailValidator.Var(clean, "email"); err != nil {
		return fail(ReasonInvalidFormat)
	}
	return ok()
}
