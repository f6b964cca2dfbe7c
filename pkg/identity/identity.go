// Package identity maps phone numbers to the e-mail shaped login identifiers
// required by password based credential stores, and back.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"wachat/internal/entity"
)

const (
	DefaultDomain = "phone.wachat.app"

	minDigits = 8
	maxDigits = 15
	// digits of a national number eligible for the default country rule
	nationalDigits = 10
)

var (
	ErrInvalidPhone       = fmt.Errorf("%w: invalid phone number", entity.ErrValidation)
	ErrMissingCountryCode = fmt.Errorf("%w: phone number must include a country code", entity.ErrValidation)
	ErrInvalidIdentifier  = fmt.Errorf("%w: invalid login identifier", entity.ErrValidation)
)

// Mapper converts between phone numbers and login identifiers.
//
// Numbers written without a leading '+' are handled as follows: a "00"
// international prefix becomes '+'; a 10 digit national number not starting
// with '0' gets DefaultCountryCode when one is configured; anything else must
// already carry a country code (more than 10 digits) or is rejected with
// ErrMissingCountryCode.
type Mapper struct {
	Domain             string
	DefaultCountryCode string
}

func NewMapper(domain, defaultCountryCode string) (Mapper, error) {
	domain = strings.ToLower(strings.Trim(strings.TrimSpace(domain), "@"))
	if domain == "" {
		domain = DefaultDomain
	}
	cc := strings.TrimPrefix(strings.TrimSpace(defaultCountryCode), "+")
	for _, r := range cc {
		if r < '0' || r > '9' {
			return Mapper{}, errors.New("identity: default country code must be numeric")
		}
	}
	if len(cc) > 3 {
		return Mapper{}, errors.New("identity: default country code is at most 3 digits")
	}
	return Mapper{Domain: domain, DefaultCountryCode: cc}, nil
}

// Normalize returns the phone number as '+' followed by digits.
func (m Mapper) Normalize(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrInvalidPhone
	}

	hasPlus := strings.HasPrefix(phone, "+")
	if hasPlus {
		phone = phone[1:]
	}

	var digits strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	number := digits.String()

	if !hasPlus {
		switch {
		case strings.HasPrefix(number, "00"):
			number = number[2:]
		case m.DefaultCountryCode != "" && len(number) == nationalDigits && number[0] != '0':
			number = m.DefaultCountryCode + number
		case len(number) <= nationalDigits:
			return "", ErrMissingCountryCode
		}
	}

	if len(number) < minDigits || len(number) > maxDigits || number[0] == '0' {
		return "", ErrInvalidPhone
	}
	return "+" + number, nil
}

// ToLoginIdentifier normalizes phone and maps it to "<digits>@<domain>".
func (m Mapper) ToLoginIdentifier(phone string) (string, error) {
	normalized, err := m.Normalize(phone)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimPrefix(normalized, "+") + "@" + m.domain()), nil
}

// FromLoginIdentifier is the inverse of ToLoginIdentifier.
func (m Mapper) FromLoginIdentifier(identifier string) (string, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	digits, ok := strings.CutSuffix(identifier, "@"+m.domain())
	if !ok || len(digits) < minDigits || len(digits) > maxDigits {
		return "", ErrInvalidIdentifier
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrInvalidIdentifier
		}
	}
	return "+" + digits, nil
}

func (m Mapper) domain() string {
	if m.Domain == "" {
		return DefaultDomain
	}
	return strings.ToLower(m.Domain)
}
