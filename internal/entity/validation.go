package entity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MessageMinLength  = 1
	MessageMaxLength  = 1000
	UserIdMaxLength   = 100
	UsernameMinLength = 3
	UsernameMaxLength = 30
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]+$`)

// ValidateMessageText checks the trimmed text length in characters.
func ValidateMessageText(text string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n < MessageMinLength {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if n > MessageMaxLength {
		return fmt.Errorf("%w: message cannot exceed %d characters", ErrValidation, MessageMaxLength)
	}
	return nil
}

func ValidateUserId(userId string) error {
	if userId == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(userId) > UserIdMaxLength {
		return fmt.Errorf("%w: user id cannot exceed %d characters", ErrValidation, UserIdMaxLength)
	}
	// '_' separates the ids inside conversation keys and invitation ids
	if strings.Contains(userId, "_") {
		return fmt.Errorf("%w: user id cannot contain '_'", ErrValidation)
	}
	return nil
}

// NormalizeUsername lower-cases and validates a username.
func NormalizeUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if len(username) < UsernameMinLength || len(username) > UsernameMaxLength {
		return "", fmt.Errorf("%w: username must be %d to %d characters", ErrValidation, UsernameMinLength, UsernameMaxLength)
	}
	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: username may only contain letters, digits, '_' and '.'", ErrValidation)
	}
	return username, nil
}
