// Package limits provides centralized size limits and input validation
// for the shroud core. This ensures consistent validation across the
// identity, contact, and group components.
package limits

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/opd-ai/shroud/errs"
)

const (
	// MaxNicknameLength is the maximum length of a nickname in bytes.
	MaxNicknameLength = 32

	// MinPasswordLength is the minimum length of an identity password.
	MinPasswordLength = 8

	// MaxPasswordLength is the maximum length of an identity password.
	MaxPasswordLength = 128

	// MaxGroupNameLength is the maximum length of a group name in bytes.
	MaxGroupNameLength = 64

	// MaxGroupDescriptionLength is the maximum length of a group
	// description in bytes.
	MaxGroupDescriptionLength = 256

	// DefaultMaxContacts is the default contact directory capacity.
	DefaultMaxContacts = 1000

	// DefaultMaxGroupMembers is the default group membership capacity,
	// owner included.
	DefaultMaxGroupMembers = 50

	// MaxPlaintextMessage is the maximum plaintext message size accepted
	// for envelope encryption.
	MaxPlaintextMessage = 64 * 1024

	// MaxWireFrame is the absolute maximum for any framed network read.
	// This prevents memory exhaustion from untrusted peers.
	MaxWireFrame = 1024 * 1024
)

// ValidateNickname checks that a nickname is non-blank, within
// MaxNicknameLength, and restricted to [A-Za-z0-9_-].
func ValidateNickname(nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return fmt.Errorf("%w: nickname is blank", errs.ErrValidation)
	}
	if len(nickname) > MaxNicknameLength {
		return fmt.Errorf("%w: nickname length %d exceeds limit %d", errs.ErrValidation, len(nickname), MaxNicknameLength)
	}
	for _, r := range nickname {
		if !isNicknameRune(r) {
			return fmt.Errorf("%w: nickname contains disallowed character %q", errs.ErrValidation, r)
		}
	}
	return nil
}

func isNicknameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// ValidatePassword checks the identity password length bounds. The
// password content is otherwise unrestricted.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password shorter than %d characters", errs.ErrValidation, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password longer than %d characters", errs.ErrValidation, MaxPasswordLength)
	}
	return nil
}

// ValidateGroupName checks that a group name is non-blank, within
// MaxGroupNameLength, and printable.
func ValidateGroupName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: group name is blank", errs.ErrValidation)
	}
	if len(name) > MaxGroupNameLength {
		return fmt.Errorf("%w: group name length %d exceeds limit %d", errs.ErrValidation, len(name), MaxGroupNameLength)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: group name contains non-printable character", errs.ErrValidation)
		}
	}
	return nil
}

// ValidateGroupDescription checks the group description length bound.
// An empty description is allowed.
func ValidateGroupDescription(description string) error {
	if len(description) > MaxGroupDescriptionLength {
		return fmt.Errorf("%w: description length %d exceeds limit %d", errs.ErrValidation, len(description), MaxGroupDescriptionLength)
	}
	return nil
}

// ValidateMessageSize checks a plaintext message against
// MaxPlaintextMessage. Empty messages are rejected.
func ValidateMessageSize(message []byte) error {
	if len(message) == 0 {
		return fmt.Errorf("%w: empty message", errs.ErrValidation)
	}
	if len(message) > MaxPlaintextMessage {
		return fmt.Errorf("%w: message size %d exceeds limit %d", errs.ErrValidation, len(message), MaxPlaintextMessage)
	}
	return nil
}
