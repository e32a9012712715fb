// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy defines requirements for the admin bootstrap password.
type PasswordPolicy struct {
	// MinLength is the minimum password length.
	MinLength int

	// RequireUppercase requires at least one uppercase letter.
	RequireUppercase bool

	// RequireLowercase requires at least one lowercase letter.
	RequireLowercase bool

	// RequireDigit requires at least one digit.
	RequireDigit bool

	// ForbidCommonPasswords blocks well-known weak passwords.
	ForbidCommonPasswords bool

	// ForbidUsernameSimilarity prevents passwords containing the username.
	ForbidUsernameSimilarity bool
}

// DefaultPasswordPolicy returns the policy applied to the admin account.
// The admin account controls provider cookies and import jobs, so the
// bar is higher than for a typical end-user password.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:                12,
		RequireUppercase:         true,
		RequireLowercase:         true,
		RequireDigit:             true,
		ForbidCommonPasswords:    true,
		ForbidUsernameSimilarity: true,
	}
}

// charClasses holds the results of character class analysis.
type charClasses struct {
	hasUpper bool
	hasLower bool
	hasDigit bool
}

func analyzeCharClasses(password string) charClasses {
	var cc charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			cc.hasUpper = true
		case unicode.IsLower(r):
			cc.hasLower = true
		case unicode.IsDigit(r):
			cc.hasDigit = true
		}
	}
	return cc
}

// Validate checks a password against the policy and returns every
// violation, not just the first one.
func (p PasswordPolicy) Validate(password string, username string) []string {
	var violations []string

	if len(password) < p.MinLength {
		violations = append(violations,
			fmt.Sprintf("password must be at least %d characters (got %d)", p.MinLength, len(password)))
	}

	cc := analyzeCharClasses(password)
	if p.RequireUppercase && !cc.hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !cc.hasLower {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !cc.hasDigit {
		violations = append(violations, "password must contain at least one digit")
	}

	if p.ForbidCommonPasswords && isCommonPassword(password) {
		violations = append(violations, "password is too common and easily guessable")
	}

	if p.ForbidUsernameSimilarity && username != "" && isSimilarToUsername(password, username) {
		violations = append(violations, "password is too similar to username")
	}

	return violations
}

// ValidateWithError is a convenience wrapper that joins all violations
// into a single error, or returns nil when the password passes.
func (p PasswordPolicy) ValidateWithError(password string, username string) error {
	violations := p.Validate(password, username)
	if len(violations) > 0 {
		return errors.New(strings.Join(violations, "; "))
	}
	return nil
}

// commonPasswords is a short denylist of passwords seen constantly in
// credential-stuffing lists. Matching is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password":      {},
	"password1":     {},
	"password123":   {},
	"password1234":  {},
	"passw0rd":      {},
	"123456":        {},
	"12345678":      {},
	"123456789":     {},
	"1234567890":    {},
	"qwerty":        {},
	"qwerty123":     {},
	"abc123":        {},
	"admin":         {},
	"admin123":      {},
	"administrator": {},
	"letmein":       {},
	"welcome":       {},
	"welcome1":      {},
	"iloveyou":      {},
	"dragon":        {},
	"monkey":        {},
	"danmuhive":     {},
	"danmaku":       {},
	"changeme":      {},
	"changeme123":   {},
}

func isCommonPassword(password string) bool {
	_, found := commonPasswords[strings.ToLower(password)]
	return found
}

// isSimilarToUsername reports whether the password contains the
// username (or its reverse) as a substring, case-insensitively.
func isSimilarToUsername(password, username string) bool {
	lp := strings.ToLower(password)
	lu := strings.ToLower(username)
	if len(lu) < 3 {
		return lp == lu
	}
	return strings.Contains(lp, lu) || strings.Contains(lp, reverseString(lu))
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
