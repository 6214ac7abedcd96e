// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security screens inbound client payloads and authenticates
// client credentials for the distribution service.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidToken is returned when a credential does not match.
var ErrInvalidToken = errors.New("security: invalid token")

// MaxInputLength caps inbound client payloads.
const MaxInputLength = 4096

// injectionPatterns are screened case-insensitively from any inbound
// payload before it reaches the rest of the system.
var injectionPatterns = []string{
	"drop table",
	"delete from",
	"insert into",
	"update ",
	"union select",
	"<script",
	"javascript:",
	"--",
	";",
}

// InputValidator screens and normalizes inbound client payloads.
type InputValidator struct {
	maxLength int
}

// NewInputValidator builds a validator with the default length cap.
func NewInputValidator() *InputValidator {
	return &InputValidator{maxLength: MaxInputLength}
}

// Validate reports whether input is safe to process. Oversized input,
// injection patterns, and control characters all fail.
func (v *InputValidator) Validate(input string) bool {
	if len(input) == 0 || len(input) > v.maxLength {
		return false
	}

	lower := strings.ToLower(input)
	for _, pattern := range injectionPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}

	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

// Sanitize trims whitespace and strips control characters. It does not
// make unsafe input safe; callers Validate first.
func (v *InputValidator) Sanitize(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// TokenAuthenticator accepts credentials matching a shared token. The
// comparison is constant time.
type TokenAuthenticator struct {
	tokenHash [sha256.Size]byte
}

// NewTokenAuthenticator builds an authenticator for the shared token.
// Only a hash of the token is retained.
func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{tokenHash: sha256.Sum256([]byte(token))}
}

// Authenticate checks a client credential against the shared token.
func (a *TokenAuthenticator) Authenticate(credential []byte) error {
	hash := sha256.Sum256(credential)
	if subtle.ConstantTimeCompare(hash[:], a.tokenHash[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// Hash returns the hex SHA-256 digest of data, used as an integrity
// check on distributed reports.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether data matches the hex digest.
func VerifyHash(data []byte, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(data)), []byte(digest)) == 1
}
