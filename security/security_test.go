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

package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	v := NewInputValidator()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain command", "status", true},
		{"json payload", `{"command": "status"}`, true},
		{"empty", "", false},
		{"oversized", strings.Repeat("a", MaxInputLength+1), false},
		{"sql drop", "x DROP TABLE readings", false},
		{"sql comment", "status -- trailing", false},
		{"statement separator", "status; shutdown", false},
		{"script tag", "<script>alert(1)</script>", false},
		{"null byte", "status\x00", false},
		{"newline ok", "line1\nline2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Validate(tt.input); got != tt.want {
				t.Errorf("Validate(%q): expected %v, got %v", tt.input, tt.want, got)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	v := NewInputValidator()

	tests := []struct {
		input string
		want  string
	}{
		{"  status  ", "status"},
		{"sta\x00tus", "status"},
		{"keep\ttabs", "keep\ttabs"},
		{"bell\x07gone", "bellgone"},
	}

	for _, tt := range tests {
		if got := v.Sanitize(tt.input); got != tt.want {
			t.Errorf("Sanitize(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestTokenAuthenticator(t *testing.T) {
	a := NewTokenAuthenticator("plant-secret")

	if err := a.Authenticate([]byte("plant-secret")); err != nil {
		t.Fatalf("Authenticate failed for valid token: %v", err)
	}
	if err := a.Authenticate([]byte("wrong")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
	if err := a.Authenticate(nil); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for empty credential, got %v", err)
	}
}

func TestHash(t *testing.T) {
	data := []byte("telemetry report")
	digest := Hash(data)

	if len(digest) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(digest))
	}
	if !VerifyHash(data, digest) {
		t.Error("VerifyHash should accept the matching digest")
	}
	if VerifyHash([]byte("tampered"), digest) {
		t.Error("VerifyHash should reject tampered data")
	}
}
