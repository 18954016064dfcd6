// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrForbidden is returned for a mutation attempted without the edit
// capability.
var ErrForbidden = errors.New("edit capability required")

type contextKey struct{}

// capabilityKey is the context key for the caller's Capability.
var capabilityKey contextKey

// Capability is what a caller is allowed to do. The zero value is a read-only
// viewer.
type Capability struct {
	Editor  string `json:"editor,omitempty"`
	CanEdit bool   `json:"canEdit"`
}

func withCapability(ctx context.Context, c Capability) context.Context {
	return context.WithValue(ctx, capabilityKey, c)
}

// capabilityFromContext returns the Capability set by the auth middleware.
func capabilityFromContext(ctx context.Context) Capability {
	if c, ok := ctx.Value(capabilityKey).(Capability); ok {
		return c
	}
	return Capability{}
}

// normalizeEmail ensures consistent casing and whitespace for editor ids.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// maskEmail obscures an email address for safe logging.
// e.g. "user@example.com" -> "u***@example.com"
func maskEmail(email string) string {
	if email == "" {
		return "<empty>"
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || len(parts[0]) < 1 {
		return "****"
	}
	return string(parts[0][0]) + "***@" + parts[1]
}

// HashPassword returns the bcrypt hash to put in editPasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const (
	editTokenTTL     = 12 * time.Hour
	editTokenSubject = "editor"
)

type editClaims struct {
	Edit bool `json:"edit"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and checks the HS256 edit tokens handed out on login.
type tokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// newTokenIssuer uses secret, or a random key when secret is empty. Tokens
// signed with a random key do not survive a restart.
func newTokenIssuer(secret []byte) (*tokenIssuer, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("token secret: %w", err)
		}
	}
	return &tokenIssuer{secret: secret, now: time.Now}, nil
}

func (ti *tokenIssuer) Issue() (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(editTokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, editClaims{
		Edit: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   editTokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

func (ti *tokenIssuer) Verify(tokenString string) (Capability, error) {
	var claims editClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.now), jwt.WithExpirationRequired())
	if err != nil {
		return Capability{}, err
	}
	if !token.Valid || !claims.Edit {
		return Capability{}, errors.New("token does not grant edit")
	}
	return Capability{Editor: claims.Subject, CanEdit: true}, nil
}

// passwordAuthMiddleware grants the edit capability to requests carrying a
// valid edit token cookie. Anything else proceeds as a viewer.
func passwordAuthMiddleware(opts Options, issuer *tokenIssuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(opts.cookieName())
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		c, err := issuer.Verify(cookie.Value)
		if err != nil {
			zap.S().Debugf("edit token rejected: %v", err)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCapability(r.Context(), c)))
	})
}

// mockAuthMiddleware treats the mock_editor cookie as a signed-in editor.
func mockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(mockEditorCookieName)
		if err == nil && cookie.Value != "" {
			ctx := withCapability(r.Context(), Capability{Editor: normalizeEmail(cookie.Value), CanEdit: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		next.ServeHTTP(w, r)
	})
}
