package backend

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer(t *testing.T) {
	issuer, err := newTokenIssuer([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	token, exp, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Add(editTokenTTL); !exp.Equal(want) {
		t.Errorf("exp = %v, want %v", exp, want)
	}
	c, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !c.CanEdit || c.Editor != editTokenSubject {
		t.Errorf("capability = %+v", c)
	}

	other, _ := newTokenIssuer([]byte("other"))
	other.now = issuer.now
	if _, err := other.Verify(token); err == nil {
		t.Error("token verified with the wrong secret")
	}

	issuer.now = func() time.Time { return now.Add(editTokenTTL + time.Minute) }
	if _, err := issuer.Verify(token); err == nil {
		t.Error("expired token verified")
	}
}

func TestTokenIssuerRejectsOtherTokens(t *testing.T) {
	issuer, _ := newTokenIssuer([]byte("secret"))

	noEdit := jwt.NewWithClaims(jwt.SigningMethodHS256, editClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	s, err := noEdit.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(s); err == nil {
		t.Error("token without edit claim verified")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, editClaims{Edit: true})
	s, _ = noExp.SignedString([]byte("secret"))
	if _, err := issuer.Verify(s); err == nil {
		t.Error("token without expiry verified")
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, editClaims{Edit: true})
	s, _ = unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := issuer.Verify(s); err == nil {
		t.Error("unsigned token verified")
	}
}

func TestRandomTokenSecret(t *testing.T) {
	a, err := newTokenIssuer(nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := newTokenIssuer(nil)
	token, _, _ := a.Issue()
	if _, err := b.Verify(token); err == nil {
		t.Error("random secrets should differ")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("pitch")
	if err != nil {
		t.Fatal(err)
	}
	if !checkPassword(hash, "pitch") {
		t.Error("correct password rejected")
	}
	if checkPassword(hash, "catch") {
		t.Error("wrong password accepted")
	}
	if checkPassword("", "pitch") || checkPassword(hash, "") {
		t.Error("empty hash or password accepted")
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("empty password hashed")
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"user@example.com": "u***@example.com",
		"":                 "<empty>",
		"nope":             "****",
		"@example.com":     "****",
	}
	for in, want := range tests {
		if got := maskEmail(in); got != want {
			t.Errorf("maskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func capabilityProbe(t *testing.T, mw func(http.Handler) http.Handler, cookies ...*http.Cookie) Capability {
	t.Helper()
	var got Capability
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = capabilityFromContext(r.Context())
	}))
	req := httptest.NewRequest("GET", "/api/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMockAuthMiddleware(t *testing.T) {
	mw := authMiddleware(Options{AuthMode: AuthModeMock}, nil)
	if c := capabilityProbe(t, mw); c.CanEdit {
		t.Errorf("no cookie: %+v", c)
	}
	c := capabilityProbe(t, mw, &http.Cookie{Name: mockEditorCookieName, Value: " Coach@Example.com "})
	if !c.CanEdit || c.Editor != "coach@example.com" {
		t.Errorf("mock cookie: %+v", c)
	}
}

func TestPasswordAuthMiddleware(t *testing.T) {
	issuer, _ := newTokenIssuer([]byte("secret"))
	opts := Options{AuthMode: AuthModePassword, AuthCookieName: "edit"}
	mw := authMiddleware(opts, issuer)

	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatal(err)
	}
	if c := capabilityProbe(t, mw, &http.Cookie{Name: "edit", Value: token}); !c.CanEdit {
		t.Errorf("valid token: %+v", c)
	}
	if c := capabilityProbe(t, mw, &http.Cookie{Name: defaultAuthCookieName, Value: token}); c.CanEdit {
		t.Errorf("token under the wrong cookie name: %+v", c)
	}
	if c := capabilityProbe(t, mw, &http.Cookie{Name: "edit", Value: "garbage"}); c.CanEdit {
		t.Errorf("garbage token: %+v", c)
	}
}

func TestJWTAuthMiddleware(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	jwks := fmt.Sprintf(`{"keys":[{"kty":"OKP","crv":"Ed25519","kid":"k1","x":%q}]}`, base64.RawURLEncoding.EncodeToString(pub))
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, jwks)
	}))
	defer jwksServer.Close()

	sign := func(kid string, key ed25519.PrivateKey, email string) *http.Cookie {
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
			"email": email,
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = kid
		s, err := token.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return &http.Cookie{Name: defaultAuthCookieName, Value: s}
	}

	opts := Options{
		AuthMode:    AuthModeSSO,
		AuthJWKSURL: jwksServer.URL,
		Editors:     []string{"coach@example.com"},
	}
	mw := authMiddleware(opts, nil)

	c := capabilityProbe(t, mw, sign("k1", priv, "Coach@example.com"))
	if !c.CanEdit || c.Editor != "coach@example.com" {
		t.Errorf("listed editor: %+v", c)
	}
	c = capabilityProbe(t, mw, sign("k1", priv, "parent@example.com"))
	if c.CanEdit || c.Editor != "parent@example.com" {
		t.Errorf("viewer: %+v", c)
	}

	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	if c := capabilityProbe(t, mw, sign("k1", otherPriv, "coach@example.com")); c.CanEdit || c.Editor != "" {
		t.Errorf("bad signature: %+v", c)
	}
	if c := capabilityProbe(t, mw, sign("k2", priv, "coach@example.com")); c.CanEdit {
		t.Errorf("unknown kid: %+v", c)
	}
}
