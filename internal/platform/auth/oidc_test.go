package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// discoveryServer serves an openid-configuration whose issuer claim points
// back at the server itself, matching how a real provider answers.
func discoveryServer(t *testing.T, jwksURI string, mutate func(doc map[string]interface{})) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		doc := map[string]interface{}{
			"issuer":         server.URL,
			"token_endpoint": server.URL + "/token",
			"jwks_uri":       jwksURI,
		}
		if mutate != nil {
			mutate(doc)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}))
	return server
}

// newSigningKey generates an RSA key pair and its published JWKS form.
func newSigningKey(t *testing.T, kid string) (*rsa.PrivateKey, JWKSKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	pub := &priv.PublicKey
	return priv, JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// jwksServer publishes whatever key set keys points at on every request
// and counts fetches so tests can assert cache behaviour.
func jwksServer(keys *[]JWKSKey, fetches *int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fetches != nil {
			*fetches++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: *keys})
	}))
}

func TestOIDCProvider_Discovery(t *testing.T) {
	keys := []JWKSKey{}
	ks := jwksServer(&keys, nil)
	defer ks.Close()

	server := discoveryServer(t, ks.URL, nil)
	defer server.Close()

	provider, err := NewOIDCProvider(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != ks.URL {
		t.Errorf("expected jwks_uri=%s, got %s", ks.URL, provider.JWKSURI)
	}
	if provider.Issuer != server.URL {
		t.Errorf("expected issuer=%s, got %s", server.URL, provider.Issuer)
	}
}

func TestOIDCProvider_IssuerMismatch(t *testing.T) {
	server := discoveryServer(t, "https://idp.example.com/jwks", func(doc map[string]interface{}) {
		doc["issuer"] = "https://evil.example.com"
	})
	defer server.Close()

	if _, err := NewOIDCProvider(server.URL); err == nil {
		t.Fatal("expected error when discovery issuer differs from configured issuer")
	}
}

func TestOIDCProvider_InvalidIssuer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewOIDCProvider(server.URL); err == nil {
		t.Fatal("expected error when the issuer has no discovery document")
	}
	if _, err := NewOIDCProvider("http://127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable issuer")
	}
}

func TestOIDCProvider_MissingJWKSURI(t *testing.T) {
	server := discoveryServer(t, "", func(doc map[string]interface{}) {
		delete(doc, "jwks_uri")
	})
	defer server.Close()

	if _, err := NewOIDCProvider(server.URL); err == nil {
		t.Fatal("expected error for missing jwks_uri")
	}
}

func TestOIDCProvider_JWKSKeyFunc(t *testing.T) {
	_, jwk := newSigningKey(t, "console-signing-key")
	keys := []JWKSKey{jwk}
	ks := jwksServer(&keys, nil)
	defer ks.Close()

	server := discoveryServer(t, ks.URL, nil)
	defer server.Close()

	provider, err := NewOIDCProvider(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSKeyFunc() == nil {
		t.Fatal("JWKSKeyFunc returned nil")
	}
}

func TestJWKSCache_FetchAndHit(t *testing.T) {
	priv, jwk := newSigningKey(t, "console-key")
	keys := []JWKSKey{jwk}
	fetches := 0
	server := jwksServer(&keys, &fetches)
	defer server.Close()

	cache := NewJWKSCache(server.URL, 10*time.Minute)

	key, err := cache.GetKey("console-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(priv.PublicKey.N) != 0 || key.E != priv.PublicKey.E {
		t.Error("fetched key does not match the published one")
	}

	// Second lookup inside the TTL must come from the cache.
	if _, err := cache.GetKey("console-key"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if fetches != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", fetches)
	}
}

func TestJWKSCache_RefetchAfterTTL(t *testing.T) {
	_, jwk := newSigningKey(t, "short-lived")
	keys := []JWKSKey{jwk}
	fetches := 0
	server := jwksServer(&keys, &fetches)
	defer server.Close()

	cache := NewJWKSCache(server.URL, time.Millisecond)

	if _, err := cache.GetKey("short-lived"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.GetKey("short-lived"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetches < 2 {
		t.Errorf("expected a second fetch after TTL expiry, got %d", fetches)
	}
}

func TestJWKSCache_KeyRotation(t *testing.T) {
	// The identity provider adds a second key; after the cache expires
	// a lookup for the new kid must see it.
	priv2, jwk2 := newSigningKey(t, "rotated-in")
	_, jwk1 := newSigningKey(t, "original")

	keys := []JWKSKey{jwk1}
	server := jwksServer(&keys, nil)
	defer server.Close()

	cache := NewJWKSCache(server.URL, time.Millisecond)

	if _, err := cache.GetKey("original"); err != nil {
		t.Fatalf("unexpected error fetching original key: %v", err)
	}

	keys = []JWKSKey{jwk1, jwk2}
	time.Sleep(5 * time.Millisecond)

	key, err := cache.GetKey("rotated-in")
	if err != nil {
		t.Fatalf("unexpected error after rotation: %v", err)
	}
	if key.N.Cmp(priv2.PublicKey.N) != 0 {
		t.Error("rotated key modulus does not match")
	}
}

func TestJWKSCache_KeyNotFound(t *testing.T) {
	_, jwk := newSigningKey(t, "existing-key")
	keys := []JWKSKey{jwk}
	server := jwksServer(&keys, nil)
	defer server.Close()

	cache := NewJWKSCache(server.URL, 5*time.Minute)
	if _, err := cache.GetKey("nonexistent-key"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWKSCache_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := NewJWKSCache(server.URL, 5*time.Minute)
	if _, err := cache.GetKey("any-key"); err == nil {
		t.Fatal("expected error when the JWKS endpoint fails")
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	priv, jwk := newSigningKey(t, "parse-test")

	pubKey, err := parseRSAPublicKey(jwk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pubKey.N.Cmp(priv.PublicKey.N) != 0 || pubKey.E != priv.PublicKey.E {
		t.Error("parsed key does not match original")
	}

	bad := []struct {
		name string
		jwk  JWKSKey
	}{
		{"invalid modulus", JWKSKey{Kty: "RSA", Kid: "bad", N: "!!!not-base64!!!", E: "AQAB"}},
		{"invalid exponent", JWKSKey{Kty: "RSA", Kid: "bad", N: jwk.N, E: "!!!not-base64!!!"}},
	}
	for _, tc := range bad {
		if _, err := parseRSAPublicKey(tc.jwk); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestJwksKeyFunc_NoKidHeader(t *testing.T) {
	keys := []JWKSKey{}
	server := jwksServer(&keys, nil)
	defer server.Close()

	keyFunc := jwksKeyFunc(server.URL)

	_, err := keyFunc(&jwt.Token{Header: map[string]interface{}{}})
	if err == nil {
		t.Fatal("expected error for token without kid")
	}
	if !strings.Contains(err.Error(), "kid") {
		t.Errorf("unexpected error message: %v", err)
	}
}
