package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// oidcDiscovery is the subset of the .well-known/openid-configuration
// document the API needs: the middleware only verifies operator tokens,
// so the jwks_uri is the one field that matters.
type oidcDiscovery struct {
	Issuer   string `json:"issuer"`
	JWKSURI  string `json:"jwks_uri"`
	TokenURL string `json:"token_endpoint"`
}

// OIDCProvider is a verified discovery result for one issuer.
type OIDCProvider struct {
	Issuer  string
	JWKSURI string
}

// NewOIDCProvider resolves the issuer's discovery document. The issuer
// claim in the document must match the configured issuer, otherwise a
// misconfigured or spoofed endpoint would swap in foreign signing keys.
func NewOIDCProvider(issuerURL string) (*OIDCProvider, error) {
	issuerURL = strings.TrimRight(issuerURL, "/")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(issuerURL + "/.well-known/openid-configuration")
	if err != nil {
		return nil, fmt.Errorf("fetch OIDC discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc oidcDiscovery
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode OIDC discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("OIDC discovery document missing jwks_uri")
	}
	if doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != issuerURL {
		return nil, fmt.Errorf("OIDC issuer mismatch: configured %s, document says %s", issuerURL, doc.Issuer)
	}

	return &OIDCProvider{Issuer: issuerURL, JWKSURI: doc.JWKSURI}, nil
}

// JWKSKeyFunc returns a jwt.Keyfunc backed by the discovered JWKS URI.
// Keys are cached and refreshed on unknown key ids to survive rotation.
func (p *OIDCProvider) JWKSKeyFunc() jwt.Keyfunc {
	return jwksKeyFunc(p.JWKSURI)
}
