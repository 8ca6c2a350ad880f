package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/sessionflow/sessionflow/internal/strutils"
)

// TestProvider is a local server that supports enough of a real identity
// provider to exercise the full session lifecycle in tests: discovery, the
// authorization and token endpoints (authorization_code and refresh_token
// grants, with PKCE verification), JWKS, and RFC 7662 introspection.  Parts
// of this started from Consul's oauthtest package, by way of the cap
// project's test provider.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks                *jose.JSONWebKeySet
	allowedRedirectURIs []string
	replySubject        string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	customClaims         map[string]interface{}
	omitIDToken          bool
	omitRefreshToken     bool
	tokenTTL             time.Duration
	issuedAtOffset       time.Duration
	introspectActive     bool
	introspectStatusCode int
	introspectMalformed  bool
	disableIntrospection bool

	// nonce and PKCE challenge captured from the last /auth request, echoed
	// back by /token
	authNonce     string
	authChallenge string

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider listening on a
// loopback TLS server.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject:         "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		tokenTTL:             5 * time.Minute,
		introspectActive:     true,
		introspectStatusCode: http.StatusOK,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the refresh_token value /token accepts
// for the refresh_token grant (and returns from successful exchanges).
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs
// for the OIDC workflow. If not configured a sample of "https://example.com"
// is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims lets you set claims to return in the JWT issued by the
// OIDC workflow.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetTokenTTL configures the expiry of issued tokens.
func (p *TestProvider) SetTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTTL = ttl
}

// SetIssuedAtOffset shifts the iat claim of issued tokens by the given
// offset (negative values back-date them), which lets tests trip the
// issued-at admission check.
func (p *TestProvider) SetIssuedAtOffset(offset time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issuedAtOffset = offset
}

// OmitIDTokens forces an error state where the /token endpoint does not
// return id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes /token leave out the refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetIntrospectActive configures the "active" value /introspect reports.
func (p *TestProvider) SetIntrospectActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.introspectActive = active
}

// SetIntrospectStatusCode makes /introspect reply with the given HTTP status
// (default 200).
func (p *TestProvider) SetIntrospectStatusCode(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.introspectStatusCode = code
}

// SetIntrospectMalformed makes /introspect return a payload without a
// boolean "active" member.
func (p *TestProvider) SetIntrospectMalformed(malformed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.introspectMalformed = malformed
}

// DisableIntrospection omits the introspection endpoint from the discovery
// config.
func (p *TestProvider) DisableIntrospection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableIntrospection = true
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign
// JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// issueTokens builds the /token success payload.  The id_token's nonce comes
// from the last /auth request.
func (p *TestProvider) issueTokens(w http.ResponseWriter) {
	now := time.Now().Add(p.issuedAtOffset)
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.tokenTTL)),
		Audience:  jwt.Audience{p.clientID},
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if p.authNonce != "" {
		privateClaims["nonce"] = p.authNonce
	}

	jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)

	reply := struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}{
		AccessToken: jwtData,
		IDToken:     jwtData,
		TokenType:   "Bearer",
		ExpiresIn:   int64(p.tokenTTL.Seconds()),
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	if !p.omitRefreshToken {
		reply.RefreshToken = p.expectedRefreshToken
	}
	if err := p.writeJSON(w, &reply); err != nil {
		return
	}
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer                string `json:"issuer"`
			AuthEndpoint          string `json:"authorization_endpoint"`
			TokenEndpoint         string `json:"token_endpoint"`
			JWKSURI               string `json:"jwks_uri"`
			IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
			EndSessionEndpoint    string `json:"end_session_endpoint"`
		}{
			Issuer:                p.Addr(),
			AuthEndpoint:          p.Addr() + "/auth",
			TokenEndpoint:         p.Addr() + "/token",
			JWKSURI:               p.Addr() + "/certs",
			IntrospectionEndpoint: p.Addr() + "/introspect",
			EndSessionEndpoint:    p.Addr() + "/logout",
		}
		if p.disableIntrospection {
			reply.IntrospectionEndpoint = ""
		}

		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}

		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		p.authNonce = qv.Get("nonce")
		p.authChallenge = qv.Get("code_challenge")

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}

		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

		return

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if err := p.writeJSON(w, p.jwks); err != nil {
			return
		}

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			case p.authChallenge != "" && !verifiesChallenge(p.authChallenge, req.FormValue("code_verifier")):
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "code verifier does not match challenge")
				return
			}
			p.issueTokens(w)

		case "refresh_token":
			if p.expectedRefreshToken == "" || req.FormValue("refresh_token") != p.expectedRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
			p.issueTokens(w)

		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		}

	case "/introspect":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.introspectStatusCode != http.StatusOK {
			w.WriteHeader(p.introspectStatusCode)
			return
		}
		if req.FormValue("token") == "" {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing token parameter")
			return
		}
		if p.introspectMalformed {
			_ = p.writeJSON(w, map[string]interface{}{"active": "maybe"})
			return
		}
		reply := map[string]interface{}{
			"active": p.introspectActive,
		}
		if p.introspectActive {
			reply["sub"] = p.replySubject
			reply["client_id"] = p.clientID
		}
		if err := p.writeJSON(w, reply); err != nil {
			return
		}

	case "/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// verifiesChallenge checks an S256 PKCE verifier against the challenge
// captured at /auth.
func verifiesChallenge(challenge, verifier string) bool {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	input := block.Bytes

	pub, err := x509.ParsePKIXPublicKey(input)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(ES256),
			},
		},
	}
}
