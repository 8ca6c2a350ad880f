package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/sdk/helper/base62"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based PKCE challenge method
	S256 ChallengeMethod = "S256"
)

// verifierLen is the length of PKCE code verifiers per RFC 7636 section 4.1
// (43 to 128 chars); we use the minimum.
const verifierLen = 43

// CodeVerifier represents an oauth PKCE code verifier and its derived
// challenge.
type CodeVerifier struct {
	verifier  string
	method    ChallengeMethod
	challenge string
}

// NewCodeVerifier creates a new CodeVerifier using the S256 challenge method.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := base62.Random(verifierLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, err)
	}
	v := &CodeVerifier{
		verifier: data,
		method:   S256,
	}
	v.challenge, err = CreateCodeChallenge(v.method, v)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

// CreateCodeChallenge derives a code challenge from a verifier using the
// given method.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		sum := sha256.Sum256([]byte(v.verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("%s: %s is not a supported challenge method: %w", op, method, ErrInvalidParameter)
	}
}

// Verifier returns the verifier's random data
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Method returns the verifier's challenge method
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// Challenge returns the verifier's derived code challenge
func (v *CodeVerifier) Challenge() string { return v.challenge }
