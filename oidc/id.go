package oidc

import (
	"fmt"

	"github.com/hashicorp/vault/sdk/helper/base62"
)

// DefaultIdLength is the length of IDs generated by NewId
const DefaultIdLength = 10

// NewId generates an ID with an optional prefix.   The ID generated is
// suitable for a sign-in request's state or nonce
func NewId(optionalPrefix string) (string, error) {
	const op = "oidc.NewId"
	id, err := base62.Random(DefaultIdLength)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, ErrIdGeneratorFailed)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}
