package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter         = errors.New("invalid parameter")
	ErrNilParameter             = errors.New("nil parameter")
	ErrInvalidConfiguration     = errors.New("invalid configuration")
	ErrInvalidCACert            = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed        = errors.New("id generation failed")
	ErrResponseStateInvalid     = errors.New("oidc response state is invalid")
	ErrMissingIdToken           = errors.New("id_token is missing")
	ErrInvalidNonce             = errors.New("invalid nonce")
	ErrLoginFailed              = errors.New("login failed")
	ErrLoginCanceled            = errors.New("login canceled")
	ErrLoginTimeout             = errors.New("login timed out")
	ErrRefreshFailed            = errors.New("token refresh failed")
	ErrMissingRefreshToken      = errors.New("refresh_token is missing")
	ErrIntrospectionFailed      = errors.New("token introspection failed")
	ErrIntrospectionUnsupported = errors.New("provider does not advertise an introspection endpoint")
	ErrStaleToken               = errors.New("token was not issued recently enough")
	ErrLogoutUnsupported        = errors.New("provider does not advertise an end session endpoint")
)
