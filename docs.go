// sessionflow drives a client-side OIDC session lifecycle: load a
// configuration, recover a persisted session, sign in or refresh as needed,
// validate the access token with the provider, and make one authorized call
// against a protected API.
//
// See README.md
package sessionflow
