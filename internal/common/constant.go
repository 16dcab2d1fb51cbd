package common

// AccessTokenQueryParam is the websocket handshake query parameter carrying
// the bearer token.
const AccessTokenQueryParam = "token"

// AuthorizationHeaderName is the HTTP header carrying "Bearer <token>".
const AuthorizationHeaderName = "Authorization"
