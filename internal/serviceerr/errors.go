// Package serviceerr defines the error taxonomy of the gateway.
// Every failure that can surface on the HTTP API is one of these errors;
// anything else is mapped to ErrUnknown before it reaches a client.
package serviceerr

import "net/http"

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeInvalidState   Code = "invalid_state"
	CodeTokenExchange  Code = "token_exchange_failed"
	CodeUserInfoFetch  Code = "user_info_fetch_failed"
	CodeClaimsMapping  Code = "claims_mapping_failed"
	CodeSessionInvalid Code = "session_invalid"
	CodeUnauthorized   Code = "unauthorized"
	CodeUnknown        Code = "unknown"
)

// Error carries an error code plus a human-readable description.
// The description is for server-side logs; clients only ever see the code
// and the HTTP status derived from it.
type Error struct {
	Err         Code
	Description string
}

var (
	ErrInvalidState   = &Error{Err: CodeInvalidState, Description: "state does not match a pending authorization attempt"}
	ErrTokenExchange  = &Error{Err: CodeTokenExchange, Description: "exchanging the authorization code failed"}
	ErrUserInfoFetch  = &Error{Err: CodeUserInfoFetch, Description: "fetching user info from the provider failed"}
	ErrClaimsMapping  = &Error{Err: CodeClaimsMapping, Description: "provider user info is missing mandatory claims"}
	ErrSessionInvalid = &Error{Err: CodeSessionInvalid, Description: "session is expired or tampered with"}
	ErrUnauthorized   = &Error{Err: CodeUnauthorized, Description: "authentication required"}
	ErrUnknown        = &Error{Err: CodeUnknown, Description: "unknown error"}
)

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code to the status returned to clients.
// Backchannel failures map to 502 because the provider, not the caller,
// is at fault; state and session problems map to 401 so clients simply
// re-authenticate.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeInvalidState, CodeSessionInvalid, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTokenExchange, CodeUserInfoFetch, CodeClaimsMapping:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
