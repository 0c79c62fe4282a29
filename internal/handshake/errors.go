package handshake

import "errors"

var (
	// ErrProviderUnreachable covers network errors, timeouts and 5xx answers.
	ErrProviderUnreachable = errors.New("identity provider unreachable")

	// ErrProviderRejected covers 4xx answers. They are never retried.
	ErrProviderRejected = errors.New("identity provider rejected the request")

	// ErrMalformedResponse means a 2xx body without the expected tokens.
	ErrMalformedResponse = errors.New("malformed identity provider response")

	// ErrUnknownProvider means the name is not in the provider table.
	ErrUnknownProvider = errors.New("unknown identity provider")

	// ErrTokenMismatch means the callback token is not the one this server
	// obtained in the first leg.
	ErrTokenMismatch = errors.New("callback token does not match pending request token")

	// ErrNoPendingHandshake means the callback arrived without the pending
	// cookie set by the first leg. It is always wrapped in ErrTokenMismatch.
	ErrNoPendingHandshake = errors.New("no pending handshake for this client")

	// ErrAuthorizationDenied means the user declined on the provider's page.
	ErrAuthorizationDenied = errors.New("user denied authorization")

	// ErrIllegalTransition means a leg tried to move the state machine along
	// an edge it does not have.
	ErrIllegalTransition = errors.New("illegal handshake transition")
)
