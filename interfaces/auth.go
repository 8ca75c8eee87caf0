package interfaces

import "context"

// AuthNegotiator performs the three-message challenge/response exchange
// used when basic credentials are rejected. A failed negotiation returns
// ok=false rather than an error: the caller treats the connection as
// unauthenticated and surfaces a terminal auth failure on the next 401.
type AuthNegotiator interface {
	Negotiate(ctx context.Context, serverURL, username, domain, password string) (session string, ok bool)
}
