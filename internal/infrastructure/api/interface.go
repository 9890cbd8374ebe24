package api

import "context"

// Sender sends one request. The transport Client and the queueing
// interceptor both satisfy it.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Credentials is the session state the transport reads and refreshes.
type Credentials interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(ctx context.Context, access, refresh string) error
	Clear(ctx context.Context) error
}
