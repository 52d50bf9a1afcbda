package hostgateway

import "context"

// Authenticator abstracts the whitelist lookup so that the backing source
// can be swapped; callers only need the interface below.
type Authenticator interface {
	IsWhitelisted(ctx context.Context, address [20]byte) (bool, error)
}

// AllowAll is the non-production Authenticator: every address passes. It
// must never be selected when the binary is built for production.
type AllowAll struct{}

func (AllowAll) IsWhitelisted(context.Context, [20]byte) (bool, error) { return true, nil }

// StaticWhitelist is an Authenticator backed by a fixed set of addresses.
// The host binary builds one from its --whitelist flag; tests use it too.
type StaticWhitelist map[[20]byte]bool

func (w StaticWhitelist) IsWhitelisted(_ context.Context, address [20]byte) (bool, error) {
	return w[address], nil
}
