package fulfillment

import (
	"context"
	"net/http"
	"regexp"
)

// Only the exact "Bearer <token>" scheme is accepted, case-sensitive.
var bearerRegexp = regexp.MustCompile(`^Bearer (.+)$`)

// TokenResolver resolves a bearer token value to the bound user id.
// An unknown token resolves to an empty uid without error.
type TokenResolver interface {
	Lookup(ctx context.Context, token string) (string, error)
}

// ResolveUser extracts the bearer token from the Authorization header and
// resolves it to a user id. A missing header, malformed scheme or unknown
// token yields an empty uid. When the header is supplied multiple times,
// only the first value is considered.
//
// This runs before any device lookup so unauthenticated callers learn
// nothing about device existence.
func ResolveUser(ctx context.Context, headers http.Header, resolver TokenResolver) (string, error) {
	values := headers.Values("Authorization")
	if len(values) == 0 {
		return "", nil
	}

	match := bearerRegexp.FindStringSubmatch(values[0])
	if match == nil {
		return "", nil
	}

	return resolver.Lookup(ctx, match[1])
}
