package common

const (
	// AuthorizationHeaderName carries the bearer credential on sync requests.
	AuthorizationHeaderName = "Authorization"

	// BearerPrefix precedes the token value in AuthorizationHeaderName.
	BearerPrefix = "Bearer "
)
