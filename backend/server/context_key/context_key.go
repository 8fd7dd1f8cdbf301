package contextKey

// key is unexported so that values stored by this package can only be
// retrieved through the exported keys below.
type key string

// UserIDKey is the request-context key under which the authenticated user's
// id is stored by the JWT middleware.
const UserIDKey = key("userID")

// JwtErrorKey is the request-context key under which a JWT parsing error is
// stored for downstream handlers to interpret.
const JwtErrorKey = key("jwtError")
