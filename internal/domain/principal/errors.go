package principal

import "errors"

// ErrInvalidAuthResult is returned by FromAuth when an authenticator result
// claims a non-anonymous method but supplies neither a user id nor an
// api-key name to identify the caller.
var ErrInvalidAuthResult = errors.New("principal: auth result has no user id or api key name")
