// Package common provides shared types used by the SDispatch packages.
package common

import (
	"net/http"
)

// Middleware is a function that wraps an http.Handler.
// The HTTP layer in front of the dispatcher is assembled from these.
type Middleware func(http.Handler) http.Handler
