package shop

import (
	"crypto/subtle"
	"net/http"

	"github.com/Suhaibinator/SDispatch/pkg/dispatch"
	"go.uber.org/zap"
)

// BasicAuth guards every path under its prefix with HTTP Basic Authentication.
// Authenticated requests continue down the chain with the user name stored under "user".
type BasicAuth struct {
	Realm       string
	Credentials map[string]string // username -> password
	Logger      *zap.Logger
}

// Handle implements dispatch.Handler.
func (a *BasicAuth) Handle(req *dispatch.Request, res *dispatch.Response, next dispatch.Next) error {
	user, ok := a.authenticate(req)
	if !ok {
		a.Logger.Warn("Authentication failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("remote_addr", req.RemoteAddr),
		)
		res.Set("WWW-Authenticate", `Basic realm="`+a.Realm+`", charset="UTF-8"`)
		return res.SendStatus(http.StatusUnauthorized)
	}

	req.Set("user", user)
	return next()
}

func (a *BasicAuth) authenticate(req *dispatch.Request) (string, bool) {
	username, password, ok := (&http.Request{Header: req.Header}).BasicAuth()
	if !ok {
		return "", false
	}

	expected, exists := a.Credentials[username]
	if !exists || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return "", false
	}
	return username, true
}
