package connect

import (
	"net/http"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Deps holds the service collaborators. Subscriber and Cache are optional.
type Deps struct {
	Session    Session
	Dispatcher Dispatcher
	Subscriber Subscriber
	Cache      CacheChecker
	Token      string
}

// NewHandler mounts both services. PlayerService is open; ControlService
// requires the admin token when one is set.
func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()

	playerPath, playerHandler := NewPlayerServiceHandler(NewPlayerService(deps))
	controlPath, controlHandler := NewControlServiceHandler(
		NewControlService(deps),
		connect.WithInterceptors(NewAdminAuthInterceptor(deps.Token)),
	)

	mux.Handle(playerPath, playerHandler)
	mux.Handle(controlPath, controlHandler)
	return mux
}

// NewServer serves h over HTTP/1.1 and HTTP/2 cleartext.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(h, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
