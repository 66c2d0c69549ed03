package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/tilawa/internal/app/notification"
)

const (
	// PlayerServiceName is the read-only service.
	PlayerServiceName = "tilawa.v1.PlayerService"
	// ControlServiceName is the token-guarded transport service.
	ControlServiceName = "tilawa.v1.ControlService"
)

const (
	PlayerServiceGetStatusProcedure   = "/tilawa.v1.PlayerService/GetStatus"
	PlayerServiceGetPlaylistProcedure = "/tilawa.v1.PlayerService/GetPlaylist"
	PlayerServiceWatchEventsProcedure = "/tilawa.v1.PlayerService/WatchEvents"
	ControlServiceTransportProcedure  = "/tilawa.v1.ControlService/Transport"
	ControlServiceJumpProcedure       = "/tilawa.v1.ControlService/Jump"
)

// PlayerServiceHandler serves status, playlist and notifications.
type PlayerServiceHandler interface {
	GetStatus(context.Context, *connect.Request[GetStatusRequest]) (*connect.Response[StatusResponse], error)
	GetPlaylist(context.Context, *connect.Request[GetPlaylistRequest]) (*connect.Response[PlaylistResponse], error)
	WatchEvents(context.Context, *connect.Request[WatchEventsRequest], *connect.ServerStream[notification.Notification]) error
}

// ControlServiceHandler serves transport controls.
type ControlServiceHandler interface {
	Transport(context.Context, *connect.Request[TransportRequest]) (*connect.Response[ActionResponse], error)
	Jump(context.Context, *connect.Request[JumpRequest]) (*connect.Response[ActionResponse], error)
}

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
}

// NewPlayerServiceHandler returns the mount path and handler for svc.
func NewPlayerServiceHandler(svc PlayerServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	getStatus := connect.NewUnaryHandler(PlayerServiceGetStatusProcedure, svc.GetStatus, opts...)
	getPlaylist := connect.NewUnaryHandler(PlayerServiceGetPlaylistProcedure, svc.GetPlaylist, opts...)
	watchEvents := connect.NewServerStreamHandler(PlayerServiceWatchEventsProcedure, svc.WatchEvents, opts...)

	return "/" + PlayerServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PlayerServiceGetStatusProcedure:
			getStatus.ServeHTTP(w, r)
		case PlayerServiceGetPlaylistProcedure:
			getPlaylist.ServeHTTP(w, r)
		case PlayerServiceWatchEventsProcedure:
			watchEvents.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// NewControlServiceHandler returns the mount path and handler for svc.
func NewControlServiceHandler(svc ControlServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	transport := connect.NewUnaryHandler(ControlServiceTransportProcedure, svc.Transport, opts...)
	jump := connect.NewUnaryHandler(ControlServiceJumpProcedure, svc.Jump, opts...)

	return "/" + ControlServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ControlServiceTransportProcedure:
			transport.ServeHTTP(w, r)
		case ControlServiceJumpProcedure:
			jump.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// PlayerServiceClient calls PlayerService.
type PlayerServiceClient struct {
	getStatus   *connect.Client[GetStatusRequest, StatusResponse]
	getPlaylist *connect.Client[GetPlaylistRequest, PlaylistResponse]
	watchEvents *connect.Client[WatchEventsRequest, notification.Notification]
}

// NewPlayerServiceClient creates a client for the server at baseURL.
func NewPlayerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PlayerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &PlayerServiceClient{
		getStatus:   connect.NewClient[GetStatusRequest, StatusResponse](httpClient, baseURL+PlayerServiceGetStatusProcedure, opts...),
		getPlaylist: connect.NewClient[GetPlaylistRequest, PlaylistResponse](httpClient, baseURL+PlayerServiceGetPlaylistProcedure, opts...),
		watchEvents: connect.NewClient[WatchEventsRequest, notification.Notification](httpClient, baseURL+PlayerServiceWatchEventsProcedure, opts...),
	}
}

// GetStatus calls tilawa.v1.PlayerService.GetStatus.
func (c *PlayerServiceClient) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[StatusResponse], error) {
	return c.getStatus.CallUnary(ctx, req)
}

// GetPlaylist calls tilawa.v1.PlayerService.GetPlaylist.
func (c *PlayerServiceClient) GetPlaylist(ctx context.Context, req *connect.Request[GetPlaylistRequest]) (*connect.Response[PlaylistResponse], error) {
	return c.getPlaylist.CallUnary(ctx, req)
}

// WatchEvents calls tilawa.v1.PlayerService.WatchEvents.
func (c *PlayerServiceClient) WatchEvents(ctx context.Context, req *connect.Request[WatchEventsRequest]) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.watchEvents.CallServerStream(ctx, req)
}

// ControlServiceClient calls ControlService.
type ControlServiceClient struct {
	transport *connect.Client[TransportRequest, ActionResponse]
	jump      *connect.Client[JumpRequest, ActionResponse]
}

// NewControlServiceClient creates a client for the server at baseURL.
func NewControlServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ControlServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &ControlServiceClient{
		transport: connect.NewClient[TransportRequest, ActionResponse](httpClient, baseURL+ControlServiceTransportProcedure, opts...),
		jump:      connect.NewClient[JumpRequest, ActionResponse](httpClient, baseURL+ControlServiceJumpProcedure, opts...),
	}
}

// Transport calls tilawa.v1.ControlService.Transport.
func (c *ControlServiceClient) Transport(ctx context.Context, req *connect.Request[TransportRequest]) (*connect.Response[ActionResponse], error) {
	return c.transport.CallUnary(ctx, req)
}

// Jump calls tilawa.v1.ControlService.Jump.
func (c *ControlServiceClient) Jump(ctx context.Context, req *connect.Request[JumpRequest]) (*connect.Response[ActionResponse], error) {
	return c.jump.CallUnary(ctx, req)
}
