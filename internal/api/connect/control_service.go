package connect

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
)

// Dispatcher runs transport controls.
type Dispatcher interface {
	DispatchName(ctx context.Context, name string) error
	Jump(ctx context.Context, verse int) error
}

// ControlService implements the ControlService RPC.
type ControlService struct {
	dispatcher Dispatcher
}

// NewControlService creates a new ControlService.
func NewControlService(deps Deps) *ControlService {
	return &ControlService{dispatcher: deps.Dispatcher}
}

// Ensure ControlService implements the interface.
var _ ControlServiceHandler = (*ControlService)(nil)

// Transport runs a named action and waits for its outcome.
func (s *ControlService) Transport(
	ctx context.Context,
	req *connect.Request[TransportRequest],
) (*connect.Response[ActionResponse], error) {
	action := req.Msg.Action
	if err := s.dispatcher.DispatchName(ctx, action); err != nil {
		return nil, toConnectError(fmt.Sprintf("transport %s", action), err)
	}
	return connect.NewResponse(&ActionResponse{Success: true, Message: action}), nil
}

// Jump plays a verse of the current chapter.
func (s *ControlService) Jump(
	ctx context.Context,
	req *connect.Request[JumpRequest],
) (*connect.Response[ActionResponse], error) {
	verse := req.Msg.Verse
	if err := s.dispatcher.Jump(ctx, verse); err != nil {
		return nil, toConnectError(fmt.Sprintf("jump %d", verse), err)
	}
	return connect.NewResponse(&ActionResponse{
		Success: true,
		Message: fmt.Sprintf("jumped to verse %d", verse),
	}), nil
}
