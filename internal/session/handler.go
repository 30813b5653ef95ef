package session

import (
	"context"
	"fmt"

	"github.com/rbright/livecap/internal/ipc"
)

// Handle serves control-socket commands against the controller.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var err error
	switch req.Command {
	case ipc.CommandStart:
		err = c.Start(ctx)
	case ipc.CommandStop:
		err = c.Stop(ctx)
	case ipc.CommandStatus:
	default:
		return ipc.Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	status := c.Status()
	resp := ipc.Response{
		OK:      err == nil,
		State:   string(status.State),
		Clients: status.Clients,
		Message: stateMessage(status.State, status.LastError),
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}
