package realtime

import (
	"context"

	"github.com/gofiber/contrib/socketio"
	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"

	"github.com/argus-labs/arena/pkg/transport"
)

// LocalUserID is the fiber local holding the gateway authenticated user of a socket.
const LocalUserID = "userID"

// SocketSender delivers frames through the socketio connection pool.
type SocketSender struct{}

var _ transport.Sender = SocketSender{}

func (SocketSender) Send(connID string, frame []byte) error {
	return eris.Wrapf(socketio.EmitTo(connID, frame, socketio.TextMessage), "conn %s", connID)
}

// Handler registers the router on the socketio listeners and returns the websocket handler.
// socketio listeners are process wide, so call it once.
func (r *Router) Handler(ctx context.Context) fiber.Handler {
	socketio.On(socketio.EventMessage, func(ep *socketio.EventPayload) {
		r.Handle(ctx, ep.Kws.GetUUID(), ep.Data)
	})
	socketio.On(socketio.EventDisconnect, func(ep *socketio.EventPayload) {
		r.Disconnect(ctx, ep.Kws.GetUUID())
	})
	socketio.On(socketio.EventError, func(ep *socketio.EventPayload) {
		r.log.Warn().Err(ep.Error).Str("conn", ep.Kws.GetUUID()).Msg("Socket error")
	})

	return socketio.New(func(kws *socketio.Websocket) {
		userID, _ := kws.Locals(LocalUserID).(string)
		r.Connect(kws.GetUUID(), userID)
	})
}

// Close closes every open socket.
func Close() {
	socketio.Broadcast([]byte(""), socketio.CloseMessage)
	socketio.Fire(socketio.EventClose, nil)
}
