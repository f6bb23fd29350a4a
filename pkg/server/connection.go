package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/room"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// Connection is one WebSocket connection bound to a room member.
type Connection struct {
	conn     *websocket.Conn
	member   *room.Member
	registry *room.Registry
	config   *ConnectionConfig
	logger   *slog.Logger

	control chan []byte
	done    chan struct{}
	once    sync.Once

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
}

func newConnection(conn *websocket.Conn, member *room.Member, registry *room.Registry, config *ConnectionConfig, logger *slog.Logger) *Connection {
	return &Connection{
		conn:     conn,
		member:   member,
		registry: registry,
		config:   config,
		logger: logger.With(
			"room", member.RoomID,
			"member", member.ID,
			"producer", member.ProducerID),
		control: make(chan []byte, config.ControlQueue),
		done:    make(chan struct{}),
	}
}

// Member returns the room member behind the connection.
func (c *Connection) Member() *room.Member {
	return c.member
}

// Done is closed when the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Start runs the read and write loops.
func (c *Connection) Start() {
	go c.ReadLoop()
	go c.WriteLoop()
}

// ReadLoop reads frames from the socket and dispatches them. It blocks until
// the connection is closed or a read fails.
func (c *Connection) ReadLoop() {
	defer c.Close()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.logger.Error("read error", "error", err)
			}
			return
		}
		c.bytesReceived.Add(uint64(len(data)))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("frame decode error", "error", err)
			c.reply(protocol.NewError(0, 0, err))
			continue
		}

		switch m := msg.(type) {
		case *protocol.Ping:
			c.reply(&protocol.Pong{Timestamp: m.Timestamp})
		case *protocol.Pong:
			c.logger.Debug("received pong")
		case *protocol.Close:
			c.logger.Info("client closing", "reason", m.Reason, "message", m.Message)
			return
		default:
			c.handleRequest(msg)
		}
	}
}

func (c *Connection) handleRequest(msg protocol.Message) {
	err := c.registry.HandleClientMessage(context.Background(), c.member.RoomID, c.member.ID, msg)
	switch {
	case err == nil:
	case errors.Is(err, ierrors.ErrUnknownMessage):
		// Not a request, so the registry did not answer it.
		c.logger.Warn("unexpected message from client", "type", msg.FrameType())
		c.reply(protocol.NewError(0, 0, err))
	case errors.Is(err, ierrors.ErrRoomNotFound):
		c.logger.Debug("request after leave", "error", err)
	default:
		// Already delivered to the requester as an error frame.
		c.logger.Debug("request failed", "error", err)
	}
}

// reply queues a message for the write loop. It drops the message when the
// control queue is full.
func (c *Connection) reply(msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error("encode reply", "error", err)
		return
	}
	select {
	case c.control <- frame:
	case <-c.done:
	default:
		c.logger.Warn("control queue full, reply dropped", "type", msg.FrameType())
	}
}

// WriteLoop sends outbox frames, replies and heartbeat pings. It runs until
// the outbox is closed, a write fails or the connection closes.
func (c *Connection) WriteLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()
	defer c.Close()

	outbox := c.member.Outbox()
	for {
		select {
		case frame, ok := <-outbox:
			if !ok {
				if c.member.Lagging() {
					c.sendLagging()
					return
				}
				c.writeClose(websocket.CloseNormalClosure, "room closed")
				return
			}
			if err := c.write(frame); err != nil {
				return
			}

		case frame := <-c.control:
			if err := c.write(frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// sendLagging tells the client it fell behind and must rejoin for a fresh
// snapshot, then closes the socket.
func (c *Connection) sendLagging() {
	c.logger.Warn("member lagging, closing connection", "dropped", c.member.Dropped())
	frame, err := protocol.Encode(&protocol.Close{Reason: protocol.CloseLagging, Message: "outbox overflow, rejoin"})
	if err == nil && c.write(frame) != nil {
		return
	}
	c.writeClose(websocket.CloseTryAgainLater, "lagging")
}

func (c *Connection) sendPing() error {
	frame, err := protocol.Encode(&protocol.Ping{Timestamp: uint64(time.Now().UnixMilli())})
	if err != nil {
		return err
	}
	return c.write(frame)
}

func (c *Connection) write(frame []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.logger.Error("write error", "error", err)
		return err
	}
	c.bytesSent.Add(uint64(len(frame)))
	return nil
}

func (c *Connection) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteTimeout))
}

// Close leaves the room and closes the socket. It is safe to call more than
// once.
func (c *Connection) Close() {
	c.once.Do(func() {
		close(c.done)
		if err := c.registry.Leave(c.member.RoomID, c.member.ID); err != nil && !errors.Is(err, ierrors.ErrRoomNotFound) {
			c.logger.Error("leave error", "error", err)
		}
		c.conn.Close()
		c.logger.Info("connection closed",
			"bytes_sent", c.bytesSent.Load(),
			"bytes_received", c.bytesReceived.Load(),
			"dropped", c.member.Dropped())
	})
}
