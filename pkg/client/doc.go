// Package client connects to a room over WebSocket and runs an action
// sequencer for it.
//
// All sequencer access happens on one event loop goroutine that serializes
// inbound frames, local commands and timeout ticks. A separate reader
// goroutine only decodes frames and forwards them to the loop. The loop is
// the only writer on the socket.
//
//	c, err := client.Dial(ctx, client.Config{URL: "ws://localhost:8080/ws/board"})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	c.Draw(ctx, action.Stroke{...})
//	c.Undo(ctx)
package client
