package room

// Mirror receives every frame broadcast to a room, in revision order, after
// it has been handed to the room's members. Publish must not block.
type Mirror interface {
	Publish(roomID string, frame []byte)
}
