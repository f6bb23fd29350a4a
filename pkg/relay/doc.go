// Package relay mirrors canonical room traffic over pub/sub so spectators in
// other processes can follow a room without joining it.
//
// A Publisher implements room.Mirror: the registry hands it every broadcast
// result frame and a worker republishes the frame on the room's channel with
// the mirrored flag set. A Follower subscribes to that channel, fetches the
// initial snapshot over HTTP and feeds both into a read-only sequencer.
//
// The Broker interface abstracts the pub/sub transport. NewRedisBroker backs
// it with Redis; MemoryBroker serves single-process setups and tests.
package relay
