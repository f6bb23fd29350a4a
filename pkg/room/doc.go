// Package room coordinates collaboration rooms.
//
// A Registry owns one history engine per room. Members join a room and
// receive every canonical result through a buffered outbox of encoded
// frames. Requests from a member are applied to the room's engine under the
// room lock, so every member observes results in revision order.
//
// Fan-out never blocks: when a member's outbox is full the frame is dropped
// and counted. The member's sequencer notices the revision gap and recovers
// with a snapshot.
//
// Errors are sent only to the member that caused them.
package room
