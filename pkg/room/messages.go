package room

import (
	"github.com/vango-dev/inkwell/pkg/history"
	"github.com/vango-dev/inkwell/pkg/protocol"
)

// ResultMessage converts an engine result into its wire message.
func ResultMessage(res history.Result, requestID uint64, producerID string) *protocol.Result {
	return &protocol.Result{
		Op:         protocol.Op(res.Op),
		RequestID:  requestID,
		ProducerID: producerID,
		Action:     res.Action,
		Cursor:     res.Cursor,
		Length:     res.Length,
		Revision:   res.Revision,
		Epoch:      res.Epoch,
	}
}

// SnapshotMessage converts an engine snapshot into its wire message.
func SnapshotMessage(snap history.Snapshot, requestID uint64) *protocol.Snapshot {
	return &protocol.Snapshot{
		RequestID: requestID,
		RoomID:    snap.RoomID,
		Active:    snap.Active,
		Cursor:    snap.Cursor,
		Length:    snap.Length,
		Revision:  snap.Revision,
		Base:      snap.Base,
		Epoch:     snap.Epoch,
	}
}
