package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vango-dev/inkwell/pkg/action"
	"github.com/vango-dev/inkwell/pkg/history"
	"github.com/vango-dev/inkwell/pkg/protocol"
	"github.com/vango-dev/inkwell/pkg/render"
	"github.com/vango-dev/inkwell/pkg/room"

	ierrors "github.com/vango-dev/inkwell/internal/errors"
)

// ActionView is the JSON form of an action.
type ActionView struct {
	ID         string       `json:"id"`
	ProducerID string       `json:"producer_id"`
	Index      int64        `json:"index"`
	Kind       string       `json:"kind"`
	Tool       string       `json:"tool,omitempty"`
	Color      string       `json:"color,omitempty"`
	Width      float32      `json:"width,omitempty"`
	Points     [][2]float32 `json:"points,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SnapshotView is the JSON form of a room snapshot.
type SnapshotView struct {
	RoomID   string       `json:"room_id"`
	Revision uint64       `json:"revision"`
	Cursor   int          `json:"cursor"`
	Length   int          `json:"length"`
	Base     int64        `json:"base"`
	Epoch    string       `json:"epoch"`
	Active   []ActionView `json:"active"`
}

func newActionView(a action.Action) ActionView {
	v := ActionView{
		ID:         a.ID,
		ProducerID: a.ProducerID,
		Index:      a.Index,
		Kind:       a.Tag().String(),
		CreatedAt:  a.CreatedAt,
	}
	if s, ok := a.Kind.(action.Stroke); ok {
		v.Tool = s.Tool.String()
		v.Color = s.Color
		v.Width = s.Width
		v.Points = make([][2]float32, len(s.Points))
		for i, p := range s.Points {
			v.Points[i] = [2]float32{p.X, p.Y}
		}
	}
	return v
}

func newSnapshotView(snap history.Snapshot) SnapshotView {
	v := SnapshotView{
		RoomID:   snap.RoomID,
		Revision: snap.Revision,
		Cursor:   snap.Cursor,
		Length:   snap.Length,
		Base:     snap.Base,
		Epoch:    snap.Epoch,
		Active:   make([]ActionView, len(snap.Active)),
	}
	for i, a := range snap.Active {
		v.Active[i] = newActionView(a)
	}
	return v
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.Rooms()
	if rooms == nil {
		rooms = []room.Info{}
	}
	s.writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "frame" {
		frame, err := protocol.Encode(room.SnapshotMessage(snap, 0))
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
		w.Write(frame)
		return
	}
	s.writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.registry.MembersOf(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Snapshot(chi.URLParam(r, "roomID"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	opts := render.DefaultSVGOptions()
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("width")); err == nil && v > 0 {
		opts.Width = v
	}
	if v, err := strconv.Atoi(q.Get("height")); err == nil && v > 0 {
		opts.Height = v
	}
	opts.Background = q.Get("background")

	canvas := render.NewCanvas()
	canvas.RenderFromHistory(snap.Active)

	w.Header().Set("Content-Type", "image/svg+xml")
	if err := canvas.WriteSVG(w, opts); err != nil {
		s.logger.Warn("svg write failed", "room", snap.RoomID, "error", err)
	}
}

// limitSnapshots rejects requests beyond the shared snapshot rate.
func (s *Server) limitSnapshots(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.snapshots.Allow() {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, ierrors.ErrRateLimited.WithDetail("snapshot limit %.2g/s", s.config.SnapshotRate))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ierrors.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ierrors.ErrRateLimited):
		status = http.StatusTooManyRequests
	default:
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{Code: ierrors.CodeOf(err), Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("json encode failed", "error", err)
	}
}
