package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/reactor/pkg/reactive"
)

// Health is the /healthz response body.
type Health struct {
	Status  string         `json:"status"`
	Runtime string         `json:"runtime,omitempty"`
	Stats   reactive.Stats `json:"stats"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Health{
		Status:  "ok",
		Runtime: s.rt.Name(),
		Stats:   s.rt.Stats(),
	})
}

func (s *Server) handleCells(w http.ResponseWriter, r *http.Request) {
	cells := s.rt.Cells()
	if cells == nil {
		cells = []reactive.CellInfo{}
	}
	writeJSON(w, http.StatusOK, cells)
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	insp, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, insp.Info())
}

// handleWatch streams a CellInfo frame for the current state and then one
// per observed generation change. Intermediate generations may be skipped.
// The stream ends with a normal close frame when the cell disconnects.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	insp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	s.watchers.Add(1)
	defer s.watchers.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	// Drain client frames so control messages are handled and a client
	// close ends the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	info := insp.Info()
	logger := s.logger.With("cell_id", info.ID, "request_id", middleware.GetReqID(r.Context()))
	logger.Debug("watch started")

	for {
		if err := s.writeFrame(conn, info); err != nil {
			logger.Debug("watch write failed", "error", err)
			return
		}

		info, err = insp.WaitAfter(ctx, info.Generation)
		switch {
		case err == nil:
			continue
		case errors.Is(err, reactive.ErrDisconnected):
			s.closeStream(conn, websocket.CloseNormalClosure, "cell disconnected")
			logger.Debug("watch ended", "reason", "disconnected")
		case s.base.Err() != nil:
			s.closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			logger.Debug("watch ended", "reason", "shutdown")
		default:
			logger.Debug("watch ended", "reason", "client gone")
		}
		return
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, info reactive.CellInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WatchWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.config.WatchWriteTimeout))
}

// lookup resolves the {id} URL parameter, writing 400 or 404 on failure.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (reactive.Inspector, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid cell id "+strconv.Quote(raw))
		return nil, false
	}
	insp, ok := s.rt.Inspect(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "cell "+raw+" not found")
		return nil, false
	}
	return insp, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{
		Error:     msg,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
