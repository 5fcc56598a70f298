package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"triplab/internal/domain"
	"triplab/internal/middleware"
	"triplab/internal/planning"
	"triplab/internal/service"
	"triplab/pkg/errors"
	"triplab/pkg/logger"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveSendBuffer = 64
	liveMaxMessage = 64 << 10
)

// Inbound command types.
const (
	cmdToggle      = "toggle"
	cmdSetDates    = "set_dates"
	cmdView        = "view"
	cmdDragStart   = "drag_start"
	cmdDragEnter   = "drag_enter"
	cmdPointerMove = "pointer_move"
	cmdDragEnd     = "drag_end"
	cmdLock        = "lock"
	cmdFlush       = "flush"
)

// Outbound message types.
const (
	msgTrip      = "trip"
	msgSelection = "selection"
	msgEvent     = "event"
	msgLock      = "lock"
	msgError     = "error"
)

// liveCommand is one inbound frame. Only the fields of its Type are read.
type liveCommand struct {
	Type   string        `json:"type"`
	Date   string        `json:"date,omitempty"`
	Dates  []string      `json:"dates,omitempty"`
	Month  string        `json:"month,omitempty"`
	Grid   *gridGeometry `json:"grid,omitempty"`
	X      float64       `json:"x,omitempty"`
	Y      float64       `json:"y,omitempty"`
	Locked bool          `json:"locked,omitempty"`
}

// gridGeometry is the rendered geometry of the displayed month.
type gridGeometry struct {
	Left       float64 `json:"left"`
	Top        float64 `json:"top"`
	CellWidth  float64 `json:"cell_width"`
	CellHeight float64 `json:"cell_height"`
}

type liveError struct {
	Type    errors.ErrorType       `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type tripMessage struct {
	Type string        `json:"type"`
	Trip *TripResponse `json:"trip"`
}

type selectionMessage struct {
	Type  string        `json:"type"`
	Dates []domain.Date `json:"dates"`
}

type eventMessage struct {
	Type  string         `json:"type"`
	Event *service.Event `json:"event"`
}

type lockMessage struct {
	Type string              `json:"type"`
	Lock *service.LockResult `json:"lock"`
}

type errorMessage struct {
	Type  string     `json:"type"`
	Error *liveError `json:"error"`
}

// LiveHandler upgrades to a websocket carrying one traveler's live session.
type LiveHandler struct {
	sessions *service.SessionFactory
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewLiveHandler(sessions *service.SessionFactory, allowedOrigins []string, logger *logger.Logger) *LiveHandler {
	return &LiveHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.OriginChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// RegisterRoutes mounts GET /trips/{tripID}/live. Requires middleware.Auth.
func (h *LiveHandler) RegisterRoutes(r chi.Router) {
	r.Get("/trips/{tripID}/live", h.Live)
}

// liveConn is the outbound side of one connection. Hooks run on store
// delivery goroutines, so they only enqueue.
type liveConn struct {
	send   chan interface{}
	done   chan struct{}
	logger *logger.Logger
}

func (c *liveConn) push(msg interface{}) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.logger.Warn("Live send buffer full, message dropped")
	}
}

func (c *liveConn) pushError(err error) {
	appErr := errors.AsAppError(err)
	c.push(errorMessage{Type: msgError, Error: &liveError{
		Type:    appErr.Type,
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}

// Live handles GET /api/trips/{tripID}/live
func (h *LiveHandler) Live(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	tripID := chi.URLParam(r, "tripID")
	log := h.logger.WithTrip(tripID, ident.UserID)

	conn := &liveConn{
		send:   make(chan interface{}, liveSendBuffer),
		done:   make(chan struct{}),
		logger: log,
	}

	// The session outlives the upgrade request's deadline.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	// Opening before the upgrade lets membership errors go out as plain HTTP.
	session, err := h.sessions.Open(ctx, tripID, ident, service.SessionConfig{
		Notifier: service.NotifierFunc(func(ev service.Event) {
			conn.push(eventMessage{Type: msgEvent, Event: &ev})
		}),
		Hooks: service.SessionHooks{
			OnTrip: func(trip *domain.Trip) {
				resp := newTripResponse(trip)
				conn.push(tripMessage{Type: msgTrip, Trip: &resp})
			},
			OnSelection: func(dates []domain.Date) {
				conn.push(selectionMessage{Type: msgSelection, Dates: nonNilDates(dates)})
			},
			OnError: conn.pushError,
		},
	})
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	defer session.Close()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer ws.Close()
	log.Info("Live session connected")

	conn.push(selectionMessage{Type: msgSelection, Dates: nonNilDates(session.Selected())})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn)
	}()

	h.readPump(ctx, ws, session, conn)
	close(conn.done)
	<-writerDone
	log.Info("Live session disconnected")
}

func (h *LiveHandler) writePump(ws *websocket.Conn, conn *liveConn) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := ws.WriteJSON(msg); err != nil {
				conn.logger.WithError(err).Debug("Live write failed")
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = ws.Close()
				return
			}
		case <-conn.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		}
	}
}

func (h *LiveHandler) readPump(ctx context.Context, ws *websocket.Conn, session *service.Session, conn *liveConn) {
	ws.SetReadLimit(liveMaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(livePongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.WithError(err).Debug("Live read failed")
			}
			return
		}
		var cmd liveCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			// A malformed frame leaves the connection usable.
			conn.pushError(errors.NewValidationError("Invalid command", map[string]interface{}{"reason": err.Error()}))
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(livePongWait))

		if err := h.dispatch(ctx, session, conn, cmd); err != nil {
			conn.pushError(err)
		}
	}
}

func (h *LiveHandler) dispatch(ctx context.Context, session *service.Session, conn *liveConn, cmd liveCommand) error {
	switch cmd.Type {
	case cmdToggle:
		date, err := domain.ParseDate(cmd.Date)
		if err != nil {
			return err
		}
		_, err = session.Toggle(date)
		return err

	case cmdSetDates:
		dates := make([]domain.Date, 0, len(cmd.Dates))
		for _, s := range cmd.Dates {
			d, err := domain.ParseDate(s)
			if err != nil {
				return err
			}
			dates = append(dates, d)
		}
		_, err := session.SetDates(dates)
		return err

	case cmdView:
		month, err := time.Parse("2006-01", cmd.Month)
		if err != nil {
			return errors.NewValidationError("invalid month", map[string]interface{}{"month": cmd.Month, "format": "YYYY-MM"})
		}
		if err := session.SetMonth(month.Year(), month.Month()); err != nil {
			return err
		}
		if cmd.Grid != nil {
			session.SetGrid(planning.CalendarGrid{
				Year:       month.Year(),
				Month:      month.Month(),
				Left:       cmd.Grid.Left,
				Top:        cmd.Grid.Top,
				CellWidth:  cmd.Grid.CellWidth,
				CellHeight: cmd.Grid.CellHeight,
			})
		}
		return nil

	case cmdDragStart:
		date, err := domain.ParseDate(cmd.Date)
		if err != nil {
			return err
		}
		session.DragStart(date)
		return nil

	case cmdDragEnter:
		date, err := domain.ParseDate(cmd.Date)
		if err != nil {
			return err
		}
		session.DragEnter(date)
		return nil

	case cmdPointerMove:
		session.PointerMove(cmd.X, cmd.Y)
		return nil

	case cmdDragEnd:
		session.DragEnd()
		return nil

	case cmdLock:
		res, err := session.SetLocked(ctx, cmd.Locked)
		if err != nil {
			return err
		}
		conn.push(lockMessage{Type: msgLock, Lock: res})
		return nil

	case cmdFlush:
		return session.Flush(ctx)
	}
	return errors.NewValidationError(fmt.Sprintf("unknown command %q", cmd.Type), nil)
}

func nonNilDates(dates []domain.Date) []domain.Date {
	if dates == nil {
		return []domain.Date{}
	}
	return dates
}
