package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quizforge/core-service/internal/models"
	"github.com/quizforge/core-service/internal/utils"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler streams aggregate changes to the signed-in client so every open
// tab converges on the same state without polling.
type WSHandler struct {
	BaseHandler
	upgrader websocket.Upgrader
}

func NewWSHandler(logger utils.Logger) *WSHandler {
	return &WSHandler{
		BaseHandler: NewBaseHandler(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type wsMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Stream godoc
// @Summary Subscribe to state changes
// @Description Upgrades to a websocket and pushes a fresh aggregate snapshot whenever it changes
// @Tags realtime
// @Security BearerAuth
// @Router /api/v1/ws [get]
func (h *WSHandler) Stream(c *gin.Context) {
	agg, err := GetAggregateFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "No active session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.LogError(c, err, "Websocket upgrade failed")
		return
	}
	defer conn.Close()

	changes, cancelChanges := agg.Subscribe()
	defer cancelChanges()

	send := make(chan wsMessage, 16)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	// Single writer goroutine; gorilla connections do not allow concurrent
	// writes, so pings and snapshots both funnel through send.
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader exists only to detect the client going away.
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send <- wsMessage{Type: "state", Payload: wsStateView(agg.Snapshot())}

	for {
		select {
		case _, ok := <-changes:
			if !ok {
				close(send)
				<-writerDone
				return
			}
			select {
			case send <- wsMessage{Type: "state", Payload: wsStateView(agg.Snapshot())}:
			default:
				// Client is slow; the pulse is only a hint and the next
				// snapshot carries the full state anyway.
			}
		case <-readerDone:
			close(send)
			<-writerDone
			return
		case <-writerDone:
			return
		case <-c.Request.Context().Done():
			close(send)
			<-writerDone
			return
		}
	}
}

func wsStateView(agg models.QuizAggregate) gin.H {
	return gin.H{
		"quizzes":        agg.Quizzes,
		"classes":        agg.Classes,
		"joined_classes": agg.JoinedClasses,
		"assignments":    agg.Assignments,
		"submissions":    agg.Submissions,
		"question_bank":  agg.QuestionBank,
		"progress":       agg.Progress,
	}
}
