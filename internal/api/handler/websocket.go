package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-recognition/internal/api/dto"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 5 * time.Second

// StreamResult handles GET /api/v1/ws/:job_id
// Upgrades to a websocket, sends the job's outcome once and closes. The socket is
// closed without a message when no outcome arrives in time, which is also what a
// dead job looks like.
func (h *RecognitionHandler) StreamResult(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Warn("Websocket upgrade failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.resultWaitTimeout)
	defer cancel()

	// the client never sends anything; a read error means it went away
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	outcomes, err := h.service.SubscribeResult(ctx, jobID)
	if err != nil {
		h.logger.Error("Failed to subscribe to job result",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		h.closeSocket(conn, websocket.CloseInternalServerErr, "result unavailable")
		return
	}

	outcome, ok := <-outcomes
	if !ok {
		h.logger.Info("No result before websocket deadline",
			slog.String("job_id", jobID),
		)
		h.closeSocket(conn, websocket.CloseNormalClosure, "no result")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(dto.NewOutcomeDTO(&outcome)); err != nil {
		h.logger.Warn("Failed to send job result",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Debug("Job result sent over websocket",
		slog.String("job_id", jobID),
	)
	h.closeSocket(conn, websocket.CloseNormalClosure, "")
}

func (h *RecognitionHandler) closeSocket(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		h.logger.Debug("Failed to send websocket close", slog.String("error", err.Error()))
	}
}
