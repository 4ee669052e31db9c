package assessmentmodule

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/talentvine/webdesk/internal/errors"
)

type handler struct {
	logger  hclog.Logger
	manager *Manager
}

// The relay runs in a locked-down tab served from arbitrary assessment
// hosts, so origin checks happen at the session-id level, not here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type createSessionRequest struct {
	Username      string `json:"username" binding:"required"`
	Password      string `json:"password" binding:"required"`
	QuestionSetID string `json:"questionSetId"`
}

type submitRequest struct {
	Answers []Answer `json:"answers"`
}

func (h *handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleValidationError(c, "username and password are required", "credentials")
		return
	}

	session, err := h.manager.Create(c.Request.Context(), req.Username, req.Password, req.QuestionSetID)
	if err != nil {
		h.logger.Warn("session creation failed", "username", req.Username, "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "candidate authentication failed"})
		return
	}

	ctrl := session.Controller
	required := make([]string, 0, 2)
	for _, kind := range acquisitionOrder {
		if ctrl.required[kind] {
			required = append(required, string(kind))
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId":       ctrl.ID(),
		"state":           ctrl.State().String(),
		"durationSeconds": int(ctrl.duration.Seconds()),
		"requiredKinds":   required,
		"questionSet":     session.QuestionSet.Sanitized(),
	})
}

func (h *handler) getSession(c *gin.Context) {
	session, ok := h.manager.Get(c.Param("id"))
	if !ok {
		errors.HandleNotFound(c, "session", c.Param("id"))
		return
	}

	status := session.Controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"sessionId":        session.Controller.ID(),
		"state":            status.State.String(),
		"reason":           string(status.Reason),
		"remainingSeconds": status.RemainingSeconds,
		"violationCount":   status.ViolationCount,
		"score":            status.Score,
		"disqualified":     status.Disqualified,
	})
}

// requestPermissions runs the ordered capture acquisition. Permission
// failures are retryable: the session stays in AwaitingPermissions and
// the candidate can try again.
func (h *handler) requestPermissions(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		errors.HandleNotFound(c, "session", id)
		return
	}

	if err := h.manager.Begin(c.Request.Context(), id); err != nil {
		if pe, ok := AsPermissionError(err); ok {
			errors.NewPermissionError(string(pe.Reason), pe).ToGinResponse(c)
			return
		}
		session, _ := h.manager.Get(id)
		errors.NewInvalidStateError("start recording", session.Controller.State().String()).ToGinResponse(c)
		return
	}

	session, _ := h.manager.Get(id)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": id,
		"state":     session.Controller.State().String(),
	})
}

func (h *handler) submitSession(c *gin.Context) {
	id := c.Param("id")
	session, ok := h.manager.Get(id)
	if !ok {
		errors.HandleNotFound(c, "session", id)
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.HandleValidationError(c, "invalid answers payload", "answers")
		return
	}

	if err := h.manager.Submit(id, req.Answers); err != nil {
		errors.NewInvalidStateError("submit", session.Controller.State().String()).ToGinResponse(c)
		return
	}

	status := session.Controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"sessionId":    id,
		"state":        status.State.String(),
		"reason":       string(status.Reason),
		"score":        status.Score,
		"disqualified": status.Disqualified,
	})
}

func (h *handler) abortSession(c *gin.Context) {
	id := c.Param("id")
	session, ok := h.manager.Get(id)
	if !ok {
		errors.HandleNotFound(c, "session", id)
		return
	}

	if err := h.manager.Abort(id); err != nil {
		errors.HandleInternalError(c, "failed to abort session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": id,
		"state":     session.Controller.State().String(),
		"reason":    string(session.Controller.Reason()),
	})
}

func (h *handler) attachSocket(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.manager.Get(id); !ok {
		errors.HandleNotFound(c, "session", id)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	if err := h.manager.Attach(id, conn); err != nil {
		h.logger.Warn("relay attach failed", "session_id", id, "error", err)
		conn.Close()
	}
}
