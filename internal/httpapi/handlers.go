package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"agent-softphone/internal/calls"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/reporting"
	"agent-softphone/internal/session"
	"agent-softphone/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Session is the coordinator as the control API sees it.
type Session interface {
	Do(ctx context.Context, intent session.Event) error
	Snapshot() session.State
}

type NoticeReader interface {
	Recent(ctx context.Context, limit int) ([]notice.Notice, error)
}

type CallHistory interface {
	ListRecent(ctx context.Context, agentIdentity string, limit int) ([]calls.Record, error)
}

type CallSummaries interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, hand an intent to the session, return JSON.
type Handlers struct {
	Session       Session
	Notices       NoticeReader
	History       CallHistory
	Summaries     CallSummaries
	AgentIdentity string
}

func (h Handlers) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.Session.Snapshot())
}

func (h Handlers) AcceptOffer(c *gin.Context) { h.do(c, session.AcceptOffer{}) }

func (h Handlers) RejectOffer(c *gin.Context) { h.do(c, session.RejectOffer{}) }

func (h Handlers) Hangup(c *gin.Context) { h.do(c, session.Hangup{}) }

func (h Handlers) ToggleMute(c *gin.Context) { h.do(c, session.ToggleMute{}) }

func (h Handlers) Register(c *gin.Context) { h.do(c, session.Register{}) }

func (h Handlers) Reconnect(c *gin.Context) { h.do(c, session.Reconnect{}) }

type placeCallRequest struct {
	To string `json:"to"`
}

func (h Handlers) PlaceCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to required"})
		return
	}
	h.do(c, session.PlaceCall{Address: req.To})
}

type addParticipantRequest struct {
	Phone string `json:"phone"`
}

// AddParticipant asks the backend to dial phone into the active conference.
// The dial-out itself is asynchronous; failures arrive as notices.
func (h Handlers) AddParticipant(c *gin.Context) {
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}
	h.do(c, session.AddParticipant{Phone: req.Phone})
}

func (h Handlers) ListNotices(c *gin.Context) {
	if h.Notices == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notices not configured"})
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	ns, err := h.Notices.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notice lookup failed"})
		return
	}
	if ns == nil {
		ns = []notice.Notice{}
	}
	c.JSON(http.StatusOK, gin.H{"notices": ns})
}

func (h Handlers) ListCallHistory(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call history not configured"})
		return
	}
	limit, ok := listLimit(c)
	if !ok {
		return
	}
	recs, err := h.History.ListRecent(c.Request.Context(), h.AgentIdentity, limit)
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call history lookup failed"})
		return
	}
	if recs == nil {
		recs = []calls.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

// CallsSummary aggregates the agent's history between from and to
// (RFC 3339). The range defaults to the last 24 hours.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Summaries == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}

	out, err := h.Summaries.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		AgentIdentity: h.AgentIdentity,
		Range:         reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// do runs intent and answers with the resulting session snapshot.
func (h Handlers) do(c *gin.Context, intent session.Event) {
	if err := h.Session.Do(c.Request.Context(), intent); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		} else {
			logger.FromGin(c).Debug("intent refused", "err", err)
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Session.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
