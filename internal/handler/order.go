package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	pingInterval     = 30 * time.Second
	writeWait        = 10 * time.Second
)

var allStatuses = []model.OrderStatus{
	model.StatusFilled,
	model.StatusFilledPrivately,
	model.StatusSettleForwarded,
	model.StatusSettled,
}

// Subscriber is the source of status events for the stream endpoint.
type Subscriber interface {
	Subscribe() (<-chan notify.Event, func())
}

type OrderHandler struct {
	store    repository.OrderStore
	events   Subscriber
	upgrader websocket.Upgrader
}

func NewOrderHandler(store repository.OrderStore, events Subscriber) *OrderHandler {
	return &OrderHandler{
		store:  store,
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// read-only feed; browsers on any origin may watch it
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Get serves GET /v1/orders/:id.
func (h *OrderHandler) Get(c *gin.Context) {
	id, err := parseOrderID(c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	rec, err := h.store.FindByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		c.Error(apperrors.NewNotFound("order " + id.Hex() + " not found"))
		return
	}
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, model.NewOrderView(rec))
}

// List serves GET /v1/orders?status=FILLED,SETTLED&limit=50&offset=100, oldest
// first.
func (h *OrderHandler) List(c *gin.Context) {
	statuses := allStatuses
	if raw := c.Query("status"); raw != "" {
		statuses = nil
		for _, part := range strings.Split(raw, ",") {
			s, err := model.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(part)))
			if err != nil {
				c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), nil))
				return
			}
			statuses = append(statuses, s)
		}
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.Error(apperrors.New(apperrors.ErrInvalidRequest, "limit must be a positive integer", nil))
			return
		}
		limit = min(parsed, maxListLimit)
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.Error(apperrors.New(apperrors.ErrInvalidRequest, "offset must be a non-negative integer", nil))
			return
		}
		offset = parsed
	}

	records, err := h.store.ListOrders(c.Request.Context(), repository.ListQuery{
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	views := make([]model.OrderView, len(records))
	for i, rec := range records {
		views[i] = model.NewOrderView(rec)
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

// Stream serves GET /v1/orders/stream, pushing every status transition to
// the websocket as JSON until the client goes away.
func (h *OrderHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.events.Subscribe()
	defer cancel()

	// the client never sends anything; reading only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func parseOrderID(raw string) (model.OrderID, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return model.OrderID{}, apperrors.New(apperrors.ErrInvalidRequest, "order id must be 0x-prefixed 32 byte hex", nil)
	}
	return common.BytesToHash(b), nil
}
