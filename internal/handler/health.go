package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/gin-gonic/gin"
)

const headTimeout = 3 * time.Second

type HealthHandler struct {
	registry *domain.Registry
}

func NewHealthHandler(registry *domain.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "relaygate"})
}

// Domains reports every configured domain with its current head. A domain
// whose node cannot be reached is listed with the error.
func (h *HealthHandler) Domains(c *gin.Context) {
	clients := h.registry.All()
	views := make([]model.DomainView, len(clients))
	for i, dc := range clients {
		views[i] = model.DomainView{DomainID: dc.DomainID(), Name: dc.Name(), Account: dc.Account()}
		ctx, cancel := context.WithTimeout(c.Request.Context(), headTimeout)
		head, err := dc.CurrentHead(ctx)
		cancel()
		if err != nil {
			views[i].Error = err.Error()
			continue
		}
		views[i].Head = head
	}
	c.JSON(http.StatusOK, gin.H{"domains": views})
}
