package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallycache/tally/internal/fastcount"
	appErrors "github.com/tallycache/tally/pkg/errors"
	"github.com/tallycache/tally/pkg/response"
	"github.com/tallycache/tally/pkg/validator"
)

// CountsHandler serves cached counts and precache operations.
type CountsHandler struct {
	registry *fastcount.Registry
	entries  *fastcount.EntryStore
}

// NewCountsHandler constructs the handler.
func NewCountsHandler(registry *fastcount.Registry, entries *fastcount.EntryStore) (*CountsHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("counts handler: registry is required")
	}
	if entries == nil {
		return nil, fmt.Errorf("counts handler: entry store is required")
	}
	return &CountsHandler{registry: registry, entries: entries}, nil
}

// Count resolves a count for one entity/manager pair. The optional "query"
// parameter addresses a designated query; it defaults to the all-rows count.
func (h *CountsHandler) Count(c *gin.Context) {
	entity := c.Param("entity")
	managerName := c.Param("manager")

	manager, err := h.registry.Lookup(entity, managerName)
	if err != nil {
		response.Error(c, err)
		return
	}

	queryName := c.Query("query")
	count, err := manager.CountNamed(c.Request.Context(), queryName)
	if err != nil {
		response.Error(c, err)
		return
	}

	if queryName == "" {
		queryName = "all"
	}
	response.Success(c, http.StatusOK, gin.H{
		"entity":  entity,
		"manager": managerName,
		"query":   queryName,
		"count":   count,
	})
}

// Entries lists the durable cache rows for one entity/manager pair,
// including expired ones, for operator inspection.
func (h *CountsHandler) Entries(c *gin.Context) {
	entity := c.Param("entity")
	managerName := c.Param("manager")

	if _, err := h.registry.Lookup(entity, managerName); err != nil {
		response.Error(c, err)
		return
	}

	entries, err := h.entries.List(c.Request.Context(), entity, managerName)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, "failed to list cached counts"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"entity":  entity,
		"manager": managerName,
		"entries": entries,
	})
}

type precacheRequest struct {
	Entity  string `json:"entity"`
	Manager string `json:"manager" validate:"required_with=Entity,omitempty,max=100"`
}

// Precache runs an immediate precache pass. With an empty body every manager
// is precached; naming an entity and manager limits the pass to that pair.
func (h *CountsHandler) Precache(c *gin.Context) {
	var req precacheRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid precache request payload"))
			return
		}
	}
	if err := validator.ValidateStruct(req); err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	if req.Entity == "" {
		reports := h.registry.PrecacheAll(c.Request.Context())
		response.Success(c, http.StatusOK, gin.H{"reports": reports})
		return
	}

	manager, err := h.registry.Lookup(req.Entity, req.Manager)
	if err != nil {
		response.Error(c, err)
		return
	}

	results := manager.Precache(c.Request.Context())
	response.Success(c, http.StatusOK, gin.H{
		"reports": []fastcount.PrecacheReport{{
			EntityKey:   manager.EntityKey(),
			ManagerName: manager.Name(),
			Results:     results,
		}},
	})
}
