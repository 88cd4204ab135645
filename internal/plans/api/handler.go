package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/aevon-lab/project-carryover/internal/core/errors"
	"github.com/aevon-lab/project-carryover/internal/plans"
	"github.com/gin-gonic/gin"
)

// Handler handles plan, mapping and resource type HTTP requests.
type Handler struct {
	registry *plans.Registry
}

// NewHandler creates a new plans API handler.
func NewHandler(reg *plans.Registry) *Handler {
	return &Handler{registry: reg}
}

// MappingResponse is the body of a resolved mapping.
type MappingResponse struct {
	Kind         string `json:"kind"`
	ResourceType string `json:"resource_type"`
	PlanName     string `json:"plan_name"`
	PlanID       string `json:"plan_id"`
}

// ResourceTypeResponse is the body of GET /v1/provisioning/resources/:resource_id/type.
type ResourceTypeResponse struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

// planCreator and planGetter bind a typed resolver to gin handlers.
// The raw body is checked against the schema before the typed decode drops unknown fields.
func planCreator[T any](r *plans.Resolver[T], id func(T) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || !json.Valid(body) {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{ErrorType: apierrors.HttpInvalidJsonError, Message: "Invalid JSON body"})
			return
		}
		if err := r.ValidateJSON(body); err != nil {
			respondError(c, string(r.Kind()), err)
			return
		}

		var plan T
		if err := json.Unmarshal(body, &plan); err != nil {
			c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{ErrorType: apierrors.HttpInvalidJsonError, Message: "Invalid JSON body"})
			return
		}

		if err := r.Create(c.Request.Context(), id(plan), plan); err != nil {
			respondError(c, string(r.Kind()), err)
			return
		}

		slog.Info("[Resolver] Plan created", "kind", r.Kind(), "plan_id", id(plan))
		c.JSON(http.StatusCreated, plan)
	}
}

func planGetter[T any](r *plans.Resolver[T]) gin.HandlerFunc {
	return func(c *gin.Context) {
		planID := c.Param("plan_id")
		plan, ok, err := r.Resolve(c.Request.Context(), planID)
		if err != nil {
			respondError(c, string(r.Kind()), err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, apierrors.ErrorResponse{ErrorType: apierrors.HttpNotFoundError, Message: "plan " + planID + " not found"})
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// HandleCreateMapping handles POST /v1/provisioning/mappings/:kind/resources/:resource_type/plans/:plan_name/:plan_id.
func (h *Handler) HandleCreateMapping(c *gin.Context) {
	kind, err := plans.ParseMappingKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{ErrorType: apierrors.HttpInvalidPathError, Message: err.Error()})
		return
	}

	resourceType, planName, planID := c.Param("resource_type"), c.Param("plan_name"), c.Param("plan_id")
	if err := h.registry.CreateMapping(c.Request.Context(), kind, resourceType, planName, planID); err != nil {
		respondError(c, "mapping", err)
		return
	}

	c.JSON(http.StatusCreated, MappingResponse{
		Kind:         string(kind),
		ResourceType: resourceType,
		PlanName:     planName,
		PlanID:       planID,
	})
}

// HandleGetMapping handles GET /v1/provisioning/mappings/:kind/resources/:resource_type/plans/:plan_name.
func (h *Handler) HandleGetMapping(c *gin.Context) {
	kind, err := plans.ParseMappingKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{ErrorType: apierrors.HttpInvalidPathError, Message: err.Error()})
		return
	}

	resourceType, planName := c.Param("resource_type"), c.Param("plan_name")
	planID, err := h.registry.Mapping(c.Request.Context(), kind, resourceType, planName)
	if err != nil {
		respondError(c, "mapping", err)
		return
	}

	c.JSON(http.StatusOK, MappingResponse{
		Kind:         string(kind),
		ResourceType: resourceType,
		PlanName:     planName,
		PlanID:       planID,
	})
}

// HandleGetResourceType handles GET /v1/provisioning/resources/:resource_id/type.
func (h *Handler) HandleGetResourceType(c *gin.Context) {
	resourceID := c.Param("resource_id")
	resourceType, err := h.registry.ResourceType(c.Request.Context(), resourceID)
	if err != nil {
		respondError(c, "resource_type", err)
		return
	}
	c.JSON(http.StatusOK, ResourceTypeResponse{ResourceID: resourceID, ResourceType: resourceType})
}

func respondError(c *gin.Context, kind string, err error) {
	var detailer plans.ValidationDetailer
	switch {
	case errors.As(err, &detailer):
		c.JSON(http.StatusBadRequest, apierrors.ErrorResponse{
			ErrorType: apierrors.HttpSchemaValidationError,
			Message:   err.Error(),
			Details:   detailer.Details(),
		})
	case errors.Is(err, plans.ErrNotFound):
		c.JSON(http.StatusNotFound, apierrors.ErrorResponse{ErrorType: apierrors.HttpNotFoundError, Message: err.Error()})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		slog.Error("[Resolver] Request failed", "kind", kind, "error", err)
		c.JSON(http.StatusInternalServerError, apierrors.ErrorResponse{ErrorType: apierrors.HttpInternalError, Message: "Failed to process request"})
	}
}
