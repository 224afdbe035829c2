package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/logger"
	"github.com/imrishuroy/foodie-orderflow/internal/negotiation"
)

// writeError maps negotiation errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var stale *negotiation.StaleTransitionError
	switch {
	case errors.As(err, &stale):
		// clients resync from current_status
		c.JSON(http.StatusConflict, gin.H{
			"error":           "stale_transition",
			"expected_status": stale.Expected,
			"current_status":  stale.Current,
		})
	case errors.Is(err, negotiation.ErrAlreadyRated):
		c.JSON(http.StatusConflict, gin.H{"error": "already_rated"})
	case errors.Is(err, negotiation.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, negotiation.ErrFoodItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "food_item_not_found"})
	case errors.Is(err, negotiation.ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_transition", "detail": err.Error()})
	case errors.Is(err, negotiation.ErrNotRatable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not_ratable", "detail": err.Error()})
	case errors.Is(err, negotiation.ErrFoodItemUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "food_item_unavailable"})
	case errors.Is(err, negotiation.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, negotiation.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "detail": err.Error()})
	default:
		logger.FromCtx(c.Request.Context()).Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
