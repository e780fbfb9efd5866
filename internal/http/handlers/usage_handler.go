// Usage HTTP handler.
//
// Exposes the read-only quota surface: today's usage counters alongside the
// caller's tier limits, so clients can render remaining budgets without
// probing the gated endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averbeck/go-deutsch-backend/internal/domain"
	"github.com/averbeck/go-deutsch-backend/internal/services"
)

// UsageLimits is the JSON view of a tier's daily limits. -1 means unlimited.
type UsageLimits struct {
	AIMinutesPerDay int      `json:"ai_minutes_per_day"`
	ScenariosPerDay int      `json:"scenarios_per_day"`
	MaxReviewCards  int      `json:"max_review_cards"`
	Extras          []string `json:"extras,omitempty"`
}

// UsageResponse pairs today's counters with the applicable limits.
type UsageResponse struct {
	Usage  *domain.UsageRecord `json:"usage"`
	Limits UsageLimits         `json:"limits"`
}

// GetUsage godoc
// @ID          getUsage
// @Summary     Today's usage and limits
// @Description Returns the caller's usage counters for the current UTC day and the
// @Description limits of their subscription tier (-1 means unlimited).
// @Tags        Usage
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Success     200  {object}  handlers.UsageResponse
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	record, features, err := h.quotaSvc.Usage(c.Request.Context(), userID(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, UsageResponse{
		Usage: record,
		Limits: UsageLimits{
			AIMinutesPerDay: features.AIMinutesPerDay,
			ScenariosPerDay: features.ScenariosPerDay,
			MaxReviewCards:  features.MaxReviewCards,
			Extras:          features.Extras,
		},
	})
}

// ensure the concrete quota service satisfies the handler contract.
var _ QuotaService = (*services.QuotaService)(nil)
