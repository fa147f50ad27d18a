package handlers

import (
	"errors"
	"net/http"

	"homepro/middleware"
	"homepro/models"
	"homepro/services/booking"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorStatus maps lifecycle error codes to HTTP statuses.
var errorStatus = map[string]int{
	booking.CodeUnauthorized:            http.StatusForbidden,
	booking.CodeNotFound:                http.StatusNotFound,
	booking.CodeInvalidTransition:       http.StatusConflict,
	booking.CodeConflict:                http.StatusConflict,
	booking.CodeValidation:              http.StatusUnprocessableEntity,
	booking.CodePaymentPartialFailure:   http.StatusAccepted,
	booking.CodePaymentRequired:         http.StatusAccepted,
	booking.CodeAlreadyAuthorized:       http.StatusOK,
	booking.CodeGatewayUnavailable:      http.StatusServiceUnavailable,
	booking.CodeInvalidWebhookSignature: http.StatusBadRequest,
}

func statusFor(err error) int {
	if status, ok := errorStatus[booking.CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes a lifecycle error. Unknown errors become a 500 with no
// internal detail.
func respondError(c *gin.Context, err error) {
	var e *booking.Error
	if !errors.As(err, &e) {
		getLogger(c).Error("unhandled error", zap.Error(err))
		utils.JSONError(c, http.StatusInternalServerError, "internal", "Internal Server Error", "")
		return
	}
	details := ""
	if e.Err != nil {
		details = e.Err.Error()
	}
	utils.JSONError(c, statusFor(err), e.Code, e.Message, details)
}

// partialResponse is the 202 body: the committed booking plus what is still
// outstanding.
type partialResponse struct {
	Booking *models.Booking     `json:"booking"`
	Error   utils.ErrorResponse `json:"error"`
}

// respondBooking writes a booking, or booking plus error for partial success.
func respondBooking(c *gin.Context, status int, b *models.Booking, err error) {
	if err == nil {
		c.JSON(status, b)
		return
	}
	if booking.IsPartialSuccess(err) && b != nil {
		getLogger(c).Warn("request committed with outstanding payment", zap.String("bookingId", b.ID), zap.Error(err))
		c.JSON(http.StatusAccepted, partialResponse{Booking: b, Error: errorBody(err)})
		return
	}
	respondError(c, err)
}

func errorBody(err error) utils.ErrorResponse {
	var e *booking.Error
	if errors.As(err, &e) {
		return utils.ErrorResponse{Message: e.Message, Code: e.Code}
	}
	return utils.ErrorResponse{Message: err.Error()}
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		utils.JSONError(c, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
	}
	return p, ok
}
