package handlers

import (
	"context"
	"net/http"
	"strconv"

	"homepro/models"
	"homepro/services/booking"
	"homepro/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BookingService is the booking state machine as seen by HTTP.
type BookingService interface {
	Create(ctx context.Context, p models.Principal, proID string, price int64) (*models.Booking, error)
	Get(ctx context.Context, id string, p models.Principal) (*models.Booking, error)
	History(ctx context.Context, id string, p models.Principal) ([]models.StatusEntry, error)
	List(ctx context.Context, p models.Principal, f booking.ListFilter) ([]models.Booking, error)
	Transition(ctx context.Context, id string, target models.BookingStatus, p models.Principal) (*models.Booking, error)
	Authorize(ctx context.Context, id, paymentMethodRef string, p models.Principal) (*models.Booking, string, error)
	RetryCapture(ctx context.Context, id string, p models.Principal) (*models.Booking, error)
}

type BookingHandler struct {
	svc BookingService
}

func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

// CreateBookingHandler handles POST /api/bookings.
func (h *BookingHandler) CreateBookingHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, booking.CodeValidation, "Invalid request", err.Error())
		return
	}
	b, err := h.svc.Create(c.Request.Context(), p, req.ProID, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	getLogger(c).Info("booking requested", zap.String("bookingId", b.ID), zap.String("proId", b.ProID))
	c.JSON(http.StatusCreated, b)
}

// ListBookingsHandler handles GET /api/bookings. Admins pass role and
// partyId query parameters.
func (h *BookingHandler) ListBookingsHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	f := booking.ListFilter{
		Role:    models.Role(c.Query("role")),
		PartyID: c.Query("partyId"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			utils.JSONError(c, http.StatusBadRequest, booking.CodeValidation, "limit must be a positive integer", raw)
			return
		}
		f.Limit = limit
	}
	list, err := h.svc.List(c.Request.Context(), p, f)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Booking{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

// GetBookingHandler handles GET /api/bookings/:id.
func (h *BookingHandler) GetBookingHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	b, err := h.svc.Get(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView{Booking: b, AllowedTransitions: booking.NextStatuses(b.Status, p.Role)})
}

// bookingView adds the statuses the caller may move the booking to next.
type bookingView struct {
	*models.Booking
	AllowedTransitions []models.BookingStatus `json:"allowedTransitions"`
}

// GetHistoryHandler handles GET /api/bookings/:id/history.
func (h *BookingHandler) GetHistoryHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	history, err := h.svc.History(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookingId": c.Param("id"), "statusHistory": history})
}

// TransitionHandler handles POST /api/bookings/:id/transition.
func (h *BookingHandler) TransitionHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, booking.CodeValidation, "Invalid request", err.Error())
		return
	}
	id := c.Param("id")
	b, err := h.svc.Transition(c.Request.Context(), id, req.TargetStatus, p)
	if err == nil {
		getLogger(c).Info("booking transitioned", zap.String("bookingId", id), zap.String("status", string(b.Status)))
	}
	respondBooking(c, http.StatusOK, b, err)
}

type authorizeResponse struct {
	Booking           *models.Booking      `json:"booking"`
	HoldRef           string               `json:"holdRef"`
	AlreadyAuthorized bool                 `json:"alreadyAuthorized"`
	Error             *utils.ErrorResponse `json:"error,omitempty"`
}

// AuthorizeHandler handles POST /api/bookings/:id/authorize.
func (h *BookingHandler) AuthorizeHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req models.AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.JSONError(c, http.StatusBadRequest, booking.CodeValidation, "Invalid request", err.Error())
		return
	}

	b, holdRef, err := h.svc.Authorize(c.Request.Context(), c.Param("id"), req.PaymentMethodRef, p)
	resp := authorizeResponse{Booking: b, HoldRef: holdRef}
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case booking.CodeOf(err) == booking.CodeAlreadyAuthorized:
		resp.AlreadyAuthorized = true
		c.JSON(http.StatusOK, resp)
	case booking.IsPartialSuccess(err) && b != nil:
		body := errorBody(err)
		resp.Error = &body
		c.JSON(http.StatusAccepted, resp)
	default:
		respondError(c, err)
	}
}

// RetryCaptureHandler handles POST /api/bookings/:id/capture.
func (h *BookingHandler) RetryCaptureHandler(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	b, err := h.svc.RetryCapture(c.Request.Context(), c.Param("id"), p)
	respondBooking(c, http.StatusOK, b, err)
}
