package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bookstore-orderflow/internal/orders"
	"github.com/imrishuroy/bookstore-orderflow/internal/validation"
)

func (s *server) handleGetOrder(c *gin.Context) {
	o, err := s.cfg.Orders.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "get order failed", "err", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "could not load order")
		return
	}
	if o == nil {
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *server) handleUpdateShippingStatus(c *gin.Context) {
	var req validation.UpdateShippingStatusRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		return
	}

	ref := c.Param("reference")
	o, err := s.cfg.Orders.UpdateShippingStatus(c.Request.Context(), ref, req.Expected, req.Status)
	switch {
	case err == nil:
		s.logger.InfoContext(c.Request.Context(), "shipping status updated", "reference", ref, "status", req.Status)
		c.JSON(http.StatusOK, o)
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
	case errors.Is(err, orders.ErrStatusMismatch):
		writeError(c, http.StatusConflict, "STATUS_MISMATCH", err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	default:
		s.logger.ErrorContext(c.Request.Context(), "update shipping status failed", "reference", ref, "err", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "could not update order")
	}
}
