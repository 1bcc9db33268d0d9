package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/reconciler"
)

const maxWebhookBody = 1 << 20

func (s *server) handleWebhook(c *gin.Context) {
	// the signature covers the exact bytes, so the body is read raw
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not read request body")
		return
	}
	if len(body) > maxWebhookBody {
		s.logger.WarnContext(c.Request.Context(), "webhook body over limit", "limit", maxWebhookBody)
		writeError(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
		return
	}

	res, err := s.cfg.Reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader))
	if err != nil {
		status, code, detail := reconcileError(err)
		writeError(c, status, code, detail)
		return
	}

	switch res.Outcome {
	case reconciler.OutcomeDuplicate:
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Order already processed"})
	case reconciler.OutcomeIgnored:
		c.JSON(http.StatusOK, gin.H{"ok": true, "message": "Event ignored"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "orderId": res.Order.ID})
	}
}

// reconcileError maps reconciler failures onto HTTP. Authentication
// failures carry no detail.
func reconcileError(err error) (int, string, string) {
	switch {
	case errors.Is(err, reconciler.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature"
	case errors.Is(err, reconciler.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_FAILED", err.Error()
	case errors.Is(err, reconciler.ErrBookNotFound):
		return http.StatusNotFound, "BOOK_NOT_FOUND", "book not found"
	case errors.Is(err, reconciler.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK", "not enough stock to fulfil this order"
	default:
		return http.StatusInternalServerError, "PROCESSING_ERROR", "failed to process payment"
	}
}
