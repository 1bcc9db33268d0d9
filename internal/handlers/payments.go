package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/bookstore-orderflow/internal/idempotency"
	"github.com/imrishuroy/bookstore-orderflow/internal/paystack"
	"github.com/imrishuroy/bookstore-orderflow/internal/reconciler"
	"github.com/imrishuroy/bookstore-orderflow/internal/validation"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *server) handleInitiatePayment(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.InitiatePaymentRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	// the key is optional; without it every request starts a new checkout
	idempKey := c.GetHeader(idempotencyKeyHeader)
	if idempKey != "" && s.cfg.Idempotency != nil {
		normalized, _ := json.Marshal(req)
		created, err := s.cfg.Idempotency.CreateIfNotExists(ctx, idempKey, idempotency.HashRequest(normalized))
		if errors.Is(err, idempotency.ErrKeyReused) {
			writeError(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", err.Error())
			return
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "idempotency check failed", "err", err)
			writeError(c, http.StatusInternalServerError, "IDEMPOTENCY_CHECK_FAILED", "could not record request")
			return
		}
		if !created {
			s.replayIdempotent(c, idempKey)
			return
		}
	}

	amount, _ := paystack.ToMinor(req.Amount) // validated
	reference := uuid.NewString()
	result, err := s.cfg.Payments.Initialize(ctx, paystack.InitializeRequest{
		Email:       req.Email,
		Amount:      amount,
		Currency:    req.Currency,
		Reference:   reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    req.ProviderMetadata(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "initialize payment failed", "reference", reference, "err", err)
		if idempKey != "" && s.cfg.Idempotency != nil {
			// let the client retry with the same key
			if merr := s.cfg.Idempotency.MarkFailed(ctx, idempKey, fmt.Sprintf("initialize_failed: %v", err)); merr != nil {
				s.logger.WarnContext(ctx, "mark idempotency failed", "err", merr)
			}
		}
		writeError(c, http.StatusBadGateway, "PAYMENT_INIT_FAILED", "payment provider rejected the request")
		return
	}

	body, _ := json.Marshal(gin.H{
		"authorizationUrl": result.AuthorizationURL,
		"accessCode":       result.AccessCode,
		"reference":        result.Reference,
	})
	if idempKey != "" && s.cfg.Idempotency != nil {
		if err := s.cfg.Idempotency.MarkDone(ctx, idempKey, string(body), http.StatusOK); err != nil {
			s.logger.WarnContext(ctx, "mark idempotency done failed", "err", err)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (s *server) replayIdempotent(c *gin.Context, key string) {
	rec, err := s.cfg.Idempotency.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "IDEMPOTENCY_CHECK_FAILED", "could not load previous request")
		return
	}
	if rec == nil {
		writeError(c, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "previous request expired; retry")
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		writeError(c, http.StatusInternalServerError, "UNKNOWN_IDEMPOTENCY_STATUS", rec.Status)
	}
}

// handleVerifyPayment confirms a payment with the provider and runs it
// through the same reconciler as the webhook.
func (s *server) handleVerifyPayment(c *gin.Context) {
	ctx := c.Request.Context()

	var req validation.VerifyPaymentRequest
	if err := validation.BindAndValidate(c, &req, s.validate); err != nil {
		return
	}

	charge, err := s.cfg.Payments.Verify(ctx, req.Reference)
	if err != nil {
		var apiErr *paystack.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "VERIFICATION_FAILED", "detail": apiErr.Message})
			return
		}
		s.logger.ErrorContext(ctx, "verify payment failed", "reference", req.Reference, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "PROVIDER_UNAVAILABLE", "detail": "could not reach payment provider"})
		return
	}
	if charge.Status != paystack.StatusSuccess {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "PAYMENT_NOT_SUCCESSFUL",
			"detail":  fmt.Sprintf("payment status is %q", charge.Status),
		})
		return
	}
	if charge.Reference == "" {
		charge.Reference = req.Reference
	}
	if req.Metadata != nil {
		if ignored := catalogOverrides(charge.Metadata, *req.Metadata); len(ignored) > 0 {
			s.logger.WarnContext(ctx, "ignoring client-supplied catalog fields on verify",
				"reference", charge.Reference, "fields", ignored)
		}
		charge.Metadata = mergeMetadata(charge.Metadata, *req.Metadata)
	}

	res, err := s.cfg.Reconciler.Reconcile(ctx, *charge)
	if err != nil {
		status, code, detail := reconcileError(err)
		c.JSON(status, gin.H{"success": false, "error": code, "detail": detail})
		return
	}

	orderID := charge.Reference
	if res.Order != nil {
		orderID = res.Order.ID
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"orderId":          orderID,
		"alreadyProcessed": res.Outcome == reconciler.OutcomeDuplicate,
	})
}

// mergeMetadata keeps what the provider echoed and fills missing buyer
// identity from the client. What was bought is only ever taken from the
// provider.
func mergeMetadata(provider, client paystack.Metadata) paystack.Metadata {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&provider.Name, client.Name)
	fill(&provider.Email, client.Email)
	fill(&provider.Phone, client.Phone)
	fill(&provider.Address, client.Address)
	return provider
}

// catalogOverrides lists catalog fields the client sent that differ from
// the provider's copy.
func catalogOverrides(provider, client paystack.Metadata) []string {
	var fields []string
	if client.BookID != "" && client.BookID != provider.BookID {
		fields = append(fields, "bookId")
	}
	if client.PurchaseFormat != "" && client.PurchaseFormat != provider.PurchaseFormat {
		fields = append(fields, "purchaseFormat")
	}
	if client.Quantity != "" && client.Quantity != provider.Quantity {
		fields = append(fields, "quantity")
	}
	if client.Title != "" && client.Title != provider.Title {
		fields = append(fields, "title")
	}
	return fields
}
