package controller

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/contratai/ms-go-payments/app/auth"
	"github.com/contratai/ms-go-payments/app/factory"
	"github.com/contratai/ms-go-payments/app/mapper"
	"github.com/contratai/ms-go-payments/app/service"
	"github.com/contratai/ms-go-payments/app/types"
)

const webhookProcessTimeout = 30 * time.Second

type PaymentController struct {
	paymentService *service.PaymentService
	webhookToken   string
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService, webhookToken string) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		webhookToken:   strings.TrimSpace(webhookToken),
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiatePayment(ctx echo.Context) error {
	req, err := types.NewInitiatePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.InitiatePayment(ctx.Request().Context(), req, auth.ClaimsFromContext(ctx))
	if err != nil {
		return c.writeServiceError(ctx, err, "Initiate payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid payment id")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req, auth.ClaimsFromContext(ctx))
	if err != nil {
		return c.writeServiceError(ctx, err, "Get payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

func (c *PaymentController) ListPayments(ctx echo.Context) error {
	req, err := types.NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPayments(ctx.Request().Context(), req, auth.ClaimsFromContext(ctx))
	if err != nil {
		return c.writeServiceError(ctx, err, "List payments failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentsResponse{Payments: mapper.PaymentsToResponse(items)})
}

func (c *PaymentController) RefundPayment(ctx echo.Context) error {
	req, err := types.NewRefundPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.RefundPayment(ctx.Request().Context(), req, auth.ClaimsFromContext(ctx))
	if err != nil {
		return c.writeServiceError(ctx, err, "Refund payment failed")
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(item))
}

// HandleWebhook acknowledges the processor unconditionally and applies the
// event after the fact: a slow or failing ledger must never make the
// processor retry-storm. Failures past this point are visible in logs only.
func (c *PaymentController) HandleWebhook(ctx echo.Context) error {
	logger := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewWebhookRequestFromContext(ctx)
	if err != nil {
		logger.WithError(err).Warn("Dropping malformed webhook payload")
		return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "received"})
	}

	token := strings.TrimSpace(ctx.Request().Header.Get("X-Webhook-Token"))
	if !c.webhookTokenValid(token) {
		logger.Warn("Dropping webhook with missing or invalid token")
		return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "received"})
	}

	go func() {
		processCtx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
		defer cancel()
		if err := c.paymentService.ProcessWebhookEvent(processCtx, req); err != nil {
			c.logger.WithError(err).WithField("event", req.Event).Error("Webhook processing failed")
		}
	}()

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "received"})
}

func (c *PaymentController) webhookTokenValid(token string) bool {
	if c.webhookToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.webhookToken), []byte(token)) == 1
}

func (c *PaymentController) writeServiceError(ctx echo.Context, err error, logMessage string) error {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return c.writeError(ctx, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidStatus):
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotAllowed):
		return c.writeError(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrContractNotFound), errors.Is(err, service.ErrPaymentNotFound):
		return c.writeError(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPaymentAlreadyApproved):
		return c.writeError(ctx, http.StatusConflict, err.Error())
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
