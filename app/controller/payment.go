package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) CreatePreference(ctx echo.Context) error {
	req, err := types.NewCreatePreferenceRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.paymentService.CreatePreference(ctx.Request().Context(), mapper.PreferenceRequestFromTypes(req))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrProviderUnavailable):
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Create preference rejected by provider")
			return c.writeError(ctx, http.StatusBadGateway, err.Error())
		default:
			return c.internalError(ctx, err, "Create preference failed")
		}
	}

	return ctx.JSON(http.StatusCreated, mapper.PreferenceToResponse(result))
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	lookup, err := c.paymentService.GetPayment(ctx.Request().Context(), req.ID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrPaymentDetailsUnavailable):
			return c.writeError(ctx, http.StatusNotFound, "payment details unavailable")
		default:
			return c.internalError(ctx, err, "Get payment failed")
		}
	}

	return ctx.JSON(http.StatusOK, mapper.PaymentToResponse(lookup.Details, lookup.Status, lookup.Stored))
}

func (c *PaymentController) CreateRefund(ctx echo.Context) error {
	req, err := types.NewCreateRefundRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.paymentService.CreateRefund(ctx.Request().Context(), mapper.RefundRequestFromTypes(req))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRefundFailed):
			logger := factory.LoggerWithContext(c.logger, ctx).WithError(err)
			var providerErr *provider.ProviderError
			if errors.As(err, &providerErr) {
				logger = logger.WithField("provider_status", providerErr.StatusCode)
			}
			logger.Warn("Refund failed")
			return c.writeError(ctx, http.StatusBadGateway, err.Error())
		default:
			return c.internalError(ctx, err, "Create refund failed")
		}
	}

	return ctx.JSON(http.StatusCreated, mapper.RefundToResponse(req.PaymentID, result))
}

func (c *PaymentController) internalError(ctx echo.Context, err error, message string) error {
	if errors.Is(err, context.Canceled) {
		return c.writeError(ctx, http.StatusServiceUnavailable, "request canceled")
	}
	factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(message)
	return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return writeError(ctx, statusCode, message)
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
