package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

type WebhookController struct {
	router *service.WebhookRouter
	logger logrus.FieldLogger
}

func NewWebhookController(router *service.WebhookRouter) *WebhookController {
	return &WebhookController{
		router: router,
		logger: factory.NewModuleLogger("webhook-controller"),
	}
}

// HandleMercadoPago answers 200 only for accepted notifications; anything
// else makes the provider redeliver.
func (c *WebhookController) HandleMercadoPago(ctx echo.Context) error {
	req, err := types.NewWebhookNotificationFromContext(ctx)
	if errors.Is(err, types.ErrWebhookBodyTooLarge) {
		factory.LoggerWithContext(c.logger, ctx).Warn("Webhook body exceeds size limit")
		return writeError(ctx, http.StatusRequestEntityTooLarge, err.Error())
	}
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn("Unparsable webhook body")
		return writeError(ctx, http.StatusBadRequest, "invalid notification body")
	}

	envelope := &entity.WebhookEnvelope{
		ID:         req.ID,
		Type:       req.Type,
		Action:     req.Action,
		DataID:     req.DataID,
		Body:       req.Body,
		ReceivedAt: time.Now().UTC(),
	}

	if !c.router.Process(ctx.Request().Context(), envelope, req.Signature) {
		return writeError(ctx, http.StatusBadRequest, service.ErrWebhookRejected.Error())
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Notification processed"})
}
