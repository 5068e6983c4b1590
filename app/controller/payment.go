package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-momo/app/factory"
	"github.com/vibast-solutions/ms-go-momo/app/fanout"
	"github.com/vibast-solutions/ms-go-momo/app/mapper"
	"github.com/vibast-solutions/ms-go-momo/app/provider"
	"github.com/vibast-solutions/ms-go-momo/app/service"
	"github.com/vibast-solutions/ms-go-momo/app/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 1024
)

type PaymentController struct {
	paymentService *service.PaymentService
	hub            *fanout.Hub
	upgrader       websocket.Upgrader
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService, hub *fanout.Hub) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		hub:            hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients subscribe from the storefront origin; access
			// control for the read-only status stream lives upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: factory.NewModuleLogger("payments-controller"),
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

	item, err := c.paymentService.InitiatePayment(ctx.Request().Context(), &service.InitiatePaymentInput{
		OrderID:     req.OrderID,
		PayerHandle: req.PayerHandle,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrActivePaymentExists):
			// The existing record rides along so the caller can resubscribe.
			return ctx.JSON(http.StatusConflict, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidStatus), errors.Is(err, service.ErrProviderUnsupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrPaymentAlreadyExists):
			return c.writeError(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, provider.ErrProviderRejected):
			return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, provider.ErrProviderUnavailable):
			return c.writeError(ctx, http.StatusBadGateway, "payment provider is unavailable")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Initiate payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

// HandleProviderWebhook acknowledges with 200 once the update is durably
// applied (or recognized as a replay); anything else makes the provider
// retry, which is exactly what a store outage needs.
func (c *PaymentController) HandleProviderWebhook(ctx echo.Context) error {
	req, err := types.NewProviderWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	_, err = c.paymentService.HandleProviderWebhook(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWebhookRejected), errors.Is(err, service.ErrProviderUnsupported):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Handle provider webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Webhook processed"})
}

func (c *PaymentController) GetOrderStatus(ctx echo.Context) error {
	req, err := types.NewOrderStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	status, err := c.paymentService.GetOrderPaymentStatus(ctx.Request().Context(), req.OrderID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOrderNotFound):
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get order status failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.OrderStatusResponse{
		OrderID:           status.OrderID,
		PaymentStatus:     status.PaymentStatus,
		FulfillmentStatus: status.FulfillmentStatus,
		Reference:         status.Reference,
	})
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req.Reference)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get payment failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

type subscribeMessage struct {
	Action    string `json:"action"`
	Reference string `json:"reference"`
}

// Subscribe upgrades the connection and bridges it to the fanout hub. The
// client drives its subscriptions with subscribe/unsubscribe messages; a
// closed connection drops every subscription at once.
func (c *PaymentController) Subscribe(ctx echo.Context) error {
	conn, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}

	sub := c.hub.Register()
	logger := c.logger.WithField("subscriber", sub.ID)

	go c.writeLoop(conn, sub, logger)
	c.readLoop(conn, sub, logger)

	return nil
}

func (c *PaymentController) readLoop(conn *websocket.Conn, sub *fanout.Subscriber, logger logrus.FieldLogger) {
	defer func() {
		c.hub.Drop(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Debug("Subscriber read error")
			}
			return
		}

		var msg subscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WithError(err).Debug("Ignoring malformed subscriber message")
			continue
		}

		reference := strings.TrimSpace(msg.Reference)
		if reference == "" {
			continue
		}

		switch strings.ToLower(strings.TrimSpace(msg.Action)) {
		case "subscribe":
			c.hub.Subscribe(reference, sub)
		case "unsubscribe":
			c.hub.Unsubscribe(reference, sub)
		}
	}
}

func (c *PaymentController) writeLoop(conn *websocket.Conn, sub *fanout.Subscriber, logger logrus.FieldLogger) {
	for event := range sub.C {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			logger.WithError(err).Debug("Subscriber write error")
			c.hub.Drop(sub)
			break
		}
	}
	_ = conn.Close()
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
