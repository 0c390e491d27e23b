package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/events"
)

// NotificationService turns ticket events into requester and approver notifications.
type NotificationService struct {
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		logger: logger,
		cfg:    cfg,
	}
}

// EventTypes lists the events the service reacts to.
func (n *NotificationService) EventTypes() []events.EventType {
	return []events.EventType{
		events.EventTicketCreated,
		events.EventStepApproved,
		events.EventTicketApproved,
		events.EventTicketRejected,
		events.EventPickupConfirmed,
		events.EventDevicesReconciled,
		events.EventTicketReturned,
	}
}

// Handle routes one event.
func (n *NotificationService) Handle(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventTicketCreated:
		n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
		n.sendEmailNotificationStub(ctx, event)
	case events.EventStepApproved:
		n.logger.Info("StepApproved", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
		n.sendWebhookNotificationStub(ctx, event)
	case events.EventTicketApproved, events.EventTicketRejected:
		n.logger.Info("TicketDecided", zap.String("ticket_id", event.TicketID), zap.String("event_type", string(event.Type)))
		n.sendEmailNotificationStub(ctx, event)
		n.sendWebhookNotificationStub(ctx, event)
	case events.EventPickupConfirmed, events.EventTicketReturned:
		n.logger.Info("TicketHandover", zap.String("ticket_id", event.TicketID), zap.String("event_type", string(event.Type)))
		n.sendEmailNotificationStub(ctx, event)
	case events.EventDevicesReconciled:
		n.logger.Info("DevicesReconciled", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	default:
		n.logger.Debug("ignored event", zap.String("event_type", string(event.Type)))
	}
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}
