package service

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/events"
)

func TestNotificationServiceHandlesEveryEvent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc := NewNotificationService(zap.New(core), config.NotificationConfig{EmailFrom: "noreply@example.com"})

	for _, eventType := range svc.EventTypes() {
		if err := svc.Handle(context.Background(), events.Event{Type: eventType, TicketID: "t-1"}); err != nil {
			t.Fatalf("%s: %v", eventType, err)
		}
	}
	if n := logs.FilterMessage("ignored event").Len(); n != 0 {
		t.Fatalf("%d subscribed events were ignored", n)
	}
	if logs.FilterMessage("sendEmailNotificationStub").Len() == 0 {
		t.Fatal("expected email stub to run when a sender is configured")
	}
	if logs.FilterMessage("sendWebhookNotificationStub").Len() != 0 {
		t.Fatal("webhook stub must not run without a URL")
	}
}
