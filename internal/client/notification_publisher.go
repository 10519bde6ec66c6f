package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/repository"
)

// NotificationPublisher publishes approval workflow events to NATS for
// consumption by the be-plt-notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: workflow_started, stage_advanced, workflow_approved,
//              workflow_rejected, workflow_cancelled
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	InstanceID   string         `json:"instance_id"`
	ActorID      string         `json:"actor_id"`
	Status       string         `json:"status"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS and returns a publisher. An
// empty URL disables publishing: the returned publisher is a no-op and
// err is nil.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	if url == "" {
		log.Info().Msg("NATS disabled: no URL configured")
		return &NotificationPublisher{log: log}, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NotificationPublisher{conn: conn, log: log}, nil
}

// Close drains the connection.
func (p *NotificationPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

// PublishWorkflowEvent publishes one approval workflow event.
// Subject: notifications.approvals.<eventType>
func (p *NotificationPublisher) PublishWorkflowEvent(ctx context.Context, eventType string, inst *repository.WorkflowInstance, actorID string, payload map[string]any) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		EntityType:   inst.EntityType,
		EntityID:     inst.EntityID,
		InstanceID:   inst.ID,
		ActorID:      actorID,
		Status:       inst.Status,
		IsActionable: inst.Status == repository.WorkflowInProgress,
		Severity:     "info",
		Category:     "approvals",
		OccurredAt:   time.Now().UTC(),
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("instance_id", inst.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("instance_id", inst.ID).
		Msg("notification: event published")
}
