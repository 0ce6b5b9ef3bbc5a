package api

import (
	"time"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
)

type CreateWebhookRequest struct {
	Delay           int64    `json:"delay"` // seconds
	Name            string   `json:"name"`
	DelayedWebhooks []string `json:"delayed_webhooks"`
	InstantWebhooks []string `json:"instant_webhooks,omitempty"`
}

// UpdateWebhookRequest patches a configuration. Absent fields are left
// untouched; endpoint lists are applied one URL at a time.
type UpdateWebhookRequest struct {
	Delay         *int64   `json:"delay,omitempty"`
	Name          *string  `json:"name,omitempty"`
	RemoveDelayed []string `json:"remove_delayed,omitempty"`
	AppendDelayed []string `json:"append_delayed,omitempty"`
	RemoveInstant []string `json:"remove_instant,omitempty"`
	AppendInstant []string `json:"append_instant,omitempty"`
}

type WebhookResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Delay           int64    `json:"delay"`
	InstantWebhooks []string `json:"instant_webhooks"`
	DelayedWebhooks []string `json:"delayed_webhooks"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type ListWebhooksResponse struct {
	Webhooks []WebhookResponse `json:"webhooks"`
}

// StatusResponse acknowledges submissions and patches.
type StatusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toWebhookResponse(cfg domain.WebhookConfig) WebhookResponse {
	return WebhookResponse{
		ID:              cfg.ID,
		Name:            cfg.Name,
		Delay:           cfg.DelaySeconds,
		InstantWebhooks: nonNil(cfg.InstantEndpoints),
		DelayedWebhooks: nonNil(cfg.DelayedEndpoints),
		CreatedAt:       formatTime(cfg.CreatedAt),
		UpdatedAt:       formatTime(cfg.UpdatedAt),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
