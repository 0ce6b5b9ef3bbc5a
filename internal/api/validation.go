package api

import (
	"fmt"
	"net/url"

	"github.com/0xlunar/sleepy-webhooks/internal/domain"
)

func validateCreateWebhook(req CreateWebhookRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	if err := validateDelay(req.Delay); err != nil {
		return err
	}

	if err := validateWebhookURLs("delayed_webhooks", req.DelayedWebhooks); err != nil {
		return err
	}
	return validateWebhookURLs("instant_webhooks", req.InstantWebhooks)
}

func validateUpdateWebhook(req UpdateWebhookRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name must not be empty")
	}

	if req.Delay != nil {
		if err := validateDelay(*req.Delay); err != nil {
			return err
		}
	}

	if err := validateWebhookURLs("append_delayed", req.AppendDelayed); err != nil {
		return err
	}
	return validateWebhookURLs("append_instant", req.AppendInstant)
}

func validateDelay(delay int64) error {
	if delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	if delay > domain.MaxDelaySeconds {
		return fmt.Errorf("delay must be <= %d", domain.MaxDelaySeconds)
	}
	return nil
}

func validateWebhookURLs(field string, urls []string) error {
	for i, u := range urls {
		if err := validateWebhookURL(u); err != nil {
			return fmt.Errorf("invalid %s[%d]: %w", field, i, err)
		}
	}
	return nil
}

func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
