package postgres

import _ "embed"

//go:embed schema.sql
var schemaSQL string

const queryGetWebhook = `
SELECT id, name, delay_seconds, instant_webhooks, delay_webhooks, created_at, updated_at
FROM webhooks
WHERE id = $1
`

const queryInsertWebhook = `
INSERT INTO webhooks (id, name, delay_seconds, instant_webhooks, delay_webhooks, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListWebhooks = `
SELECT id, name, delay_seconds, instant_webhooks, delay_webhooks, created_at, updated_at
FROM webhooks
ORDER BY created_at, id
LIMIT $1 OFFSET $2
`

const queryUpdateName = `
UPDATE webhooks SET name = $1, updated_at = now() WHERE id = $2
`

const queryUpdateDelaySeconds = `
UPDATE webhooks SET delay_seconds = $1, updated_at = now() WHERE id = $2
`

const queryAppendInstant = `
UPDATE webhooks SET instant_webhooks = array_append(instant_webhooks, $1), updated_at = now() WHERE id = $2
`

const queryRemoveInstant = `
UPDATE webhooks SET instant_webhooks = array_remove(instant_webhooks, $1), updated_at = now() WHERE id = $2
`

const queryAppendDelayed = `
UPDATE webhooks SET delay_webhooks = array_append(delay_webhooks, $1), updated_at = now() WHERE id = $2
`

const queryRemoveDelayed = `
UPDATE webhooks SET delay_webhooks = array_remove(delay_webhooks, $1), updated_at = now() WHERE id = $2
`

const queryDeleteWebhook = `
DELETE FROM webhooks WHERE id = $1
`
