package payment

import (
	"encoding/json"
	"fmt"
	"time"

	"novacv/internal/domain"
	"novacv/internal/domain/model"
)

// notification is Paddle's webhook body around the entity in data.
type notification struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// decodeEnvelope parses a webhook body that has already been authenticated.
func decodeEnvelope(provider string, raw []byte) (*model.WebhookEnvelope, error) {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: webhook body: %v", domain.ErrInvalidArgument, err)
	}
	if n.EventID == "" || n.EventType == "" {
		return nil, fmt.Errorf("%w: webhook body lacks event_id or event_type", domain.ErrInvalidArgument)
	}
	env := &model.WebhookEnvelope{
		Provider:  provider,
		EventID:   n.EventID,
		EventType: n.EventType,
		Data:      n.Data,
		Raw:       raw,
	}
	if n.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339Nano, n.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("%w: occurred_at: %v", domain.ErrInvalidArgument, err)
		}
		env.OccurredAt = at.UTC()
	}
	return env, nil
}
