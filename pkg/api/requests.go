package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/taskcast/taskcast/pkg/models"
)

// CreateTaskBody is the request body for POST /tasks.
type CreateTaskBody struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Params     map[string]any         `json:"params"`
	Metadata   map[string]any         `json:"metadata"`
	TTL        *int                   `json:"ttl"`
	AuthConfig *models.TaskAuthConfig `json:"authConfig"`
	Webhooks   []models.WebhookConfig `json:"webhooks"`
	Cleanup    *models.CleanupConfig  `json:"cleanup"`
}

// TransitionBody is the request body for PATCH /tasks/{id}/status.
type TransitionBody struct {
	Status models.TaskStatus `json:"status" binding:"required"`
	Result map[string]any    `json:"result"`
	Error  *models.TaskError `json:"error"`
}

// PublishEventBody is one event in POST /tasks/{id}/events. The endpoint
// accepts either a single body or a JSON array of them.
type PublishEventBody struct {
	Type       string            `json:"type" binding:"required"`
	Level      models.Level      `json:"level" binding:"required"`
	Data       any               `json:"data"`
	SeriesID   string            `json:"seriesId"`
	SeriesMode models.SeriesMode `json:"seriesMode"`
}

func (b PublishEventBody) toInput() models.PublishEventInput {
	return models.PublishEventInput{
		Type:       b.Type,
		Level:      b.Level,
		Data:       b.Data,
		SeriesID:   b.SeriesID,
		SeriesMode: b.SeriesMode,
	}
}

// decodePublishBody reads the request body and returns the events to publish
// plus whether the caller sent a batch (array) so the response can mirror the
// shape.
func decodePublishBody(r io.Reader) ([]PublishEventBody, bool, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}

	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("empty request body")
	}

	if trimmed[0] == '[' {
		var batch []PublishEventBody
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, true, err
		}
		for i, body := range batch {
			if err := validatePublishBody(body); err != nil {
				return nil, true, fmt.Errorf("event %d: %w", i, err)
			}
		}
		return batch, true, nil
	}

	var single PublishEventBody
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, false, err
	}
	if err := validatePublishBody(single); err != nil {
		return nil, false, err
	}
	return []PublishEventBody{single}, false, nil
}

func validatePublishBody(body PublishEventBody) error {
	if body.Type == "" {
		return fmt.Errorf("missing event type")
	}
	if body.Level == "" {
		return fmt.Errorf("missing event level")
	}
	return nil
}
