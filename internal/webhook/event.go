package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"fanstream-video/internal/models"
)

// EventKind identifies the closed set of provider webhook event types the
// processor understands. Anything else parses as EventUnknown and is
// acknowledged without side effects.
type EventKind string

const (
	EventAssetCreated EventKind = "video.asset.created"
	EventAssetReady   EventKind = "video.asset.ready"
	EventAssetErrored EventKind = "video.asset.errored"
	EventAssetUpdated EventKind = "video.asset.updated"
	EventUnknown      EventKind = "unknown"
)

// Event is a decoded webhook delivery. Kind is always one of the EventKind
// constants; for EventUnknown the RawType preserves the provider's type
// string for logging.
type Event struct {
	Kind       EventKind
	RawType    string
	DeliveryID string
	Asset      AssetPayload
}

// AssetPayload is the asset object carried inside a delivery. UploadID is the
// correlation fallback when the asset has not yet been linked to a local
// record by asset id.
type AssetPayload struct {
	AssetID       string
	UploadID      string
	PlaybackID    string
	Status        string
	Duration      float64
	AspectRatio   string
	MaxResolution string
	Passthrough   string
	Errors        []models.AssetError
}

type wireEvent struct {
	Type   string      `json:"type"`
	ID     string      `json:"id"`
	Object wireObject  `json:"object"`
	Data   wirePayload `json:"data"`
}

type wireObject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type wirePayload struct {
	ID            string         `json:"id"`
	UploadID      string         `json:"upload_id"`
	Status        string         `json:"status"`
	Duration      float64        `json:"duration"`
	AspectRatio   string         `json:"aspect_ratio"`
	MaxResolution string         `json:"max_stored_resolution"`
	Passthrough   string         `json:"passthrough"`
	PlaybackIDs   []wirePlayback `json:"playback_ids"`
	Errors        []wireError    `json:"errors"`
}

type wirePlayback struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type wireError struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}

// ParseEvent decodes a raw delivery body. A body that is not valid JSON or
// lacks a type string is an error; a well-formed delivery with an
// unrecognised type yields an EventUnknown event rather than an error so the
// endpoint can acknowledge it.
func ParseEvent(body []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(body, &wire); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	rawType := strings.TrimSpace(wire.Type)
	if rawType == "" {
		return Event{}, fmt.Errorf("webhook payload missing event type")
	}

	event := Event{
		Kind:       EventUnknown,
		RawType:    rawType,
		DeliveryID: strings.TrimSpace(wire.ID),
		Asset:      decodePayload(wire),
	}
	switch EventKind(rawType) {
	case EventAssetCreated, EventAssetReady, EventAssetErrored, EventAssetUpdated:
		event.Kind = EventKind(rawType)
	}
	return event, nil
}

func decodePayload(wire wireEvent) AssetPayload {
	payload := AssetPayload{
		AssetID:       strings.TrimSpace(wire.Data.ID),
		UploadID:      strings.TrimSpace(wire.Data.UploadID),
		Status:        strings.TrimSpace(wire.Data.Status),
		Duration:      wire.Data.Duration,
		AspectRatio:   strings.TrimSpace(wire.Data.AspectRatio),
		MaxResolution: strings.TrimSpace(wire.Data.MaxResolution),
		Passthrough:   strings.TrimSpace(wire.Data.Passthrough),
	}
	if payload.AssetID == "" {
		payload.AssetID = strings.TrimSpace(wire.Object.ID)
	}
	if len(wire.Data.PlaybackIDs) > 0 {
		payload.PlaybackID = strings.TrimSpace(wire.Data.PlaybackIDs[0].ID)
	}
	for _, wireErr := range wire.Data.Errors {
		messages := make([]string, 0, len(wireErr.Messages))
		for _, message := range wireErr.Messages {
			if trimmed := strings.TrimSpace(message); trimmed != "" {
				messages = append(messages, trimmed)
			}
		}
		payload.Errors = append(payload.Errors, models.AssetError{
			Type:     strings.TrimSpace(wireErr.Type),
			Messages: messages,
		})
	}
	return payload
}
