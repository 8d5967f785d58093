package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const HeaderSignature = "X-Signature"

const MaxWebhookBodyBytes = 1 << 20

var ErrWebhookBodyTooLarge = errors.New("notification body too large")

// WebhookNotificationRequest is an inbound provider notification. Body keeps
// the exact bytes received.
type WebhookNotificationRequest struct {
	RequestID string
	ID        string
	Type      string
	Action    string
	DataID    string
	Signature string
	Body      []byte
}

type webhookBody struct {
	ID     json.RawMessage `json:"id"`
	Type   string          `json:"type"`
	Topic  string          `json:"topic"`
	Action string          `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// NewWebhookNotificationFromContext reads the raw body and fills missing
// fields from the query string (data.id, id, type, topic), which older
// notification formats use.
func NewWebhookNotificationFromContext(ctx echo.Context) (*WebhookNotificationRequest, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(ctx.Response(), ctx.Request().Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ErrWebhookBodyTooLarge
		}
		return nil, err
	}

	req := &WebhookNotificationRequest{
		RequestID: strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID)),
		Signature: strings.TrimSpace(ctx.Request().Header.Get(HeaderSignature)),
		Body:      raw,
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		var body webhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
		req.ID = parseStringish(body.ID)
		req.Type = firstNonEmpty(body.Type, body.Topic)
		req.Action = strings.TrimSpace(body.Action)
		req.DataID = parseStringish(body.Data.ID)
	}

	if req.DataID == "" {
		req.DataID = strings.TrimSpace(ctx.QueryParam("data.id"))
	}
	if req.Type == "" {
		req.Type = firstNonEmpty(ctx.QueryParam("type"), ctx.QueryParam("topic"))
	}
	if req.DataID == "" && req.ID == "" {
		// topic-style notifications carry the resource id in ?id=
		req.DataID = strings.TrimSpace(ctx.QueryParam("id"))
	}
	req.Type = strings.ToLower(req.Type)

	return req, nil
}

func parseStringish(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(trimmed, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	var n json.Number
	if json.Unmarshal(trimmed, &n) == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
