package reqcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Envelope is the backend's uniform response shape. The client core treats
// responses as opaque; these helpers are for callers that interpret them.
type Envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg,omitempty"`
}

// DecodeEnvelope parses p as an Envelope.
func DecodeEnvelope(p Payload) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(p, &env); err != nil {
		return Envelope{}, decodeError(err)
	}
	return env, nil
}

// EnvelopeCode returns the code field, if present.
func EnvelopeCode(p Payload) (int64, bool) {
	r := gjson.GetBytes(p, "code")
	if !r.Exists() || r.Type != gjson.Number {
		return 0, false
	}
	return r.Int(), true
}

// EnvelopeMsg returns the msg field or "".
func EnvelopeMsg(p Payload) string {
	return gjson.GetBytes(p, "msg").String()
}

// EnvelopeData returns the raw data field, nil when absent.
func EnvelopeData(p Payload) Payload {
	r := gjson.GetBytes(p, "data")
	if !r.Exists() {
		return nil
	}
	return Payload(r.Raw)
}

// DecodeData unmarshals the envelope's data field into v.
func DecodeData(p Payload, v any) error {
	data := EnvelopeData(p)
	if data == nil {
		data = Payload("null")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeDecode,
		Message:   "failed to decode response",
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// GetJSON performs Get and decodes the envelope data into v.
func (c *Client) GetJSON(ctx context.Context, path string, params, v any, opts ...RequestOption) error {
	p, err := c.Get(ctx, path, params, opts...)
	if err != nil {
		return err
	}
	return DecodeData(p, v)
}

// PostJSON performs Post and decodes the envelope data into v. v may be nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, v any) error {
	p, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return DecodeData(p, v)
}
