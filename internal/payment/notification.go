package payment

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Notification is the transport-neutral view of an inbound gateway request.
// RawBody is kept verbatim because signatures are computed over exact bytes.
type Notification struct {
	Endpoint   Endpoint
	Header     http.Header
	RawBody    []byte
	Fields     map[string]any
	RemoteAddr string
}

// NewNotification builds a Notification from an already-read body.
func NewNotification(endpoint Endpoint, r *http.Request, body []byte) Notification {
	return Notification{
		Endpoint:   endpoint,
		Header:     r.Header.Clone(),
		RawBody:    body,
		Fields:     ParseFields(r.Header.Get("Content-Type"), body),
		RemoteAddr: r.RemoteAddr,
	}
}

// Field returns the string form of a parsed field, or "" when absent.
func (n Notification) Field(key string) string {
	return FieldString(n.Fields[key])
}

// ParseFields decodes a form-urlencoded or JSON object body into a flat map.
// Malformed input yields whatever could be recovered; required-field checks
// further down the pipeline reject notifications that lost data here.
func ParseFields(contentType string, body []byte) map[string]any {
	fields := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return fields
	}
	if isJSON(contentType, body) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return map[string]any{}
		}
		return fields
	}
	values, _ := url.ParseQuery(string(body))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		// Last occurrence wins, as with JSON objects carrying duplicate keys.
		fields[key] = vals[len(vals)-1]
	}
	return fields
}

func isJSON(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
			return true
		case mediaType == "application/x-www-form-urlencoded":
			return false
		}
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))
}

// FieldString renders a decoded field value as the string the gateway sent.
func FieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
