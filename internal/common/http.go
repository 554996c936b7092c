package common

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host portion of the request's remote address. Forwarded headers are
// only honoured when the router installs chi's RealIP middleware, which rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil {
		return host
	}
	return addr
}

// DecodeJSONObject reads body as a single JSON object and returns both the raw field map and the
// original bytes. Callers inspect the map for fields that must not be present.
func DecodeJSONObject(body io.Reader) (map[string]json.RawMessage, []byte, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]json.RawMessage{}, data, nil
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil, err
	}
	if fields == nil {
		return nil, nil, errors.New("body must be a JSON object")
	}
	return fields, data, nil
}
