package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindOriginDenied:    http.StatusForbidden,
		KindCrossTenant:     http.StatusForbidden,
		KindRateLimited:     http.StatusTooManyRequests,
		KindNotFound:        http.StatusNotFound,
		KindUpstream:        http.StatusBadGateway,
		KindUpstreamTimeout: http.StatusGatewayTimeout,
		KindConfigMissing:   http.StatusInternalServerError,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		require.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestWriteErrorHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.3:443: connection refused")
	wrapped := fmt.Errorf("charge: %w", NewAppError(KindUpstream, "Payment gateway error", "Please retry", cause))

	require.True(t, IsKind(wrapped, KindUpstream))
	require.ErrorIs(t, wrapped, cause)

	rec := httptest.NewRecorder()
	WriteError(rec, wrapped)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotContains(t, rec.Body.String(), "10.0.0.3")

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrorBody{Error: "Payment gateway error", Message: "Please retry"}, body)
}

func TestWriteErrorUnclassified(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("boom"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}
