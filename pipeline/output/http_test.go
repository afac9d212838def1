package output

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/value"
)

func TestForwarderSendEncodesContentAsJSON(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(nil, NewMetrics(nil))
	content := map[string]value.Value{
		"room":  value.Str("den"),
		"value": value.Float(21.5),
	}
	cfg := HTTPTargetConfig{URL: srv.URL, BasicAuthUser: "u", BasicAuthPass: "p"}
	err := f.Send(context.Background(), "rule1", cfg, content)
	require.NoError(t, err)
	require.Equal(t, "den", gotBody["room"])
	require.Equal(t, 21.5, gotBody["value"])
	require.NotEmpty(t, gotAuth)
}

func TestForwarderSendDefaultsToPOST(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(nil, NewMetrics(nil))
	err := f.Send(context.Background(), "rule1", HTTPTargetConfig{URL: srv.URL}, nil)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, gotMethod)
}

func TestForwarderSendReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewForwarder(nil, NewMetrics(nil))
	err := f.Send(context.Background(), "rule1", HTTPTargetConfig{URL: srv.URL}, nil)
	require.Error(t, err)
}
