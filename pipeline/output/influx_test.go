package output

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravwell/mqtt-influxdb-bridge/pipeline/lineproto"
)

func rec(bucket string) lineproto.Record {
	return lineproto.Record{
		Bucket:      bucket,
		Measurement: "temp",
		Fields:      []lineproto.Field{{Key: "value", Kind: lineproto.FieldFloat, F: 1.0}},
		TimestampNs: 1,
	}
}

func TestWriterAddFlushesOnFullBatch(t *testing.T) {
	var requests int32
	var gotDB string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		gotDB = r.URL.Query().Get("db")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), "temp")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL, MaxRecords: 2}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))
	require.Equal(t, "sensors", gotDB)
}

func TestWriterGzipsBodyWhenEnabled(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		gr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(gr)
		require.NoError(t, err)
		require.Contains(t, string(body), "temp")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL, EnableGzip: true}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.NoError(t, writer.Flush(context.Background()))
	require.Equal(t, "gzip", gotEncoding)
}

func TestWriterDoesNotGzipByDefault(t *testing.T) {
	var gotEncoding string
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding, sawHeader = r.Header.Get("Content-Encoding"), r.Header.Get("Content-Encoding") != ``
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), "temp")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.NoError(t, writer.Flush(context.Background()))
	require.False(t, sawHeader, "unexpected Content-Encoding: %s", gotEncoding)
}

func TestWriterFlushSendsPartialBatch(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.Equal(t, int32(0), atomic.LoadInt32(&requests))
	require.NoError(t, writer.Flush(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestWriterRetriesOn5xxThenSucceeds(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	require.NoError(t, writer.Flush(context.Background()))
	require.GreaterOrEqual(t, atomic.LoadInt32(&requests), int32(2))
}

func TestWriterTreats4xxAsPermanentFailure(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	writer := NewWriter(InfluxConfig{URL: srv.URL, MaxRetryElapsed: 0}, nil, NewMetrics(nil))
	require.NoError(t, writer.Add(context.Background(), rec("sensors")))
	err := writer.Flush(context.Background())
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestBuildRequestSetsAuthAndQueryParams(t *testing.T) {
	writer := NewWriter(InfluxConfig{URL: "https://influx.example.com", Org: "myorg", Token: "secret"}, nil, NewMetrics(nil))
	req, err := writer.buildRequest(context.Background(), "sensors", []byte("body"))
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	require.Equal(t, "myorg", req.URL.Query().Get("org"))
	require.Equal(t, "sensors", req.URL.Query().Get("db"))
	require.Equal(t, "ns", req.URL.Query().Get("precision"))
	require.Equal(t, "/api/v3/write_lp", req.URL.Path)
}
