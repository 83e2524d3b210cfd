package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windlass-dev/windlass/pkg/schema"
)

func TestHTTPRequest_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewHTTPRequestAction(HTTPConfig{})
	out, err := a.Execute(context.Background(), ActionInput{
		Params: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.Equal(t, float64(200), result["status_code"])
	body, ok := result["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
}

func TestHTTPRequest_PostBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "hello", payload["msg"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := NewHTTPPostAction(HTTPConfig{})
	out, err := a.Execute(context.Background(), ActionInput{
		Params: map[string]any{
			"url":     srv.URL,
			"body":    map[string]any{"msg": "hello"},
			"headers": map[string]any{"X-Token": "abc"},
		},
	})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.Equal(t, float64(201), result["status_code"])
}

func TestHTTPRequest_FailOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPRequestAction(HTTPConfig{})
	_, err := a.Execute(context.Background(), ActionInput{
		Params: map[string]any{"url": srv.URL, "fail_on_error_status": true},
	})
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNodeExecution, engErr.Code)
	assert.True(t, engErr.IsRetryable())
}

func TestHTTPRequest_ErrorStatusWithoutFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewHTTPRequestAction(HTTPConfig{})
	out, err := a.Execute(context.Background(), ActionInput{
		Params: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.Equal(t, float64(404), result["status_code"])
}

func TestHTTPRequest_ValidateURL(t *testing.T) {
	a := NewHTTPRequestAction(HTTPConfig{})

	require.Error(t, a.Validate(map[string]any{}))
	require.Error(t, a.Validate(map[string]any{"url": "ftp://example.com"}))
	require.NoError(t, a.Validate(map[string]any{"url": "https://example.com"}))
}
