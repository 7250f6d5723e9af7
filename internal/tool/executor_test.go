// ABOUTME: Tests for the HTTP tool executor against a stub tool service.
// ABOUTME: Covers success, unknown method mapping, and service failure.

package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tools/execute", r.URL.Path)

		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "oak_search", req.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":["a","b"]}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL)
	result, err := exec.Execute(context.Background(), "oak_search", []byte(`{"query":"x"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":["a","b"]}`, string(result))
}

func TestExecuteUnknownMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL)
	_, err := exec.Execute(context.Background(), "no_such_tool", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestExecuteServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tool raised", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL)
	_, err := exec.Execute(context.Background(), "oak_search", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownMethod)
	assert.Contains(t, err.Error(), "500")
}

func TestExecuteEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL)
	result, err := exec.Execute(context.Background(), "oak_noop", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `null`, string(result))
}
