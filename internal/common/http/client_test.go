package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoJSON(t *testing.T) {
	var gotAuth, gotContentType, gotBody, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/api/", "raw-token", 5*time.Second)
	resp, err := client.DoJSON(context.Background(), http.MethodPost, "product/createproduct", map[string]string{"name": "Tea"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "raw-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "/api/product/createproduct", gotPath)

	var sent map[string]string
	require.NoError(t, json.Unmarshal([]byte(gotBody), &sent))
	assert.Equal(t, "Tea", sent["name"])
}

func TestClient_DoJSON_NoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "", time.Second).DoJSON(context.Background(), http.MethodGet, "/notifications", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClient_DoJSON_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "", time.Second).DoJSON(context.Background(), http.MethodGet, "/x", nil)
	assert.Error(t, err)
}

func TestClient_URL(t *testing.T) {
	c := NewClient("http://b.local/", "", time.Second)
	assert.Equal(t, "http://b.local/x", c.URL("x"))
	assert.Equal(t, "http://b.local/x", c.URL("/x"))
}
