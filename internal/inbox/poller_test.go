package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filedrop/internal/model"
)

func TestPollReturnsDescriptors(t *testing.T) {
	msgs := []model.GSOCMessage{
		{Reference: "r1", Timestamp: 100},
		{Reference: "r2", Timestamp: 200},
	}

	var gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gsoc/aa11/inbox-0", r.URL.Path)
		gotFrom = r.URL.Query().Get("from")
		json.NewEncoder(w).Encode(msgs)
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, nil)
	got, err := p.Poll(context.Background(), testParams, 3)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
	assert.Equal(t, "3", gotFrom)
}

func TestPollEmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.GSOCMessage{})
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, nil)
	got, err := p.Poll(context.Background(), testParams, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPollSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, nil)
	_, err := p.Poll(context.Background(), testParams, 0)
	assert.Error(t, err)
}
