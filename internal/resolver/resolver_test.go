package resolver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordServer(t *testing.T, records map[string]Record) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/names/"):]
		rec, ok := records[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(rec)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveOutcomes(t *testing.T) {
	pub := make([]byte, 33)
	pub[0] = 0x02
	pub[32] = 0x7f

	srv := recordServer(t, map[string]Record{
		"alice": {
			Name:      "alice",
			PublicKey: hex.EncodeToString(pub),
			Overlay:   "aa11",
			BaseID:    "inbox-0",
			Proximity: 8,
		},
		"bob": {
			Name:    "bob",
			Overlay: "bb22",
			BaseID:  "inbox-1",
		},
	})
	c := NewClient(srv.URL, nil)

	tests := []struct {
		name        string
		lookup      string
		wantOutcome Outcome
	}{
		{name: "resolved with key", lookup: "alice", wantOutcome: OutcomeResolved},
		{name: "resolved without key", lookup: "bob", wantOutcome: OutcomeResolvedNoKey},
		{name: "not found", lookup: "mallory", wantOutcome: OutcomeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Resolve(context.Background(), tt.lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
		})
	}
}

func TestResolveCarriesInboxParams(t *testing.T) {
	pub := []byte{0x02, 0x01, 0x02}
	srv := recordServer(t, map[string]Record{
		"alice": {
			Name:      "alice",
			PublicKey: hex.EncodeToString(pub),
			Overlay:   "aa11",
			BaseID:    "inbox-0",
			Proximity: 8,
		},
	})
	c := NewClient(srv.URL, nil)

	res, err := c.Resolve(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, res.Inbox)
	assert.Equal(t, "aa11", res.Inbox.TargetOverlay)
	assert.Equal(t, "inbox-0", res.Inbox.BaseIdentifier)
	assert.EqualValues(t, 8, res.Inbox.Proximity)
	assert.Equal(t, pub, res.PublicKey)
	assert.Equal(t, pub, res.Inbox.RecipientPublicKey)
}

func TestResolveDefaultsProximity(t *testing.T) {
	srv := recordServer(t, map[string]Record{
		"bob": {Name: "bob", Overlay: "bb22", BaseID: "inbox-1"},
	})
	c := NewClient(srv.URL, nil)

	res, err := c.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, res.Inbox)
	assert.EqualValues(t, 16, res.Inbox.Proximity)
}

func TestResolveNotFoundIsNotAnError(t *testing.T) {
	srv := recordServer(t, nil)
	c := NewClient(srv.URL, nil)

	res, err := c.Resolve(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.PublicKey)
	assert.Nil(t, res.Inbox)
}
