package resolver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"filedrop/internal/model"
)

type (
	// Outcome is the closed set of resolution results. Not-found and
	// resolved-without-key are user-facing, non-retryable conditions.
	Outcome int

	// Resolution carries the data for the outcome: PublicKey is set only
	// for OutcomeResolved, Inbox for either resolved variant.
	Resolution struct {
		Outcome   Outcome
		PublicKey []byte
		Inbox     *model.InboxParams
	}

	Client struct {
		base string
		http *http.Client
	}

	// Record mirrors the name service's text-record namespace: one
	// public-key record plus the three inbox-parameter records.
	Record struct {
		Name      string `json:"name"`
		PublicKey string `json:"publicKey,omitempty"`
		Overlay   string `json:"overlay"`
		BaseID    string `json:"baseId"`
		Proximity uint8  `json:"proximity"`
	}
)

const (
	OutcomeResolved Outcome = iota
	OutcomeResolvedNoKey
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeResolvedNoKey:
		return "resolved-no-key"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

func NewClient(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}
}

// Resolve looks up a human-readable identifier. A transport or decode
// failure is returned as an error; a missing record or missing key is a
// regular Outcome, not an error.
func (c *Client) Resolve(ctx context.Context, name string) (*Resolution, error) {
	u := fmt.Sprintf("%s/names/%s", c.base, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return &Resolution{Outcome: OutcomeNotFound}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve %q: unexpected status %d", name, resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("resolve %q: decode record: %w", name, err)
	}

	inbox := model.InboxParams{
		TargetOverlay:  rec.Overlay,
		BaseIdentifier: rec.BaseID,
		Proximity:      rec.Proximity,
	}.Normalize()

	if rec.PublicKey == "" {
		return &Resolution{Outcome: OutcomeResolvedNoKey, Inbox: &inbox}, nil
	}

	pub, err := hex.DecodeString(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: decode public key: %w", name, err)
	}
	inbox.RecipientPublicKey = pub

	return &Resolution{Outcome: OutcomeResolved, PublicKey: pub, Inbox: &inbox}, nil
}
