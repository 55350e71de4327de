package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"filedrop/internal/model"
)

type (
	// Publisher appends a descriptor to a recipient's inbox feed. The
	// broadcast mechanism itself belongs to the feed layer; this is the
	// sender-side entry point.
	Publisher struct {
		base string
		http *http.Client
	}
)

func NewPublisher(base string, httpClient *http.Client) *Publisher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Publisher{base: base, http: httpClient}
}

func (p *Publisher) Publish(ctx context.Context, params model.InboxParams, msg model.GSOCMessage) error {
	params = params.Normalize()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/gsoc/%s/%s",
		p.base,
		url.PathEscape(params.TargetOverlay),
		url.PathEscape(params.BaseIdentifier),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("publish descriptor: %w", err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish descriptor: unexpected status %d", resp.StatusCode)
	}
	return nil
}
