package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// signRequest is the payload sent to a signing service
type signRequest struct {
	API  string `json:"api"`
	Data string `json:"data,omitempty"`
	A1   string `json:"a1"`
	B1   string `json:"b1,omitempty"`
}

// signResponse is the signature computed by a signing service
type signResponse struct {
	XS       string `json:"x_s"`
	XT       string `json:"x_t"`
	XSCommon string `json:"x_s_common"`
	TraceID  string `json:"x_b3_traceid"`
}

// NewRemoteSignFunc returns a SignFunc backed by an HTTP signing service.
// The service keeps a browser page with the platform's bundle loaded and
// evaluates the signing routine on request.
func NewRemoteSignFunc(endpoint string, client *http.Client) SignFunc {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, api string, body []byte, a1, b1 string) (*Signature, error) {
		payload, err := json.Marshal(signRequest{
			API:  api,
			Data: string(body),
			A1:   a1,
			B1:   b1,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sign request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("signing service unreachable: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("signing service returned status %d", resp.StatusCode)
		}

		var sr signResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return nil, fmt.Errorf("malformed signing response: %w", err)
		}
		if sr.XS == "" || sr.XT == "" {
			return nil, fmt.Errorf("signing service returned an empty signature")
		}
		return &Signature{
			XS:       sr.XS,
			XT:       sr.XT,
			XSCommon: sr.XSCommon,
			TraceID:  sr.TraceID,
		}, nil
	}
}
