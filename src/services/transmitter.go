package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/anonymizer"
	"github.com/00vip7-stack/hedge-dashboard/src/logger"
	"github.com/00vip7-stack/hedge-dashboard/src/models"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrTransmissionFailed = errors.New("transmission to the aggregation service failed")

// TransmissionError is a network failure or a non-2xx answer from the sink.
type TransmissionError struct {
	Endpoint   string
	StatusCode int // 0 when no response arrived
	Body       string
	Cause      error
}

func (e *TransmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s answered %d", ErrTransmissionFailed, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %v", ErrTransmissionFailed, e.Endpoint, e.Cause)
}

func (e *TransmissionError) Unwrap() error { return e.Cause }

func (e *TransmissionError) Is(target error) bool {
	return target == ErrTransmissionFailed
}

func (e *TransmissionError) Hint() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "Check the transmission client credentials."
	case e.StatusCode >= 500:
		return "The aggregation service is failing; a locally estimated result was used instead."
	case e.StatusCode != 0:
		return "The aggregation service rejected the payload; check its API version."
	default:
		return "The aggregation service could not be reached; a locally estimated result was used instead."
	}
}

// TransmitMetadata travels next to the positions. It never carries the
// original filename or any identifying field.
type TransmitMetadata struct {
	FileAlias        string  `json:"fileAlias"`
	System           string  `json:"erpSystem"`
	RecordCount      int     `json:"recordCount"`
	TargetHedgeRatio float64 `json:"targetHedgeRatio"`
	Anonymized       bool    `json:"_anonymized"`
}

type Payload struct {
	Positions []models.AnonymizedRecord `json:"positions"`
	Metadata  TransmitMetadata          `json:"metadata"`
}

// Transmitter sends the anonymised payload and returns the remote hedge
// calculation.
type Transmitter interface {
	Endpoint() string
	Transmit(ctx context.Context, payload Payload) (*models.HedgeCalculation, error)
}

type HTTPTransmitter struct {
	endpoint  string
	client    *http.Client
	validator *anonymizer.Anonymizer
	timeout   time.Duration
}

// NewHTTPTransmitter posts payloads to endpoint. Every payload is checked
// by validator right before it is encoded.
func NewHTTPTransmitter(endpoint string, client *http.Client, validator *anonymizer.Anonymizer, timeout time.Duration) *HTTPTransmitter {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransmitter{endpoint: endpoint, client: client, validator: validator, timeout: timeout}
}

// NewOAuthClient returns a client that attaches client-credentials tokens,
// or a plain client when no credentials are configured.
func NewOAuthClient(ctx context.Context, clientID, clientSecret, tokenURL string) *http.Client {
	if clientID == "" || clientSecret == "" || tokenURL == "" {
		return &http.Client{}
	}
	cfg := clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
	return cfg.Client(ctx)
}

func (t *HTTPTransmitter) Endpoint() string { return t.endpoint }

// Transmit aborts with an anonymization violation before anything is sent.
// Network and HTTP failures come back as *TransmissionError.
func (t *HTTPTransmitter) Transmit(ctx context.Context, payload Payload) (*models.HedgeCalculation, error) {
	if err := t.validator.Check(payload.Positions); err != nil {
		return nil, err
	}
	payload.Metadata.Anonymized = true
	payload.Metadata.RecordCount = len(payload.Positions)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transmission payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransmissionError{Endpoint: t.endpoint, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransmissionError{Endpoint: t.endpoint, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransmissionError{Endpoint: t.endpoint, StatusCode: resp.StatusCode, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransmissionError{Endpoint: t.endpoint, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var calc models.HedgeCalculation
	if err := json.Unmarshal(respBody, &calc); err != nil {
		return nil, &TransmissionError{Endpoint: t.endpoint, StatusCode: resp.StatusCode, Cause: fmt.Errorf("invalid response body: %w", err)}
	}
	logger.FromContext(ctx).Info("Payload transmitted", "endpoint", t.endpoint, "records", len(payload.Positions), "status", resp.StatusCode, "duration", time.Since(start))
	return &calc, nil
}
