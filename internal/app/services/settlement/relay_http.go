package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wowgifts/giftlink/pkg/logger"
)

// RelayExecutor settles gifts through the custodial relay service. The relay
// holds the escrowed funds and signs the transfers itself.
type RelayExecutor struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewRelayExecutor constructs an executor using the provided relay endpoint.
func NewRelayExecutor(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*RelayExecutor, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("relay endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse relay endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("settlement-relay")
	}
	return &RelayExecutor{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

var _ Executor = (*RelayExecutor)(nil)

type relayResponse struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Authorize asks the relay to pre-approve an escrow draw for the sender.
func (r *RelayExecutor) Authorize(ctx context.Context, senderAddress, tokenAddress, amount string) error {
	payload := map[string]string{
		"senderAddress": senderAddress,
		"tokenAddress":  tokenAddress,
		"amount":        amount,
	}
	resp, err := r.post(ctx, "/authorize", payload)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return nil
}

// Settle asks the relay to transfer amount to recipient.
func (r *RelayExecutor) Settle(ctx context.Context, recipient, tokenAddress, amount string) (Receipt, error) {
	payload := map[string]string{
		"recipientAddress": recipient,
		"tokenAddress":     tokenAddress,
		"amount":           amount,
	}
	resp, err := r.post(ctx, "/claim", payload)
	if err != nil {
		return Receipt{}, err
	}
	if !resp.Success {
		return Receipt{}, fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	return Receipt{TxHash: resp.Hash, Message: resp.Message}, nil
}

func (r *RelayExecutor) post(ctx context.Context, path string, payload any) (relayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return relayResponse{}, fmt.Errorf("encode relay request: %w", err)
	}

	requestURL := *r.endpoint
	requestURL.Path = strings.TrimSuffix(requestURL.Path, "/") + path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(body))
	if err != nil {
		return relayResponse{}, fmt.Errorf("build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return relayResponse{}, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return relayResponse{}, fmt.Errorf("relay status %d", resp.StatusCode)
	}

	var decoded relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return relayResponse{}, fmt.Errorf("decode relay response: %w", err)
	}
	return decoded, nil
}
