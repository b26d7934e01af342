package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Transaction confirms transactions with an external ledger after
// successful execution.
//
// The policy runs post-execution. It expects a confirmation token in the
// request input, placed there by a client that has already reserved funds
// with the ledger, and confirms the transfer once the handler succeeds.
// Confirmation failures deny the request so unconfirmed responses never
// reach the caller.
type Transaction struct {
	Base

	name            string
	ledgerURL       string
	apiToken        string
	tokenField      string
	timeout         time.Duration
	pricePerRequest float64
	client          *http.Client
}

// TransactionOption customizes a Transaction policy.
type TransactionOption func(*Transaction)

// WithLedger sets the ledger base URL and API token explicitly, overriding
// the LEDGER_URL / LEDGER_API_TOKEN environment variables.
func WithLedger(url, apiToken string) TransactionOption {
	return func(p *Transaction) {
		p.ledgerURL = strings.TrimRight(url, "/")
		p.apiToken = apiToken
	}
}

// WithTokenField sets the Input key holding the confirmation token
// (default "transaction_token").
func WithTokenField(field string) TransactionOption {
	return func(p *Transaction) { p.tokenField = field }
}

// WithConfirmTimeout sets the ledger request timeout (default 30s).
func WithConfirmTimeout(d time.Duration) TransactionOption {
	return func(p *Transaction) { p.timeout = d }
}

// WithPricePerRequest declares the per-request price. It is surfaced in the
// export for client visibility and never used during evaluation.
func WithPricePerRequest(price float64) TransactionOption {
	return func(p *Transaction) { p.pricePerRequest = price }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) TransactionOption {
	return func(p *Transaction) { p.client = client }
}

// NewTransaction creates a ledger confirmation policy. An empty name
// defaults to "transaction". Ledger settings fall back to the LEDGER_URL
// and LEDGER_API_TOKEN environment variables.
func NewTransaction(name string, opts ...TransactionOption) *Transaction {
	if name == "" {
		name = "transaction"
	}
	p := &Transaction{
		name:       name,
		ledgerURL:  strings.TrimRight(os.Getenv("LEDGER_URL"), "/"),
		apiToken:   os.Getenv("LEDGER_API_TOKEN"),
		tokenField: "transaction_token",
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p
}

// Name returns the policy name.
func (p *Transaction) Name() string {
	return p.name
}

// Export returns the policy snapshot. The API token itself is never
// exported, only whether one is configured.
func (p *Transaction) Export() Export {
	return Export{
		Name:  p.name,
		Type:  "transaction",
		Phase: []string{PhasePost},
		Config: map[string]any{
			"ledger_url":        p.ledgerURL,
			"token_field":       p.tokenField,
			"timeout_seconds":   p.timeout.Seconds(),
			"has_api_token":     p.apiToken != "",
			"price_per_request": p.pricePerRequest,
		},
	}
}

// extractTransferID pulls the transfer ID out of a confirmation token.
// Token format: transactionId.salt.expiresAt.signature
func extractTransferID(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return ""
	}
	return parts[0]
}

// PostExecute confirms the transfer with the ledger after handler success.
func (p *Transaction) PostExecute(ctx context.Context, rc *RequestContext) (Result, error) {
	token := rc.InputString(p.tokenField)
	if token == "" {
		return Deny(p.name, fmt.Sprintf("%s required in request input", p.tokenField)), nil
	}

	transferID := extractTransferID(token)
	if transferID == "" {
		return Deny(p.name, "Invalid token format: could not extract transfer ID"), nil
	}

	if p.ledgerURL == "" {
		return Deny(p.name, "Ledger URL not configured (set ledger URL or LEDGER_URL env var)"), nil
	}
	if p.apiToken == "" {
		return Deny(p.name, "Ledger API token not configured (set API token or LEDGER_API_TOKEN env var)"), nil
	}

	body, err := json.Marshal(map[string]string{"confirmation_token": token})
	if err != nil {
		return Result{}, fmt.Errorf("encode confirmation body: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/transfers/%s/confirm", p.ledgerURL, transferID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build confirmation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Deny(p.name, fmt.Sprintf("Ledger confirmation timed out after %s", p.timeout)), nil
		}
		return Deny(p.name, fmt.Sprintf("Could not connect to ledger: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Deny(p.name, fmt.Sprintf("Ledger confirmation failed: HTTP %d", resp.StatusCode)), nil
	}

	rc.Metadata[p.name+"_confirmed"] = true
	return Allow(p.name), nil
}
