// Package ledger provides the settlement ledger boundary: the JSON-RPC
// client, the versioned codec for fund entries and operations, and the
// structured rejection codes shared by both.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the ledger RPC node over JSON-RPC 2.0.
type Client struct {
	rpcURL     string
	contractID string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config holds client configuration.
type Config struct {
	RPCURL     string
	ContractID string
	Timeout    time.Duration
	// RequestsPerSecond caps outbound RPC calls; 0 disables the limiter.
	RequestsPerSecond float64
}

// NewClient creates a ledger RPC client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if cfg.ContractID == "" {
		return nil, fmt.Errorf("contract ID required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		contractID: cfg.ContractID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call makes a JSON-RPC call to the ledger node.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// =============================================================================
// Contract-storage reads
// =============================================================================

type contractDataParams struct {
	ContractID string `json:"contractId"`
	Key        ScVal  `json:"key"`
}

type contractDataResult struct {
	Entry json.RawMessage `json:"entry"`
}

// getContractData fetches a single contract-storage entry by key.
func (c *Client) getContractData(ctx context.Context, key ScVal) (json.RawMessage, error) {
	result, err := c.call(ctx, "getContractData", contractDataParams{ContractID: c.contractID, Key: key})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var data contractDataResult
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("unmarshal contract data: %w", err)
	}
	if len(data.Entry) == 0 || string(data.Entry) == "null" {
		return nil, ErrNotFound
	}
	return data.Entry, nil
}

// FundEntry returns the raw stored entry for a fund id.
func (c *Client) FundEntry(ctx context.Context, id uint64) (json.RawMessage, error) {
	return c.getContractData(ctx, FundKey(id))
}

// NextFundID returns the id high-water mark. A missing entry means the
// contract has not created any funds yet.
func (c *Client) NextFundID(ctx context.Context) (uint64, error) {
	entry, err := c.getContractData(ctx, NextFundIDKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var v ScVal
	if err := json.Unmarshal(entry, &v); err != nil {
		return 0, fmt.Errorf("unmarshal next fund id: %w", err)
	}
	return ParseU64(v)
}

// =============================================================================
// Simulate / submit / poll
// =============================================================================

type simulateParams struct {
	ContractID string     `json:"contractId"`
	Operation  *Operation `json:"operation"`
}

type simulateResult struct {
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// Simulate dry-runs the operation against current ledger state.
func (c *Client) Simulate(ctx context.Context, op *Operation) error {
	result, err := c.call(ctx, "simulateTransaction", simulateParams{ContractID: c.contractID, Operation: op})
	if err != nil {
		return err
	}

	var sim simulateResult
	if err := json.Unmarshal(result, &sim); err != nil {
		return fmt.Errorf("unmarshal simulation: %w", err)
	}
	if sim.Error != "" || sim.ErrorCode != 0 {
		return &RejectedError{Code: sim.ErrorCode, Method: op.Method}
	}
	return nil
}

type sendResult struct {
	Status    string `json:"status"`
	Hash      string `json:"hash"`
	ErrorCode int    `json:"errorCode,omitempty"`
}

// Submit broadcasts a signed operation once and returns the transaction
// hash. The caller owns retry policy; this method never retries.
func (c *Client) Submit(ctx context.Context, signed *SignedOperation) (string, error) {
	result, err := c.call(ctx, "sendTransaction", signed)
	if err != nil {
		return "", err
	}

	var send sendResult
	if err := json.Unmarshal(result, &send); err != nil {
		return "", fmt.Errorf("unmarshal send result: %w", err)
	}
	if send.Status != string(TxPending) && send.Status != string(TxSuccess) {
		method := ""
		var op Operation
		if jsonErr := json.Unmarshal(signed.Envelope, &op); jsonErr == nil {
			method = op.Method
		}
		return "", &RejectedError{Code: send.ErrorCode, Method: method}
	}
	return send.Hash, nil
}

type txStatusResult struct {
	Status string `json:"status"`
}

// TxStatus reports the finality state of a submitted transaction. A missing
// transaction is reported as TxNotFound, not an error; the ledger may simply
// not have seen it yet.
func (c *Client) TxStatus(ctx context.Context, txHash string) (TxStatus, error) {
	result, err := c.call(ctx, "getTransaction", map[string]string{"hash": txHash})
	if err != nil {
		if isNotFoundError(err) {
			return TxNotFound, nil
		}
		return "", err
	}

	var status txStatusResult
	if err := json.Unmarshal(result, &status); err != nil {
		return "", fmt.Errorf("unmarshal tx status: %w", err)
	}

	switch TxStatus(status.Status) {
	case TxNotFound, TxPending, TxSuccess, TxFailed:
		return TxStatus(status.Status), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", status.Status)
}

func isNotFoundError(err error) bool {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "not found")
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

var _ Ledger = (*Client)(nil)
