package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/cmdq/internal/config"
	"github.com/harun/cmdq/pkg/gateway"
)

// rpcClient calls the daemon's POST /rpc endpoint
type rpcClient struct {
	url    string
	secret string
	http   *http.Client
}

func newRPCClient(cfg *config.Config) *rpcClient {
	return &rpcClient{
		url:    "http://" + cfg.Gateway.Addr() + "/rpc",
		secret: cfg.Gateway.SharedSecret,
		http:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Call invokes method and decodes the result into out when out is non-nil
func (c *rpcClient) Call(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate request id: %w", err)
	}

	body, err := json.Marshal(gateway.RPCRequest{
		ID:      id,
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(gateway.SecretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("gateway rejected the shared secret")
	}

	var rpcResp struct {
		Result json.RawMessage   `json:"result"`
		Error  *gateway.RPCError `json:"error"`
	}
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("unexpected gateway response (%s): %w", resp.Status, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s (code %d)", rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}
