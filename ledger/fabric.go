package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
)

// FabricConfig configures the permissioned-gateway variant.
type FabricConfig struct {
	LoginURL       string
	TransactionURL string
	User           string
	Password       string
}

// FabricClient settles through a permissioned-network HTTP gateway. A login
// call establishes a session once at construction; per-operation calls hit
// the gateway's evaluate (read-only) or submit (mutating) endpoint with the
// chaincode function name and positional arguments as JSON.
//
// Failure signaling is deliberately soft on this variant: balanceOf degrades
// to 0 and mutating operations degrade to an empty transaction identifier
// instead of propagating errors. Callers cannot distinguish "succeeded with
// empty receipt" from "failed" without re-reading the balance.
type FabricClient struct {
	cfg  FabricConfig
	http *http.Client
	log  *slog.Logger
}

func NewFabricClient(ctx context.Context, cfg FabricConfig) (*FabricClient, error) {
	if strings.TrimSpace(cfg.LoginURL) == "" || strings.TrimSpace(cfg.TransactionURL) == "" {
		return nil, fmt.Errorf("ledger: fabric gateway urls required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client := &FabricClient{
		cfg:  cfg,
		http: &http.Client{Jar: jar, Timeout: CallTimeout},
		log:  slog.Default().With("component", "ledger.fabric"),
	}
	if err := client.login(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *FabricClient) Backend() string { return "fabric" }

// login establishes the gateway session cookie.
func (c *FabricClient) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"userID":   c.cfg.User,
		"password": c.cfg.Password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: gateway login: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: gateway login: status=%d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// send posts one chaincode invocation. balanceOf goes to the read-only
// evaluate endpoint, everything else to submit.
func (c *FabricClient) send(ctx context.Context, fn string, args ...interface{}) (string, error) {
	ctx, cancel := callContext(ctx)
	defer cancel()

	endpoint := c.cfg.TransactionURL + "/submit"
	if fn == "balanceOf" {
		endpoint = c.cfg.TransactionURL + "/evaluate"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"fn":   fn,
		"args": args,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, fn, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, fn, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s: status=%d", ErrUnavailable, fn, resp.StatusCode)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *FabricClient) BalanceOf(ctx context.Context, address string) (int64, error) {
	body, err := c.send(ctx, "balanceOf", address)
	if err != nil {
		c.log.Warn("balanceOf degraded to zero", "error", err)
		return 0, nil
	}
	balance, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		c.log.Warn("balanceOf returned non-numeric body", "body", body)
		return 0, nil
	}
	return balance, nil
}

// Mutating operations swallow transport failures into an empty identifier;
// the session identity authorizes them, so caller and callerKey are unused.

func (c *FabricClient) Mint(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	return c.softSubmit(ctx, "mint", to, amount)
}

func (c *FabricClient) Burn(ctx context.Context, caller, callerKey, from string, amount int64) (string, error) {
	return c.softSubmit(ctx, "Burn", from, amount)
}

func (c *FabricClient) Transfer(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	return c.softSubmit(ctx, "transfer", to, amount)
}

func (c *FabricClient) ProcessAction(ctx context.Context, caller, callerKey, promoter, to, actionID string, reward int64, timestamp int64, proofHash string) (string, error) {
	return c.softSubmit(ctx, "processAction", promoter, to, actionID, reward, timestamp, proofHash)
}

func (c *FabricClient) softSubmit(ctx context.Context, fn string, args ...interface{}) (string, error) {
	txID, err := c.send(ctx, fn, args...)
	if err != nil {
		c.log.Warn("settlement call degraded to empty receipt", "fn", fn, "error", err)
		return "", nil
	}
	return txID, nil
}
