// internal/rail/coinex.go
package rail

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paygate/internal/domain"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
)

// DefaultCoinExBaseURL is the public CoinEx API endpoint.
const DefaultCoinExBaseURL = "https://api.coinex.com"

// CoinExConfig holds API credentials for the exchange rail.
type CoinExConfig struct {
	AccessID   string
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

// CoinExAdapter implements Adapter against the CoinEx v2 REST API.
type CoinExAdapter struct {
	accessID  string
	secretKey string
	baseURL   string
	client    *http.Client
	now       func() time.Time
}

// NewCoinExAdapter creates an exchange adapter.
func NewCoinExAdapter(cfg CoinExConfig) *CoinExAdapter {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultCoinExBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &CoinExAdapter{
		accessID:  cfg.AccessID,
		secretKey: cfg.SecretKey,
		baseURL:   base,
		client:    client,
		now:       time.Now,
	}
}

type coinexEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// coinexError is an explicit error answer from the exchange.
type coinexError struct {
	Code    int
	Message string
}

func (e *coinexError) Error() string {
	return fmt.Sprintf("coinex error %d: %s", e.Code, e.Message)
}

// sign computes the v2 request signature: hex(HMAC-SHA256(method + path?query + body + timestamp)).
func (a *CoinExAdapter) sign(method, pathWithQuery, body, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey))
	mac.Write([]byte(method + pathWithQuery + body + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// do performs a signed request. A *coinexError is returned for explicit refusals;
// any other error means the request outcome is unknown.
func (a *CoinExAdapter) do(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) error {
	pathWithQuery := path
	if len(query) > 0 {
		pathWithQuery += "?" + query.Encode()
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("coinex: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+pathWithQuery, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("coinex: build request: %w", err)
	}
	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-COINEX-KEY", a.accessID)
	req.Header.Set("X-COINEX-SIGN", a.sign(method, pathWithQuery, string(body), timestamp))
	req.Header.Set("X-COINEX-TIMESTAMP", timestamp)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("coinex: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("coinex: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("coinex: %s %s: http %d", method, path, resp.StatusCode)
	}

	var env coinexEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("coinex: decode response (http %d): %w", resp.StatusCode, err)
	}
	if env.Code != 0 {
		return &coinexError{Code: env.Code, Message: env.Message}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("coinex: %s %s: http %d", method, path, resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("coinex: decode data: %w", err)
		}
	}
	return nil
}

// GetReceivingDestination returns the exchange deposit address for the asset and chain.
func (a *CoinExAdapter) GetReceivingDestination(ctx context.Context, asset, chain string) ([]string, error) {
	var data struct {
		Address string `json:"address"`
		Memo    string `json:"memo"`
	}
	query := url.Values{"ccy": {asset}, "chain": {chain}}
	if err := a.do(ctx, http.MethodGet, "/v2/assets/deposit-address", query, nil, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrRailFailure, err)
	}
	if data.Address == "" {
		return nil, fmt.Errorf("%w: coinex returned an empty deposit address", util.ErrRailFailure)
	}
	return []string{data.Address}, nil
}

type coinexRecord struct {
	DepositID  int64           `json:"deposit_id"`
	WithdrawID int64           `json:"withdraw_id"`
	TxID       string          `json:"tx_id"`
	Ccy        string          `json:"ccy"`
	Chain      string          `json:"chain"`
	Amount     decimal.Decimal `json:"amount"`
	ToAddress  string          `json:"to_address"`
	Status     string          `json:"status"`
	Remark     string          `json:"remark"`
	CreatedAt  int64           `json:"created_at"`
}

// ListRecentSettlements reads deposit or withdrawal history.
// Deposits are identified by chain tx id, withdrawals by the exchange's withdraw id.
func (a *CoinExAdapter) ListRecentSettlements(ctx context.Context, q SettlementQuery) ([]Settlement, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	path := "/v2/assets/deposit-history"
	if q.Direction == domain.DirectionWithdraw {
		path = "/v2/assets/withdraw"
	}
	query := url.Values{"ccy": {q.Asset}, "limit": {strconv.Itoa(limit)}}

	var records []coinexRecord
	if err := a.do(ctx, http.MethodGet, path, query, nil, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrRailFailure, err)
	}

	out := make([]Settlement, 0, len(records))
	for _, rec := range records {
		if q.Chain != "" && !strings.EqualFold(rec.Chain, q.Chain) {
			continue
		}
		s := Settlement{
			ExternalID:  rec.TxID,
			Asset:       rec.Ccy,
			Chain:       strings.ToUpper(rec.Chain),
			Amount:      rec.Amount,
			Status:      rec.Status,
			Destination: rec.ToAddress,
			Memo:        rec.Remark,
			CreatedAt:   time.UnixMilli(rec.CreatedAt).UTC(),
		}
		if q.Direction == domain.DirectionWithdraw {
			s.ExternalID = strconv.FormatInt(rec.WithdrawID, 10)
		}
		out = append(out, s)
	}
	return out, nil
}

// SubmitPayout creates an on-chain withdrawal. The idempotency key travels as the remark.
func (a *CoinExAdapter) SubmitPayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	payload := map[string]string{
		"ccy":        req.Asset,
		"chain":      req.Chain,
		"to_address": req.Destination,
		"amount":     req.Amount.String(),
		"remark":     req.IdempotencyKey,
	}
	var data coinexRecord
	err := a.do(ctx, http.MethodPost, "/v2/assets/withdraw", nil, payload, &data)
	if err != nil {
		var refusal *coinexError
		if errors.As(err, &refusal) {
			return PayoutResult{OK: false, Error: refusal.Error()}, nil
		}
		return PayoutResult{}, fmt.Errorf("%w: %w", util.ErrRailIndeterminate, err)
	}
	if data.WithdrawID == 0 {
		return PayoutResult{}, fmt.Errorf("%w: coinex accepted the payout without a withdraw id", util.ErrRailIndeterminate)
	}
	return PayoutResult{OK: true, ExternalID: strconv.FormatInt(data.WithdrawID, 10)}, nil
}
