// internal/rail/coinex_test.go
package rail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paygate/internal/domain"
	"paygate/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoinEx(t *testing.T, handler http.HandlerFunc) *CoinExAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a := NewCoinExAdapter(CoinExConfig{AccessID: "key", SecretKey: "secret", BaseURL: srv.URL})
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return a
}

func TestCoinExAdapter_SubmitPayout(t *testing.T) {
	t.Run("accepted payout returns withdraw id", func(t *testing.T) {
		a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v2/assets/withdraw", r.URL.Path)
			assert.Equal(t, "key", r.Header.Get("X-COINEX-KEY"))
			assert.Equal(t, "1700000000000", r.Header.Get("X-COINEX-TIMESTAMP"))
			want := (&CoinExAdapter{secretKey: "secret"}).sign(http.MethodPost, "/v2/assets/withdraw", string(body), "1700000000000")
			assert.Equal(t, want, r.Header.Get("X-COINEX-SIGN"))

			var payload map[string]string
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, "USDT", payload["ccy"])
			assert.Equal(t, "TRC20", payload["chain"])
			assert.Equal(t, "payout-key", payload["remark"])
			assert.Equal(t, "36.5", payload["amount"])

			w.Write([]byte(`{"code":0,"message":"OK","data":{"withdraw_id":987,"status":"processing"}}`))
		})

		res, err := a.SubmitPayout(context.Background(), PayoutRequest{
			Asset: "USDT", Chain: "TRC20", Destination: "TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE",
			Amount: decimal.RequireFromString("36.5"), IdempotencyKey: "payout-key",
		})
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Equal(t, "987", res.ExternalID)
	})

	t.Run("explicit refusal is not an error", func(t *testing.T) {
		a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":3008,"message":"insufficient balance","data":{}}`))
		})
		res, err := a.SubmitPayout(context.Background(), PayoutRequest{Asset: "USDT", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Contains(t, res.Error, "insufficient balance")
	})

	t.Run("server error is indeterminate", func(t *testing.T) {
		a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := a.SubmitPayout(context.Background(), PayoutRequest{Asset: "USDT", Amount: decimal.NewFromInt(1)})
		assert.ErrorIs(t, err, util.ErrRailIndeterminate)
	})

	t.Run("timeout is indeterminate", func(t *testing.T) {
		a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := a.SubmitPayout(ctx, PayoutRequest{Asset: "USDT", Amount: decimal.NewFromInt(1)})
		assert.ErrorIs(t, err, util.ErrRailIndeterminate)
	})
}

func TestCoinExAdapter_GetReceivingDestination(t *testing.T) {
	a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/assets/deposit-address", r.URL.Path)
		assert.Equal(t, "USDT", r.URL.Query().Get("ccy"))
		assert.Equal(t, "BEP20", r.URL.Query().Get("chain"))
		w.Write([]byte(`{"code":0,"data":{"address":"0xabc","memo":""}}`))
	})
	out, err := a.GetReceivingDestination(context.Background(), "USDT", "BEP20")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, out)
}

func TestCoinExAdapter_ListRecentSettlements(t *testing.T) {
	a := newTestCoinEx(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/assets/deposit-history":
			w.Write([]byte(`{"code":0,"data":[
				{"deposit_id":1,"tx_id":"hash-1","ccy":"USDT","chain":"TRC20","amount":"10","to_address":"T1","status":"finished","created_at":1700000000000},
				{"deposit_id":2,"tx_id":"hash-2","ccy":"USDT","chain":"BEP20","amount":"5","to_address":"0x1","status":"finished","created_at":1700000000000}]}`))
		case "/v2/assets/withdraw":
			w.Write([]byte(`{"code":0,"data":[
				{"withdraw_id":77,"tx_id":"hash-9","ccy":"USDT","chain":"TRC20","amount":"3.5","to_address":"T2","status":"finished","remark":"k1","created_at":1700000000000}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	deposits, err := a.ListRecentSettlements(context.Background(), SettlementQuery{
		Direction: domain.DirectionDeposit, Asset: "USDT", Chain: "TRC20", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "hash-1", deposits[0].ExternalID)
	assert.True(t, decimal.NewFromInt(10).Equal(deposits[0].Amount))

	withdrawals, err := a.ListRecentSettlements(context.Background(), SettlementQuery{
		Direction: domain.DirectionWithdraw, Asset: "USDT",
	})
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, "77", withdrawals[0].ExternalID)
	assert.Equal(t, "k1", withdrawals[0].Memo)
}

type staticSettings map[string]string

func (s staticSettings) Get(ctx context.Context, key string) (string, error) {
	v, ok := s[key]
	if !ok {
		return "", util.ErrNotFound
	}
	return v, nil
}

func TestManualAdapter(t *testing.T) {
	settings := staticSettings{domain.KeyCashAgentNumbers: "0991111111, 0992222222,"}
	cash := NewManualAdapter(domain.RailCashAgent, settings)
	numbers, err := cash.GetReceivingDestination(context.Background(), "NSP", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0991111111", "0992222222"}, numbers)

	wallet := NewManualAdapter(domain.RailWalletCash, settings)
	_, err = wallet.GetReceivingDestination(context.Background(), "USD", "")
	assert.ErrorIs(t, err, util.ErrNotFound)

	_, err = cash.ListRecentSettlements(context.Background(), SettlementQuery{})
	assert.ErrorIs(t, err, util.ErrUnsupported)

	res, err := cash.SubmitPayout(context.Background(), PayoutRequest{})
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(time.Second)
	_, err := reg.Get(domain.RailExchange)
	assert.ErrorIs(t, err, util.ErrUnsupported)

	reg.Register(domain.RailCashAgent, NewManualAdapter(domain.RailCashAgent, staticSettings{domain.KeyCashAgentNumbers: "0991111111"}))
	a, err := reg.Get(domain.RailCashAgent)
	require.NoError(t, err)
	numbers, err := a.GetReceivingDestination(context.Background(), "NSP", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0991111111"}, numbers)
}
