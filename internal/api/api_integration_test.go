// internal/api/api_integration_test.go
package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "paygate/internal"
	"paygate/internal/api/auth"
	"paygate/internal/config"
	"paygate/pkg/db"
)

const adminID = "9001"

// testApp is the global application instance for testing.
var testApp *app.Application

// testServer is the httptest server.
var testServer *httptest.Server

// TestMain is the special entry point for Go tests, executed once before all tests.
func TestMain(m *testing.M) {
	// 1. Initialize the application on the in-process store.
	testApp = app.NewApplication()
	if err := testApp.InitializeWithConfig(context.Background(), testConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize test application: %v\n", err)
		os.Exit(1)
	}

	// 2. Start an httptest server to test the HTTP handling layer.
	testServer = httptest.NewServer(testApp.HTTPHandler)

	// 3. Run all tests.
	code := m.Run()

	// 4. Shut down application resources after tests.
	testServer.Close()
	if err := testApp.Shutdown(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to shutdown test application: %v\n", err)
		os.Exit(1)
	}

	os.Exit(code)
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		ServerPort:                "0",
		DB:                        db.Config{Driver: config.DriverMemory},
		LogLevel:                  "error",
		LedgerCurrency:            "NSP",
		AdminIDs:                  []string{adminID},
		JWTSecret:                 "integration-secret",
		RailTimeout:               5 * time.Second,
		ReviewSessionTTL:          time.Minute,
		WhitelistRequiresApproval: true,
		Notify: config.NotifyConfig{
			Workers:   1,
			QueueSize: 64,
			Timeout:   time.Second,
		},
		Settings: map[string]string{
			"receive.cash_agent.numbers": "0933000111,0944000222",
		},
	}
}

func token(t *testing.T, subject string, role auth.Role) string {
	tok, err := testApp.Auth.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// makeRequest helper function: sends an HTTP request to the test server and decodes the JSON body.
func makeRequest(t *testing.T, method, path, bearer, body string) (int, map[string]interface{}) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, testServer.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func txID(t *testing.T, body map[string]interface{}) int64 {
	tx, ok := body["transaction"].(map[string]interface{})
	if !ok {
		tx = body
	}
	id, ok := tx["id"].(float64)
	require.True(t, ok, "response has no transaction id: %v", body)
	return int64(id)
}

func balanceOf(t *testing.T, bearer string) decimal.Decimal {
	code, body := makeRequest(t, http.MethodGet, "/v1/balance", bearer, "")
	require.Equal(t, http.StatusOK, code)
	balance, err := decimal.NewFromString(body["balance"].(string))
	require.NoError(t, err)
	return balance
}

func TestAuthIntegration(t *testing.T) {
	user := token(t, "1001", auth.RoleUser)

	t.Run("MissingToken", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodGet, "/v1/balance", "", "")
		assert.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("UserOnAdminRoute", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodGet, "/admin/transactions/pending", user, "")
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("AdminNotConfigured", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodGet, "/admin/transactions/pending", token(t, "1001", auth.RoleAdmin), "")
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("UnknownUserHasZeroBalance", func(t *testing.T) {
		assert.True(t, balanceOf(t, token(t, "new-user", auth.RoleUser)).IsZero())
	})
}

func TestDepositIntegration(t *testing.T) {
	user := token(t, "2001", auth.RoleUser)
	admin := token(t, adminID, auth.RoleAdmin)

	t.Run("Instructions", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, "/v1/deposits/instructions?rail=cash_agent", user, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, []interface{}{"0933000111", "0944000222"}, body["destinations"])
		assert.Equal(t, "NSP", body["currency"])
	})

	var depositID int64
	t.Run("Submitted", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/deposits", user,
			`{"rail":"cash_agent","currency":"NSP","amount":"100000","reference":"CA-1"}`)
		require.Equal(t, http.StatusCreated, code, body)
		depositID = txID(t, body)
		assert.True(t, balanceOf(t, user).IsZero(), "nothing is credited before review")
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodPost, "/v1/deposits", token(t, "2002", auth.RoleUser),
			`{"rail":"cash_agent","currency":"NSP","amount":"50000","reference":"CA-1"}`)
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/deposits", user,
			`{"rail":"cash_agent","currency":"NSP","amount":"100","reference":"CA-2"}`)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, body["error"], "minimum")
	})

	t.Run("Approved", func(t *testing.T) {
		path := fmt.Sprintf("/admin/transactions/cash_agent/%d/approve", depositID)
		code, body := makeRequest(t, http.MethodPost, path, admin, "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "approved", body["status"])
		assert.True(t, decimal.NewFromInt(100000).Equal(balanceOf(t, user)))

		code, _ = makeRequest(t, http.MethodPost, path, admin, "")
		assert.Equal(t, http.StatusConflict, code, "a second approval must not credit again")
		assert.True(t, decimal.NewFromInt(100000).Equal(balanceOf(t, user)))
	})

	t.Run("AuditTrail", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, fmt.Sprintf("/admin/transactions/cash_agent/%d/audit", depositID), admin, "")
		require.Equal(t, http.StatusOK, code)
		entries := body["data"].([]interface{})
		require.Len(t, entries, 2)
		assert.Equal(t, "pending", entries[0].(map[string]interface{})["action"])
		assert.Equal(t, "approved", entries[1].(map[string]interface{})["action"])
	})

	t.Run("History", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, "/v1/transactions?limit=10", user, "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, float64(1), body["total_count"])
	})
}

func TestWithdrawIntegration(t *testing.T) {
	const identity = "3001"
	user := token(t, identity, auth.RoleUser)
	admin := token(t, adminID, auth.RoleAdmin)
	_, err := testApp.LedgerService.Credit(context.Background(), identity, decimal.NewFromInt(100000))
	require.NoError(t, err)

	withdraw := `{"rail":"cash_agent","destination":"0933123456","amount":"60000"}`

	t.Run("NotWhitelisted", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodPost, "/v1/withdrawals", user, withdraw)
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("WhitelistApproval", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/whitelist", user,
			`{"rail":"cash_agent","destination":"0933123456","label":"home"}`)
		require.Equal(t, http.StatusCreated, code, body)
		assert.Equal(t, "pending", body["status"])

		code, _ = makeRequest(t, http.MethodPost, "/v1/withdrawals", user, withdraw)
		assert.Equal(t, http.StatusForbidden, code, "a pending entry does not allow payouts")

		code, body = makeRequest(t, http.MethodPost, fmt.Sprintf("/admin/whitelist/%d/approve", txID(t, body)), admin, "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "active", body["status"])
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/withdrawals", user,
			`{"rail":"cash_agent","destination":"0933123456","amount":"200000"}`)
		assert.Equal(t, http.StatusPaymentRequired, code)
		assert.Contains(t, body["error"], "100000")
	})

	t.Run("RejectedThroughReply", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/withdrawals", user, withdraw)
		require.Equal(t, http.StatusCreated, code, body)
		id := txID(t, body)
		assert.True(t, decimal.NewFromInt(40000).Equal(balanceOf(t, user)))

		code, body = makeRequest(t, http.MethodPost, fmt.Sprintf("/admin/transactions/cash_agent/%d/reject", id), admin, "")
		require.Equal(t, http.StatusAccepted, code, body)
		assert.Equal(t, "reject_reason", body["awaiting"])

		reply := fmt.Sprintf("/admin/transactions/cash_agent/%d/reply", id)
		code, body = makeRequest(t, http.MethodPost, reply, admin, `{"text":"bad number"}`)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "rejected", body["status"])
		assert.Equal(t, "bad number", body["reason"])
		assert.True(t, decimal.NewFromInt(100000).Equal(balanceOf(t, user)))

		code, _ = makeRequest(t, http.MethodPost, reply, admin, `{"text":"again"}`)
		assert.Equal(t, http.StatusNotFound, code, "the session is consumed")
	})

	t.Run("ApprovedWithReference", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPost, "/v1/withdrawals", user, withdraw)
		require.Equal(t, http.StatusCreated, code, body)
		id := txID(t, body)

		code, body = makeRequest(t, http.MethodPost, fmt.Sprintf("/admin/transactions/cash_agent/%d/approve", id), admin, "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "approved_awaiting_reference", body["status"])

		code, body = makeRequest(t, http.MethodGet, "/admin/transactions/awaiting-reference", admin, "")
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, body["data"])

		code, body = makeRequest(t, http.MethodPost, fmt.Sprintf("/admin/transactions/cash_agent/%d/reference", id), admin, `{"reference":"AGENT-778"}`)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "approved", body["status"])
		assert.Equal(t, "AGENT-778", body["external_reference"])
		assert.True(t, decimal.NewFromInt(40000).Equal(balanceOf(t, user)))
	})

	t.Run("RejectAfterApproval", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, "/v1/transactions", user, "")
		require.Equal(t, http.StatusOK, code)
		latest := body["data"].([]interface{})[0].(map[string]interface{})

		path := fmt.Sprintf("/admin/transactions/cash_agent/%d/reject", int64(latest["id"].(float64)))
		code, _ = makeRequest(t, http.MethodPost, path, admin, `{"reason":"too late"}`)
		assert.Equal(t, http.StatusConflict, code)
	})
}

func TestSettingsIntegration(t *testing.T) {
	admin := token(t, adminID, auth.RoleAdmin)

	t.Run("SetRate", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodPut, "/admin/rates/usdt/nsp", admin, `{"rate":"3700"}`)
		require.Equal(t, http.StatusOK, code, body)
		assert.Equal(t, "rate.USDT.NSP", body["key"])
		assert.Equal(t, "3700", body["value"])
	})

	t.Run("InvalidSetting", func(t *testing.T) {
		code, _ := makeRequest(t, http.MethodPut, "/admin/settings/unknown.key", admin, `{"value":"1"}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("Listed", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, "/admin/settings", admin, "")
		require.Equal(t, http.StatusOK, code)
		found := false
		for _, s := range body["data"].([]interface{}) {
			if s.(map[string]interface{})["key"] == "rate.USDT.NSP" {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("RecentAudit", func(t *testing.T) {
		code, body := makeRequest(t, http.MethodGet, "/admin/audit?limit=5", admin, "")
		require.Equal(t, http.StatusOK, code)
		assert.NotEmpty(t, body["data"])
	})
}
