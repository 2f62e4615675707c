package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 8, 22, 11, 0, 0, 0, time.UTC)

type fakeStats struct{}

func (fakeStats) Stats() recovery.Stats {
	return recovery.Stats{TotalAttempts: 4, Successful: 3, Failed: 1, SuccessRate: 0.75}
}

type fakeState struct {
	cooldowns []models.Cooldown
	trades    []models.TradeRecord
	lastLimit int
}

func (f *fakeState) Cooldowns(time.Time) ([]models.Cooldown, error) { return f.cooldowns, nil }

func (f *fakeState) Trades(limit int) ([]models.TradeRecord, error) {
	f.lastLimit = limit
	return f.trades, nil
}

func newServer(secret string, state *fakeState) *Server {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	s := NewServer(fakeStats{}, state, logger, "0", secret)
	s.now = func() time.Time { return now }
	return s
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "ops", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestHealthIsPublic(t *testing.T) {
	h := newServer("secret", &fakeState{}).Handler()

	rr := get(t, h, "/api/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"healthy"`)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newServer("secret", &fakeState{}).Handler()

	for _, path := range []string{"/api/recovery/stats", "/api/cooldowns", "/api/trades", "/metrics"} {
		rr := get(t, h, path, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestTokenValidation(t *testing.T) {
	h := newServer("secret", &fakeState{}).Handler()
	future := time.Now().Add(time.Hour)

	rr := get(t, h, "/api/recovery/stats", sign(t, "secret", jwt.SigningMethodHS256, future))
	require.Equal(t, http.StatusOK, rr.Code)
	var stats recovery.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.TotalAttempts)
	assert.Equal(t, 0.75, stats.SuccessRate)

	rr = get(t, h, "/api/recovery/stats", sign(t, "other", jwt.SigningMethodHS256, future))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = get(t, h, "/api/recovery/stats", sign(t, "secret", jwt.SigningMethodHS384, future))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = get(t, h, "/api/recovery/stats", sign(t, "secret", jwt.SigningMethodHS256, time.Now().Add(-time.Minute)))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	state := &fakeState{cooldowns: []models.Cooldown{
		{Underlying: "SPY", Reason: "data_integrity", Until: now.Add(30 * time.Minute)},
	}}
	h := newServer("", state).Handler()

	rr := get(t, h, "/api/cooldowns", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []models.Cooldown
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "SPY", got[0].Underlying)

	rr = get(t, h, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTradesLimit(t *testing.T) {
	state := &fakeState{}
	h := newServer("", state).Handler()

	rr := get(t, h, "/api/trades", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
	assert.Equal(t, 50, state.lastLimit)

	rr = get(t, h, "/api/trades?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, state.lastLimit)

	rr = get(t, h, "/api/trades?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
