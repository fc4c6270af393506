package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"polaris/internal/engine"
	"polaris/internal/live"
	"polaris/internal/market"
	"polaris/internal/promotion"
	"polaris/internal/store"
)

func newTestServer(t *testing.T, guard ...*live.Guard) (*Server, *engine.Engine) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.NewSqliteStoreFromDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ev, err := promotion.NewEvaluator(promotion.DefaultConfig())
	require.NoError(t, err)
	eng, err := engine.New(engine.Params{
		Config:    engine.Config{CycleInterval: time.Hour},
		Store:     st,
		Snapshots: market.NewStore(100),
		Evaluator: ev,
	})
	require.NoError(t, err)

	cfg := ServerConfig{Addr: ":0", Engine: eng, Store: st}
	if len(guard) > 0 {
		cfg.Guard = guard[0]
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv, eng
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterAndListStrategies(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/strategies", `{
		"name": "btc-dca",
		"type": "DCA",
		"symbol": "btc/usdt",
		"initial_equity": 10000,
		"params": {"dca_every_cycles": 10, "position_pct": 0.05}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := gjson.Parse(rec.Body.String())
	assert.NotEmpty(t, created.Get("id").String())
	assert.Equal(t, "PAPER", created.Get("mode").String())
	assert.Equal(t, "BTC/USDT", created.Get("symbol").String(), "symbol is normalized")

	rec = doRequest(srv, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := gjson.Get(rec.Body.String(), "strategies")
	assert.Equal(t, int64(1), int64(len(list.Array())))
}

func TestRegisterRejectsInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/strategies", `{"name": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/strategies", `{
		"name": "bad", "type": "SCALPING", "symbol": "BTC/USDT", "initial_equity": 100
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/strategies", `{
		"name": "bad", "type": "DCA", "symbol": "BTC/USDT", "initial_equity": 100,
		"params": {"dca_every_cycles": 0, "position_pct": 0.05}
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLifecycleCommands(t *testing.T) {
	srv, eng := newTestServer(t)

	st := registerDCA(t, srv)
	rec := doRequest(srv, http.MethodPost, "/api/strategies/"+st+"/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/strategies/ghost/stop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodPost, "/api/strategies/"+st+"/approve", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	_ = eng // commands land at the next cycle boundary
}

func TestStatusAndEvents(t *testing.T) {
	srv, _ := newTestServer(t)
	registerDCA(t, srv)

	rec := doRequest(srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "disabled", gjson.Get(body, "session").String())
	assert.Equal(t, int64(1), gjson.Get(body, "strategies.PAPER").Int())

	rec = doRequest(srv, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsRiskExposure(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "risk").Exists(), "no guard configured, no risk block")

	guard := live.NewGuard(live.Limits{
		MaxPositionValue:  500,
		MaxGlobalExposure: 2000,
		MaxConcurrentLive: 3,
		MaxDailyLoss:      200,
	})
	require.NoError(t, guard.Reserve("s1", 150))
	require.NoError(t, guard.Reserve("s2", 50))

	guarded, _ := newTestServer(t, guard)
	rec = doRequest(guarded, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.InDelta(t, 200, gjson.Get(body, "risk.open_exposure").Float(), 1e-9)
	assert.InDelta(t, 2000, gjson.Get(body, "risk.max_global_exposure").Float(), 1e-9)
}

func TestStrategyTrades(t *testing.T) {
	srv, _ := newTestServer(t)
	st := registerDCA(t, srv)

	rec := doRequest(srv, http.MethodGet, "/api/strategies/"+st+"/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, len(gjson.Get(rec.Body.String(), "trades").Array()))
}

func registerDCA(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doRequest(srv, http.MethodPost, "/api/strategies", `{
		"name": "btc-dca",
		"type": "DCA",
		"symbol": "BTC/USDT",
		"initial_equity": 10000,
		"params": {"dca_every_cycles": 10, "position_pct": 0.05}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return gjson.Get(rec.Body.String(), "id").String()
}
