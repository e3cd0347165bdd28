package metric_test

import (
	"database/sql"
	"net/http"
	"testing"
	"time"

	"ganapp/src-server/metric"
	"ganapp/src-server/model"
	"ganapp/src-server/utils"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type fixedCounter int

func (c fixedCounter) Count(string) int { return int(c) }

func newAppState(t *testing.T) *utils.AppState {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("STATIC_WEB_CLIENT_DIR", "")
	t.Setenv("DISCORD_WEBHOOK_URL", "")
	t.Setenv("METRIC_COLLECTION_INTERVAL", "1s")

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, model.CreateSchema(db))

	cfg, err := utils.LoadConfig()
	require.NoError(t, err)
	return utils.NewAppStateWith(cfg, sqldb, db)
}

func TestCollectorsDrainChannels(t *testing.T) {
	as := newAppState(t)
	reg := prometheus.NewRegistry()
	c := metric.Init(as, fixedCounter(3), reg)
	t.Cleanup(as.GracefulShutdown)

	as.MetricChans.ObserveCheckIn()
	as.MetricChans.ObserveCheckIn()
	as.MetricChans.ObserveNotification("email")
	as.MetricChans.ObserveHTTPRequest("GET /events", http.StatusOK, 5*time.Millisecond)
	as.MetricChans.DatabaseRead <- 42

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.CheckIns) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.NotificationsSent.WithLabelValues("email")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET /events", "200")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(c.DatabaseRead) == 42
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(0), testutil.ToFloat64(c.NotificationsSent.WithLabelValues("discord")))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.WebsocketConnections))
}

func TestCollectorsUnregisterOnShutdown(t *testing.T) {
	as := newAppState(t)
	reg := prometheus.NewRegistry()
	metric.Init(as, fixedCounter(0), reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	as.GracefulShutdown()
	assert.Eventually(t, func() bool {
		families, err := reg.Gather()
		return err == nil && len(families) == 0
	}, time.Second, 10*time.Millisecond)
}
