package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/omochice/roomchat/internal/chat"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recorder(t *testing.T) {
	m := New("roomchat")

	m.SessionOpened("r")
	m.SessionOpened("r")
	m.SessionClosed("r")
	m.MessageBroadcast("r", 3)
	m.DeliveryFailed("r")
	m.HandshakeRejected("missing token")
	m.HandshakeRejected("missing token")
	m.ProtocolError()
	m.PersistenceFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveryFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.handshakeRejected.WithLabelValues("missing token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.protocolErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFailures))
}

func TestMetrics_TrackRegistry(t *testing.T) {
	m := New("roomchat")
	reg := chat.NewRegistry()
	reg.Register("r1", chat.NewSession("r1", chat.Identity{ID: "a"}))
	reg.Register("r2", chat.NewSession("r2", chat.Identity{ID: "b"}))
	m.TrackRegistry(reg)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "roomchat_sessions_active 2")
	assert.Contains(t, body, "roomchat_rooms_active 2")
}

func TestMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("roomchat")
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	count := testutil.ToFloat64(m.httpReqCnt.WithLabelValues(http.MethodGet, "/healthz", "200"))
	assert.Equal(t, 1.0, count)

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(metricsRec.Body.String(), "roomchat_http_requests_total"))
}
