package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dccert-manager/internal/config"
)

func newTestNotifier(cfg *config.WebhookConfig) *WebhookNotifier {
	w := NewWebhookNotifier(cfg, zap.NewNop().Sugar())
	w.backoff = func(int) time.Duration { return time.Millisecond }
	w.now = func() time.Time { return time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC) }
	return w
}

func TestNewWebhookNotifierDisabled(t *testing.T) {
	assert.Nil(t, NewWebhookNotifier(nil, zap.NewNop().Sugar()))
	assert.Nil(t, NewWebhookNotifier(&config.WebhookConfig{URL: "http://x"}, zap.NewNop().Sugar()))

	var w *WebhookNotifier
	assert.False(t, w.IsEnabled())
	assert.NoError(t, w.Notify(context.Background(), EventHostFailed, "DC1", "msg", nil))
}

func TestNotifyDefaultBody(t *testing.T) {
	var got EventData
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{
		Enabled: true,
		URL:     srv.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})
	err := w.Notify(context.Background(), EventCertificateInstalled, "DC1", "证书已安装: DC1",
		map[string]interface{}{"fingerprint": "9A8B"})
	require.NoError(t, err)

	assert.Equal(t, "secret", header)
	assert.Equal(t, "certificate_installed", got.Event)
	assert.Equal(t, "DC1", got.Host)
	assert.Equal(t, "2026-10-17T08:30:00Z", got.Timestamp)
	assert.Equal(t, "9A8B", got.Data["fingerprint"])
}

func TestNotifyBodyTemplate(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{
		Enabled:      true,
		URL:          srv.URL,
		BodyTemplate: `{"text":"{{.Event}} {{.Host}}","data":{{toJson .Data}}}`,
	})
	err := w.Notify(context.Background(), EventHostSkipped, "DC9", "skipped",
		map[string]interface{}{"reason": "not found"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"host_skipped DC9","data":{"reason":"not found"}}`, body)
}

func TestNotifyRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{Enabled: true, URL: srv.URL, Retries: 3})
	require.NoError(t, w.Notify(context.Background(), EventHostFailed, "DC1", "failed", nil))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNotifyGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestNotifier(&config.WebhookConfig{Enabled: true, URL: srv.URL, Retries: 2})
	err := w.Notify(context.Background(), EventHostFailed, "DC1", "failed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestShouldNotifyFiltersEvents(t *testing.T) {
	w := newTestNotifier(&config.WebhookConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Events:  []string{"host_failed"},
	})
	assert.True(t, w.ShouldNotify(EventHostFailed))
	assert.False(t, w.ShouldNotify(EventRequestGenerated))
	// 未订阅的事件不会发出请求
	assert.NoError(t, w.Notify(context.Background(), EventRequestGenerated, "DC1", "msg", nil))
}
