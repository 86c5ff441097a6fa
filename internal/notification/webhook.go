package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"go.uber.org/zap"

	"dccert-manager/internal/config"
)

// EventType 事件类型
type EventType string

const (
	EventRequestGenerated     EventType = "request_generated"     // 请求文件已生成
	EventCertificateIssued    EventType = "certificate_issued"    // 证书已签发，等待在目标主机安装
	EventCertificateInstalled EventType = "certificate_installed" // 证书已安装到本机
	EventHostFailed           EventType = "host_failed"           // 主机处理失败
	EventHostSkipped          EventType = "host_skipped"          // 主机已跳过
)

// EventData 事件数据
type EventData struct {
	Event     string                 `json:"event"`
	Host      string                 `json:"host"`
	Timestamp string                 `json:"timestamp"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config  *config.WebhookConfig
	client  *http.Client
	log     *zap.SugaredLogger
	backoff func(attempt int) time.Duration
	now     func() time.Time
}

// NewWebhookNotifier 创建 Webhook 通知器，未启用时返回 nil
func NewWebhookNotifier(cfg *config.WebhookConfig, log *zap.SugaredLogger) *WebhookNotifier {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		log:     log,
		backoff: exponentialBackoff,
		now:     time.Now,
	}
}

// 指数退避：1s, 2s, 4s
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// ShouldNotify 检查是否应该发送该事件的通知
func (w *WebhookNotifier) ShouldNotify(eventType EventType) bool {
	if !w.IsEnabled() {
		return false
	}

	// 没有配置事件列表时发送所有事件
	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == string(eventType) {
			return true
		}
	}
	return false
}

// Notify 发送通知
func (w *WebhookNotifier) Notify(ctx context.Context, eventType EventType, host, message string, data map[string]interface{}) error {
	if !w.ShouldNotify(eventType) {
		return nil
	}

	eventData := EventData{
		Event:     string(eventType),
		Host:      host,
		Timestamp: w.now().Format(time.RFC3339),
		Message:   message,
		Data:      data,
	}

	body, err := w.body(eventData)
	if err != nil {
		return err
	}

	retries := w.config.Retries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			backoff := w.backoff(i)
			w.log.Debugw("Webhook 通知失败，稍后重试", "backoff", backoff, "attempt", i+1, "retries", retries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = w.send(ctx, body); lastErr == nil {
			w.log.Debugw("Webhook 通知发送成功", "event", eventType, "host", host)
			return nil
		}
	}

	return fmt.Errorf("Webhook 通知发送失败 (已重试 %d 次): %w", retries, lastErr)
}

func (w *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Webhook 返回错误状态码: %d", resp.StatusCode)
	}
	return nil
}

// body 配置了自定义模板时按模板生成请求体，模板失败时退回默认 JSON
func (w *WebhookNotifier) body(data EventData) ([]byte, error) {
	if w.config.BodyTemplate != "" {
		body, err := renderTemplate(w.config.BodyTemplate, data)
		if err == nil {
			return body, nil
		}
		w.log.Warnw("渲染 Webhook 请求体模板失败，使用默认格式", "error", err)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化事件数据失败: %w", err)
	}
	return body, nil
}

func renderTemplate(tmplStr string, data EventData) ([]byte, error) {
	tmplData := map[string]interface{}{
		"Event":     data.Event,
		"Host":      data.Host,
		"Timestamp": data.Timestamp,
		"Message":   data.Message,
		"Data":      data.Data,
	}

	funcMap := template.FuncMap{
		"toJson": func(v interface{}) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "null"
			}
			return string(b)
		},
	}

	tmpl, err := template.New("webhook").Funcs(funcMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("解析模板失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tmplData); err != nil {
		return nil, fmt.Errorf("渲染模板失败: %w", err)
	}
	return buf.Bytes(), nil
}

// IsEnabled 检查是否启用
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.config != nil && w.config.Enabled
}
