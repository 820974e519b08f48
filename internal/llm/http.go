// internal/llm/http.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxErrorBody 错误响应中保留的最大字节数
const maxErrorBody = 2048

// NewHTTPClient 按配置中的 timeout（秒）创建客户端，缺省 90 秒
func NewHTTPClient(config map[string]string) *http.Client {
	timeout := 90 * time.Second
	if v, err := strconv.Atoi(config["timeout"]); err == nil && v > 0 {
		timeout = time.Duration(v) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// DoJSON 发送请求并返回响应体；非 2xx 返回 *StatusError，401/403 同时包装 ErrAuthFailed
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(data)}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, statusErr)
		}
		return nil, statusErr
	}
	return data, nil
}

// PostJSON 序列化 payload 并以 application/json 发送
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	for k, v := range headers {
		h[k] = v
	}
	return DoJSON(ctx, client, http.MethodPost, url, h, bytes.NewReader(body))
}
