// Package ocr 提供了一个与 OCR 检测服务交互的客户端。
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"receipt-rag-go/internal/config"
	"time"
)

// Detector 对一张图片执行文字检测，返回带几何信息与置信度的 token。
type Detector interface {
	Detect(ctx context.Context, image io.Reader, fileName string) ([]Token, error)
}

// Client 是 OCR 检测服务的 HTTP 客户端，由调用方显式创建并持有。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的 OCR 客户端实例。
func NewClient(cfg config.OCRConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		serverURL: cfg.ServerURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// Detect 以 multipart 形式上传图片，并解析检测服务返回的 token 列表。
func (c *Client) Detect(ctx context.Context, image io.Reader, fileName string) ([]Token, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filepath.Base(fileName)))
	header.Set("Content-Type", detectMimeType(fileName))
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("创建 multipart 失败: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("写入图片内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("关闭 multipart 失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 OCR 服务失败: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 OCR 响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OCR 服务返回错误 [%d]: %s", resp.StatusCode, string(payload))
	}

	return DecodeTokens(payload)
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
