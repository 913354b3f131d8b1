// Package analysis submits a meal image to the nutrition webhook and maps the
// response into a typed result or a typed failure.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/viflex/platescan/internal/core"
)

const (
	// DefaultEndpoint is the webhook used when none is configured.
	DefaultEndpoint = "http://localhost:5678/webhook-test/Meal AI"
	// DefaultFieldName is the multipart field carrying the image.
	DefaultFieldName = "image"

	maxResponseBytes = 4 << 20
	maxErrorBody     = 2048
)

// Client posts one image per Analyze call. It never retries.
type Client struct {
	Endpoint   string
	FieldName  string
	HTTPClient *http.Client
	// Timeout bounds one request. Zero means no client-side limit.
	Timeout time.Duration
	Logger  *logging.Logger
}

// NewClient returns a client with defaults applied.
func NewClient(endpoint string) *Client {
	url := strings.TrimSpace(endpoint)
	if url == "" {
		url = DefaultEndpoint
	}
	return &Client{
		Endpoint:  url,
		FieldName: DefaultFieldName,
	}
}

// Analyze submits blob and returns the parsed result. Failures are *Error
// values, except for a nil client or blob.
func (c *Client) Analyze(ctx context.Context, blob *core.ImageBlob) (*core.AnalysisResult, error) {
	if c == nil {
		return nil, fmt.Errorf("analysis client not configured")
	}
	if blob == nil || len(blob.Data) == 0 {
		return nil, fmt.Errorf("image is required")
	}

	body, contentType, err := c.buildBody(blob)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, c.Timeout)
	if cancel != nil {
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	entry := TraceEntry{
		Endpoint:    c.Endpoint,
		Method:      http.MethodPost,
		Filename:    blob.Filename,
		MIMEType:    blob.MIMEType,
		ImageBytes:  blob.Size(),
		ImageDigest: blob.Digest(),
	}
	started := time.Now()
	result, err := c.do(client, httpReq, &entry)
	entry.DurationMs = time.Since(started).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	}
	Trace(entry)

	if c.Logger != nil {
		fields := []zap.Field{
			zap.String("endpoint", c.Endpoint),
			zap.Int64("image_bytes", blob.Size()),
			zap.Int64("duration_ms", entry.DurationMs),
		}
		if err != nil {
			c.Logger.Warn("Analysis request failed", append(fields, zap.String("kind", string(KindOf(err))), zap.Error(err))...)
		} else {
			c.Logger.Debug("Analysis request completed", append(fields, zap.Int("items", len(result.Items)))...)
		}
	}
	return result, err
}

func (c *Client) do(client *http.Client, req *http.Request, entry *TraceEntry) (*core.AnalysisResult, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	entry.StatusCode = resp.StatusCode

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	entry.Response = traceBody(respBody)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := respBody
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &Error{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
			Body:       snippet,
		}
	}
	if len(respBody) > maxResponseBytes {
		return nil, malformed(fmt.Sprintf("response exceeds %d bytes", maxResponseBytes), nil)
	}

	result, err := DecodeResult(respBody)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.StatusCode = resp.StatusCode
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) buildBody(blob *core.ImageBlob) (*bytes.Buffer, string, error) {
	field := c.FieldName
	if strings.TrimSpace(field) == "" {
		field = DefaultFieldName
	}
	filename := blob.Filename
	if filename == "" {
		filename = core.CaptureFilename
	}
	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = core.MIMEJPEG
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field), escapeQuotes(filename)))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func traceBody(body []byte) json.RawMessage {
	if !IsTracingEnabled() || len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}
