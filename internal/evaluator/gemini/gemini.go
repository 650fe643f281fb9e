// Package gemini implements imagepick.Evaluator with the Gemini REST API:
// images go through the Files API and are referenced by URI in generateContent.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/anatolykoptev/go-imagepick"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com"
	DefaultModel          = "gemini-2.5-flash"
	DefaultUploadInterval = 500 * time.Millisecond

	provider     = "gemini"
	apiVersion   = "v1beta"
	maxErrorBody = 4096
)

// Client talks to the Gemini API.
type Client struct {
	APIKey     string
	Model      string       // default: DefaultModel
	BaseURL    string       // default: DefaultBaseURL
	HTTPClient *http.Client // default: 60s timeout

	uploads *rate.Limiter
}

// New returns a client pacing uploads at DefaultUploadInterval.
func New(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		uploads:    rate.NewLimiter(rate.Every(DefaultUploadInterval), 1),
	}
}

func (c *Client) endpoint(path string) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + path
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// Upload sends the image at path to the Files API using the resumable
// protocol (start, then upload+finalize in one request).
func (c *Client) Upload(ctx context.Context, path string) (imagepick.Upload, error) {
	if c.uploads != nil {
		if err := c.uploads.Wait(ctx); err != nil {
			return imagepick.Upload{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return imagepick.Upload{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	meta, _ := json.Marshal(map[string]any{"file": map[string]string{"display_name": filepath.Base(path)}})
	start, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/upload/"+apiVersion+"/files"), bytes.NewReader(meta))
	if err != nil {
		return imagepick.Upload{}, err
	}
	start.Header.Set("Content-Type", "application/json")
	start.Header.Set("X-Goog-Upload-Protocol", "resumable")
	start.Header.Set("X-Goog-Upload-Command", "start")
	start.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
	start.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, body, err := c.do(start, "upload")
	if err != nil {
		return imagepick.Upload{}, err
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return imagepick.Upload{}, &imagepick.EvalError{Provider: provider, Op: "upload",
			StatusCode: resp.StatusCode, Message: "missing upload URL: " + truncate(body)}
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return imagepick.Upload{}, err
	}
	put.Header.Set("X-Goog-Upload-Offset", "0")
	put.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	put.ContentLength = int64(len(data))

	_, body, err = c.do(put, "upload")
	if err != nil {
		return imagepick.Upload{}, err
	}
	file := gjson.GetBytes(body, "file")
	u := imagepick.Upload{
		Name:     file.Get("name").String(),
		URI:      file.Get("uri").String(),
		MIMEType: file.Get("mimeType").String(),
	}
	if u.URI == "" {
		return imagepick.Upload{}, &imagepick.EvalError{Provider: provider, Op: "upload",
			Message: "response has no file uri: " + truncate(body)}
	}
	if u.MIMEType == "" {
		u.MIMEType = mimeType
	}
	return u, nil
}

// Generate asks the model about the uploaded images and returns its text answer.
func (c *Client) Generate(ctx context.Context, prompt string, uploads []imagepick.Upload) (string, error) {
	parts := []map[string]any{{"text": prompt}}
	for _, u := range uploads {
		parts = append(parts, map[string]any{
			"file_data": map[string]string{"mime_type": u.MIMEType, "file_uri": u.URI},
		})
	}
	payload, err := json.Marshal(map[string]any{
		"contents": []map[string]any{{"role": "user", "parts": parts}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/"+apiVersion+"/models/"+c.Model+":generateContent"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	_, body, err := c.do(req, "generate")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts").Array() {
		sb.WriteString(part.Get("text").String())
	}
	if sb.Len() == 0 {
		reason := gjson.GetBytes(body, "promptFeedback.blockReason").String()
		if reason == "" {
			reason = gjson.GetBytes(body, "candidates.0.finishReason").String()
		}
		return "", &imagepick.EvalError{Provider: provider, Op: "generate", Message: "empty response (" + reason + ")"}
	}
	return sb.String(), nil
}

// Delete removes an uploaded file.
func (c *Client) Delete(ctx context.Context, u imagepick.Upload) error {
	if u.Name == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/"+apiVersion+"/"+u.Name), nil)
	if err != nil {
		return err
	}
	_, _, err = c.do(req, "delete")
	return err
}

// do sends req and returns the body of a 2xx answer. Other statuses and
// transport failures become *imagepick.EvalError. The key travels in a
// header so it never appears in a logged request URL.
func (c *Client) do(req *http.Request, op string) (*http.Response, []byte, error) {
	req.Header.Set("x-goog-api-key", c.APIKey)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, nil, &imagepick.EvalError{Provider: provider, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &imagepick.EvalError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = truncate(body)
		}
		return nil, nil, &imagepick.EvalError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, body, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return fmt.Sprintf("%q", s)
}
