package client

import (
	iface "AnpdServer/interface"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

const TimeOutSeconds = 60

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type DetectResult struct {
	DownloadName string         `json:"downloadName"`
	MIME         string         `json:"mime"`
	Detections   []iface.Result `json:"detections"`
	Image        string         `json:"image"`
}

// Decoded returns the rendered image bytes.
func (r *DetectResult) Decoded() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.Image)
}

// Save writes the rendered image into outDir under DownloadName and returns
// the written path.
func (r *DetectResult) Save(outDir string) (string, error) {
	name := filepath.Base(r.DownloadName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("server sent no download name")
	}
	data, err := r.Decoded()
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, name)
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type Client struct {
	rc *resty.Client
}

func New(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(TimeOutSeconds * time.Second)
	return &Client{rc: rc}
}

func asError(resp *resty.Response, apiErr *APIError) error {
	apiErr.Status = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = resp.Status()
	}
	return apiErr
}

func (c *Client) Ping(ctx context.Context) error {
	var body struct {
		Message string `json:"message"`
	}
	apiErr := &APIError{}
	resp, err := c.rc.R().SetContext(ctx).SetResult(&body).SetError(apiErr).Get("/api/ping")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return asError(resp, apiErr)
	}
	if body.Message != "pong" {
		return fmt.Errorf("unexpected ping answer %q", body.Message)
	}
	return nil
}

// Detect uploads the image at path and returns the detections.
func (c *Client) Detect(ctx context.Context, path string) (*DetectResult, error) {
	var res DetectResult
	apiErr := &APIError{}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetFile("file", path).
		SetResult(&res).
		SetError(apiErr).
		Post("/api/v1/detect")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, asError(resp, apiErr)
	}
	return &res, nil
}

// Download uploads the image at path and writes the processed file into
// outDir. It returns the written path.
func (c *Client) Download(ctx context.Context, path, outDir string) (string, error) {
	apiErr := &APIError{}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetFile("file", path).
		SetError(apiErr).
		Post("/api/v1/detect/download")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", asError(resp, apiErr)
	}

	name := "processed_" + filepath.Base(path)
	if _, params, err := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = filepath.Base(params["filename"])
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(outDir, name)
	if err := os.WriteFile(out, resp.Body(), 0o644); err != nil {
		return "", err
	}
	return out, nil
}
