package docparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	apperrors "go-doc-recognizer/internal/errors"
	"go-doc-recognizer/internal/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	submitPath = "/v1/async/documents/parse"
	taskPath   = "/v1/task/"
)

// WorkRequest is the unit of work handed to the vendor: the raw document
// bytes plus what the caller declared about them.
type WorkRequest struct {
	Data      []byte
	Filename  string
	MediaType string
}

// TaskHandle identifies a submitted vendor task.
type TaskHandle struct {
	ID          string
	SubmittedAt time.Time
}

// StatusReport is one status-query response: the normalized status, the raw
// body (schema varies per document type), and the embedded failure message
// when the vendor supplied one.
type StatusReport struct {
	Status  Status
	Body    map[string]interface{}
	Message string
}

// Client talks to the vendor's asynchronous document-parse API.
type Client interface {
	Submit(ctx context.Context, req WorkRequest) (TaskHandle, error)
	QueryStatus(ctx context.Context, taskID string) (StatusReport, error)
}

type httpClient struct {
	baseURL string
	token   string
	model   string
	client  *http.Client
}

// NewHTTPClient creates a vendor API client over a connection-pooled transport.
func NewHTTPClient(baseURL, token, model string, timeout time.Duration) Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &httpClient{
		baseURL: baseURL,
		token:   token,
		model:   model,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Submit uploads the document with fixed processing parameters and returns
// the vendor task handle. The task identifier is accepted from either of the
// two field names observed across vendor API versions.
func (c *httpClient) Submit(ctx context.Context, req WorkRequest) (TaskHandle, error) {
	reqID := uuid.New().String()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":                c.model,
		"include_image":        "true",
		"include_image_base64": "true",
		"output_format":        "md",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return TaskHandle{}, apperrors.NewInternalError("failed to encode submission form", err)
		}
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, req.Filename))
	header.Set("Content-Type", req.MediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return TaskHandle{}, apperrors.NewInternalError("failed to encode submission form", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return TaskHandle{}, apperrors.NewInternalError("failed to encode submission form", err)
	}
	if err := writer.Close(); err != nil {
		return TaskHandle{}, apperrors.NewInternalError("failed to encode submission form", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+submitPath, &buf)
	if err != nil {
		return TaskHandle{}, apperrors.NewInternalError("failed to build submission request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	logger.WithFields(logrus.Fields{
		"req_id":     reqID,
		"model":      c.model,
		"media_type": req.MediaType,
		"bytes":      len(req.Data),
	}).Debug("Submitting document parse task")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return TaskHandle{}, apperrors.NewSubmissionError("failed to reach document parse service", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithFields(logrus.Fields{
			"req_id": reqID,
			"status": resp.StatusCode,
			"body":   truncate(string(raw), 512),
		}).Error("Document parse submission rejected")
		return TaskHandle{}, apperrors.NewSubmissionError(
			fmt.Sprintf("submission rejected: HTTP %d", resp.StatusCode), nil)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return TaskHandle{}, apperrors.NewSubmissionError("malformed submission response", err)
	}

	taskID := firstString(body, "task_id", "id")
	if taskID == "" {
		return TaskHandle{}, apperrors.NewSubmissionError("submission response has no task identifier", nil)
	}

	logger.WithFields(logrus.Fields{
		"req_id":  reqID,
		"task_id": taskID,
	}).Debug("Document parse task submitted")

	return TaskHandle{ID: taskID, SubmittedAt: time.Now()}, nil
}

// QueryStatus fetches the current state of a task. A non-2xx transport status
// is an immediate poll failure, never silently retried.
func (c *httpClient) QueryStatus(ctx context.Context, taskID string) (StatusReport, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+taskPath+taskID, nil)
	if err != nil {
		return StatusReport{}, apperrors.NewInternalError("failed to build status request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return StatusReport{}, apperrors.NewPollError("failed to query task status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusReport{}, apperrors.NewPollError(
			fmt.Sprintf("status query failed: HTTP %d", resp.StatusCode), nil)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusReport{}, apperrors.NewPollError("malformed status response", err)
	}

	rawStatus, _ := body["status"].(string)
	return StatusReport{
		Status:  NormalizeStatus(rawStatus),
		Body:    body,
		Message: failureMessage(body),
	}, nil
}

// failureMessage pulls the vendor's embedded failure text out of a status
// body: error.message first, then a top-level message.
func failureMessage(body map[string]interface{}) string {
	if errObj, ok := body["error"].(map[string]interface{}); ok {
		if msg, ok := errObj["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if msg, ok := body["message"].(string); ok {
		return msg
	}
	return ""
}

func firstString(body map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := body[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
