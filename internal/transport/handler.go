package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go-doc-recognizer/internal/config"
	apperrors "go-doc-recognizer/internal/errors"
	"go-doc-recognizer/internal/logger"
	"go-doc-recognizer/internal/observer"
	"go-doc-recognizer/internal/ratelimit"
	"go-doc-recognizer/internal/repository"
	"go-doc-recognizer/internal/service"
	"go-doc-recognizer/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// retryLaterMessage is what clients see for vendor-side failures; raw vendor
// error payloads never leave the server.
const retryLaterMessage = "recognition service is temporarily unavailable, please try again later"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewHandler wires the HTTP surface: the recognition endpoint behind auth,
// rate limiting and credit checks, plus the info and health endpoints.
func NewHandler(
	recognizer service.RecognitionService,
	sessions repository.SessionStore,
	credits repository.CreditStore,
	limiter ratelimit.Limiter,
	events observer.Subject,
	cfg *config.Config,
) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/api/recognize", serviceInfo(cfg))
	r.POST("/api/recognize", authRequired(sessions), recognizeDocument(recognizer, credits, limiter, events, cfg))

	return r
}

// authRequired resolves the bearer token to a verified identity before the
// recognition flow runs.
func authRequired(sessions repository.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			respondError(c, http.StatusUnauthorized, "missing credentials",
				apperrors.NewUnauthorizedError("authorization token required", nil))
			return
		}

		userID, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				respondError(c, http.StatusUnauthorized, "invalid session",
					apperrors.NewUnauthorizedError("session expired or unknown", err))
				return
			}
			respondError(c, storeStatusCode(err), "session lookup failed",
				apperrors.NewInternalError("failed to resolve session", err))
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func recognizeDocument(
	recognizer service.RecognitionService,
	credits repository.CreditStore,
	limiter ratelimit.Limiter,
	events observer.Subject,
	cfg *config.Config,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		userID := c.GetString(userIDKey)

		// Log request start
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"user_id":    userID,
			"user_agent": c.Request.UserAgent(),
			"ip":         c.ClientIP(),
		}).Info("Processing recognition request")

		// Rate limit before anything costs vendor quota
		count, err := limiter.CountRecentAttempts(ctx, userID, cfg.RateLimitWindow)
		if err != nil {
			// Fail open: a limiter outage should not take recognition down
			logger.WithError(err).WithField("user_id", userID).Warn("Rate limiter unavailable")
		} else if count >= cfg.RateLimitMax {
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded",
				apperrors.NewRateLimitedError(
					fmt.Sprintf("at most %d attempts per %s", cfg.RateLimitMax, cfg.RateLimitWindow), nil))
			return
		}

		// Credit balance check, also before any vendor call. A first-seen
		// identity gets its row provisioned with the free allowance.
		balance, err := credits.GetBalance(ctx, userID)
		if errors.Is(err, repository.ErrUserNotFound) {
			balance, err = credits.EnsureUser(ctx, userID, cfg.FreeCredits)
		}
		if err != nil {
			respondError(c, storeStatusCode(err), "credit lookup failed",
				apperrors.NewInternalError("failed to read credit balance", err))
			return
		}
		if balance <= 0 {
			respondError(c, http.StatusForbidden, "insufficient credits",
				apperrors.NewInsufficientCreditsError("no credits remaining, please top up", nil))
			return
		}

		upload, err := readUpload(c)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}

		if err := limiter.Record(ctx, userID, cfg.RateLimitWindow); err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("Failed to record rate-limit attempt")
		}

		events.NotifyObservers(ctx, observer.RecognitionEvent{
			EventType: observer.RecognitionStarted,
			Timestamp: startTime,
			UserID:    userID,
			FileSize:  upload.Size,
		})

		outcome, err := recognizer.Recognize(ctx, upload)
		if err != nil {
			// Validation failure: no vendor call was made, nothing to record
			respondError(c, apperrors.GetStatusCode(err), "invalid upload", err)
			return
		}

		remaining, recordErr := credits.RecordAttempt(ctx, repository.Attempt{
			UserID:           userID,
			Success:          outcome.Billable(),
			TextLength:       len(outcome.Text),
			FileSize:         upload.Size,
			ProcessingTimeMs: outcome.ElapsedMs,
			Language:         outcome.Language,
		})
		if recordErr != nil {
			if errors.Is(recordErr, repository.ErrInsufficientCredits) {
				// Lost the race with a concurrent request from the same identity
				respondError(c, http.StatusForbidden, "insufficient credits",
					apperrors.NewInsufficientCreditsError("no credits remaining, please top up", recordErr))
				return
			}
			respondError(c, storeStatusCode(recordErr), "usage recording failed",
				apperrors.NewInternalError("failed to record attempt", recordErr))
			return
		}

		notifyOutcome(ctx, events, userID, upload.Size, outcome)

		switch outcome.Kind {
		case service.OutcomeSuccess:
			c.JSON(http.StatusOK, models.RecognitionResponse{
				Success:          true,
				Text:             outcome.Text,
				Language:         outcome.Language,
				RemainingCredits: remaining,
				ProcessingTimeMs: outcome.ElapsedMs,
				FileSize:         upload.Size,
				Model:            cfg.DocParseModel,
			})
		case service.OutcomeNoText:
			respondError(c, http.StatusBadRequest, "no text found",
				apperrors.NewValidationError("no text was recognized, make sure the document is sharp and contains text", nil))
		default:
			status := http.StatusBadGateway
			if outcome.Err != nil {
				status = apperrors.GetStatusCode(outcome.Err)
			}
			logger.WithFields(logrus.Fields{
				"user_id": userID,
				"reason":  outcome.Reason,
			}).Error("Recognition attempt failed")
			respondError(c, status, "recognition failed",
				&apperrors.AppError{
					Type:       apperrors.ErrorTypePoll,
					Message:    retryLaterMessage,
					StatusCode: status,
				})
		}
	}
}

// readUpload pulls the document out of the multipart form. The upload field
// is "file"; "image" is accepted as the legacy field name.
func readUpload(c *gin.Context) (service.Upload, error) {
	header, err := c.FormFile("file")
	if err != nil {
		header, err = c.FormFile("image")
	}
	if err != nil {
		return service.Upload{}, apperrors.NewValidationError("a file upload is required", err)
	}

	f, err := header.Open()
	if err != nil {
		return service.Upload{}, apperrors.NewInternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return service.Upload{}, apperrors.NewInternalError("failed to read upload", err)
	}

	return service.Upload{
		Data:      data,
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Size:      int64(len(data)),
	}, nil
}

func notifyOutcome(ctx context.Context, events observer.Subject, userID string, fileSize int64, outcome service.Outcome) {
	event := observer.RecognitionEvent{
		Timestamp:      time.Now(),
		UserID:         userID,
		FileSize:       fileSize,
		ProcessingTime: time.Duration(outcome.ElapsedMs) * time.Millisecond,
		TextLength:     len(outcome.Text),
		Success:        outcome.Billable(),
		ErrorMessage:   outcome.Reason,
	}
	switch outcome.Kind {
	case service.OutcomeSuccess:
		event.EventType = observer.RecognitionCompleted
	case service.OutcomeNoText:
		event.EventType = observer.RecognitionNoText
	default:
		event.EventType = observer.RecognitionFailed
	}
	events.NotifyObservers(ctx, event)
}

func serviceInfo(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.ServiceInfo{
			Service:     "AI Document Parser API",
			Version:     "1.0.0",
			Status:      "operational",
			Provider:    "Gitee AI",
			Model:       cfg.DocParseModel,
			Configured:  cfg.DocParseAPIToken != "",
			APIEndpoint: "/v1/async/documents/parse",
			Features: []string{
				"100+ languages",
				"Table recognition",
				"Formula recognition",
				"Handwriting recognition",
			},
		})
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// storeStatusCode distinguishes a backing-store outage from an unexpected
// internal failure.
func storeStatusCode(err error) int {
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
