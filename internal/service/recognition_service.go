package service

import (
	"context"
	"strings"
	"time"

	"go-doc-recognizer/internal/docparse"
	apperrors "go-doc-recognizer/internal/errors"
	"go-doc-recognizer/internal/extract"
	"go-doc-recognizer/internal/logger"
	"go-doc-recognizer/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Upload is one incoming document: payload plus what the client declared
// about it.
type Upload struct {
	Data      []byte
	Filename  string
	MediaType string
	Size      int64
}

// TaskRunner runs a vendor parse task to a terminal state.
type TaskRunner interface {
	SubmitAndAwait(ctx context.Context, req docparse.WorkRequest) (map[string]interface{}, error)
}

// ResultExtractor recovers text from a terminal parse response.
type ResultExtractor interface {
	Extract(ctx context.Context, body map[string]interface{}) extract.Result
}

// RecognitionService orchestrates one recognition: validate, submit and poll,
// extract, settle.
type RecognitionService interface {
	Recognize(ctx context.Context, upload Upload) (Outcome, error)
}

type recognitionService struct {
	validator *validation.UploadValidator
	runner    TaskRunner
	extractor ResultExtractor
}

// NewRecognitionService creates a recognition service.
func NewRecognitionService(
	validator *validation.UploadValidator,
	runner TaskRunner,
	extractor ResultExtractor,
) RecognitionService {
	return &recognitionService{
		validator: validator,
		runner:    runner,
		extractor: extractor,
	}
}

// Recognize validates the upload, runs the vendor task and extracts text.
// Validation failures return an error before any vendor call is made; vendor
// failures settle as a Failure outcome and are not retried here. Credit
// mutation is the caller's responsibility.
func (s *recognitionService) Recognize(ctx context.Context, upload Upload) (Outcome, error) {
	if err := s.validator.ValidateUpload(upload.MediaType, upload.Size); err != nil {
		return Outcome{}, err
	}

	start := time.Now()
	body, err := s.runner.SubmitAndAwait(ctx, docparse.WorkRequest{
		Data:      upload.Data,
		Filename:  upload.Filename,
		MediaType: validation.NormalizeMediaType(upload.MediaType),
	})
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		logger.WithError(err).WithFields(logrus.Fields{
			"filename":   upload.Filename,
			"elapsed_ms": elapsed,
		}).Error("Recognition task failed")
		return Outcome{
			Kind:      OutcomeFailure,
			Reason:    failureReason(err),
			ElapsedMs: elapsed,
			Err:       err,
		}, nil
	}

	result := s.extractor.Extract(ctx, body)
	elapsed := time.Since(start).Milliseconds()

	if strings.TrimSpace(result.Text) == "" {
		logger.WithFields(logrus.Fields{
			"filename":   upload.Filename,
			"elapsed_ms": elapsed,
		}).Warn("Recognition completed without recognizable text")
		return Outcome{Kind: OutcomeNoText, ElapsedMs: elapsed}, nil
	}

	logger.WithFields(logrus.Fields{
		"filename":    upload.Filename,
		"text_length": len(result.Text),
		"language":    result.Language,
		"elapsed_ms":  elapsed,
	}).Info("Recognition completed")

	return Outcome{
		Kind:      OutcomeSuccess,
		Text:      result.Text,
		Language:  result.Language,
		ElapsedMs: elapsed,
	}, nil
}

func failureReason(err error) string {
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
