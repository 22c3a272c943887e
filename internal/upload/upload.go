// File: internal/upload/upload.go

// Package upload validates and batches document uploads. Files failing the
// local allow-list or size checks never reach the network; the rest go out
// as one multipart batch whose per-file outcome is folded into an
// UploadResult.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/config"
)

// BatchSubmitter is the slice of the transport client the coordinator needs.
type BatchSubmitter interface {
	UploadBatch(ctx context.Context, files []schemas.FileHandle) (schemas.RawUploadResponse, error)
}

const unknownFailure = "unknown upload error"

// Coordinator applies the upload policy and drives batch submission.
type Coordinator struct {
	client  BatchSubmitter
	allowed map[string]struct{}
	maxSize int64
	logger  *zap.Logger
}

// New creates a Coordinator from the configured upload policy.
func New(cfg config.UploadConfig, client BatchSubmitter, logger *zap.Logger) *Coordinator {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &Coordinator{
		client:  client,
		allowed: allowed,
		maxSize: cfg.MaxFileSizeBytes,
		logger:  logger.Named("upload"),
	}
}

// UploadAll validates every file, submits the survivors as one batch and
// reports a per-file outcome. The result can carry both stored asset IDs and
// failures at the same time; Success is true only when every input file was
// stored.
func (c *Coordinator) UploadAll(ctx context.Context, files []schemas.FileHandle) schemas.UploadResult {
	result := schemas.UploadResult{
		AssetIDs: []string{},
		Failures: []schemas.UploadFailure{},
	}
	if len(files) == 0 {
		return result
	}

	accepted := make([]schemas.FileHandle, 0, len(files))
	for _, f := range files {
		if reason := c.reject(f); reason != "" {
			c.logger.Warn("Rejected file before upload",
				zap.String("file", f.Name),
				zap.String("reason", reason),
			)
			result.Failures = append(result.Failures, schemas.UploadFailure{Filename: f.Name, Reason: reason})
			continue
		}
		accepted = append(accepted, f)
	}
	if len(accepted) == 0 {
		return result
	}

	raw, err := c.client.UploadBatch(ctx, accepted)
	if err != nil {
		// The whole batch request failed; every accepted file shares the
		// transport-level reason.
		for _, f := range accepted {
			result.Failures = append(result.Failures, schemas.UploadFailure{Filename: f.Name, Reason: err.Error()})
		}
		return result
	}

	result.AssetIDs = append(result.AssetIDs, raw.AssetIDs...)

	// Fold the endpoint's per-file errors back in, then account for any file
	// the endpoint neither stored nor named.
	reported := make(map[string]string, len(raw.Errors))
	for _, e := range raw.Errors {
		reason := e.Reason
		if reason == "" {
			reason = unknownFailure
		}
		reported[e.Filename] = reason
	}

	unaccounted := len(accepted) - len(raw.AssetIDs) - len(reported)
	for _, f := range accepted {
		if reason, failed := reported[f.Name]; failed {
			result.Failures = append(result.Failures, schemas.UploadFailure{Filename: f.Name, Reason: reason})
		}
	}
	if unaccounted > 0 {
		// Without per-file attribution from the endpoint, the trailing files
		// beyond the returned asset count are the unaccounted ones.
		start := len(accepted) - unaccounted
		for _, f := range accepted[start:] {
			if _, named := reported[f.Name]; !named {
				result.Failures = append(result.Failures, schemas.UploadFailure{Filename: f.Name, Reason: unknownFailure})
			}
		}
	}

	result.Success = len(result.Failures) == 0
	if !result.Success {
		c.logger.Warn("Upload batch completed with failures",
			zap.Int("stored", len(result.AssetIDs)),
			zap.Int("failed", len(result.Failures)),
		)
	}
	return result
}

// reject returns a renderable reason when the file violates the upload
// policy, empty otherwise.
func (c *Coordinator) reject(f schemas.FileHandle) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
	if ext == "" {
		return "file has no extension"
	}
	if _, ok := c.allowed[ext]; !ok {
		return fmt.Sprintf("file type .%s is not allowed", ext)
	}
	if c.maxSize > 0 && f.Size > c.maxSize {
		return fmt.Sprintf("file exceeds the %d MB size limit", c.maxSize/(1024*1024))
	}
	return ""
}
