package schemas

import (
	"io"
)

// -- Upload Schemas --

// FileHandle describes one file staged for upload. Content is read exactly
// once while the multipart body is streamed; the caller retains ownership and
// closes any underlying resource.
type FileHandle struct {
	Name    string
	Size    int64
	Content io.Reader
}

// RawUploadResponse is the payload returned by the asset upload endpoint.
type RawUploadResponse struct {
	Success  bool          `json:"success"`
	AssetIDs []string      `json:"asset_ids"`
	Errors   []UploadError `json:"errors,omitempty"`
}

// UploadError is the endpoint's per-file failure detail.
type UploadError struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// UploadFailure records why a file did not produce an asset, whether it was
// rejected locally before the request or reported failed by the endpoint.
type UploadFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// UploadResult is the outcome of one batch upload. The batch is a single
// network call but the result is per-file: AssetIDs and Failures can both be
// non-empty, and Success is true only when every file was stored.
type UploadResult struct {
	Success  bool            `json:"success"`
	AssetIDs []string        `json:"asset_ids"`
	Failures []UploadFailure `json:"failures"`
}
