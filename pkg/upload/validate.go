package upload

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Policy describes the acceptance rules for uploaded document files.
// Validation is a pure function over file metadata so the policy can be
// tested independently of the storage side effect.
type Policy struct {
	MaxFileSizeBytes int64
	MaxFiles         int
	AllowedTypes     []string

	extSet map[string]struct{}
}

// NewPolicy normalises the allowed type list into a lookup set.
func NewPolicy(maxSize int64, maxFiles int, allowedTypes []string) *Policy {
	if maxSize <= 0 {
		maxSize = 5 * 1024 * 1024
	}
	if maxFiles <= 0 {
		maxFiles = 5
	}
	if len(allowedTypes) == 0 {
		allowedTypes = []string{"jpeg", "jpg", "png", "pdf"}
	}
	extSet := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		extSet[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))] = struct{}{}
	}
	return &Policy{
		MaxFileSizeBytes: maxSize,
		MaxFiles:         maxFiles,
		AllowedTypes:     allowedTypes,
		extSet:           extSet,
	}
}

// Result reports the outcome of a validation check.
type Result struct {
	OK     bool
	Reason string
}

func reject(format string, args ...interface{}) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// CheckCount validates the number of files in one request.
func (p *Policy) CheckCount(n int) Result {
	if n == 0 {
		return reject("at least one document file is required")
	}
	if n > p.MaxFiles {
		return reject("at most %d files are allowed per request", p.MaxFiles)
	}
	return Result{OK: true}
}

// CheckFile validates a single file's name, declared content type and size.
func (p *Policy) CheckFile(filename, contentType string, size int64) Result {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if _, ok := p.extSet[ext]; !ok {
		return reject("file type .%s is not allowed (allowed: %s)", ext, strings.Join(p.AllowedTypes, ", "))
	}
	if contentType != "" && !p.contentTypeAllowed(contentType) {
		return reject("content type %s is not allowed", contentType)
	}
	if size <= 0 {
		return reject("file %s is empty", filename)
	}
	if size > p.MaxFileSizeBytes {
		return reject("file %s exceeds the %d byte limit", filename, p.MaxFileSizeBytes)
	}
	return Result{OK: true}
}

func (p *Policy) contentTypeAllowed(contentType string) bool {
	contentType = strings.ToLower(contentType)
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	switch contentType {
	case "image/jpeg":
		_, ok := p.extSet["jpeg"]
		if !ok {
			_, ok = p.extSet["jpg"]
		}
		return ok
	case "image/png":
		_, ok := p.extSet["png"]
		return ok
	case "application/pdf":
		_, ok := p.extSet["pdf"]
		return ok
	case "application/octet-stream":
		// Browsers fall back to octet-stream for some types; the extension
		// check above remains the gate.
		return true
	default:
		return false
	}
}
