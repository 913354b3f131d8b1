// Package selection holds the single image picked for analysis and the
// selection-time checks that decide whether an image may be picked at all.
package selection

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/viflex/platescan/internal/core"
)

// MaxImageBytes is the largest image accepted for selection (10 MiB).
const MaxImageBytes int64 = 10 << 20

// AllowedMIMETypes lists the media types accepted for selection.
var AllowedMIMETypes = []string{core.MIMEJPEG, core.MIMEPNG}

// ErrRejected is wrapped by every Validate failure.
var ErrRejected = errors.New("image rejected")

// RejectionReason classifies why an image was not accepted.
type RejectionReason string

const (
	ReasonEmpty    RejectionReason = "empty"
	ReasonTooLarge RejectionReason = "too_large"
	ReasonMIMEType RejectionReason = "mime_type"
)

// RejectionError describes a failed selection check.
type RejectionError struct {
	Reason RejectionReason
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected.Error(), e.Detail)
}

func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Validate applies the size limit and MIME allowlist.
func Validate(blob *core.ImageBlob) error {
	if blob == nil || len(blob.Data) == 0 {
		return &RejectionError{Reason: ReasonEmpty, Detail: "image is empty"}
	}
	if blob.Size() > MaxImageBytes {
		return &RejectionError{
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("image is %d bytes, limit is %d", blob.Size(), MaxImageBytes),
		}
	}
	if !AllowedMIME(blob.MIMEType) {
		return &RejectionError{
			Reason: ReasonMIMEType,
			Detail: fmt.Sprintf("unsupported media type %q", blob.MIMEType),
		}
	}
	return nil
}

// AllowedMIME reports whether mimeType is on the allowlist. Parameters such
// as "; charset=" are ignored.
func AllowedMIME(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "image/jpg" || base == "image/pjpeg" {
		base = core.MIMEJPEG
	}
	for _, allowed := range AllowedMIMETypes {
		if base == allowed {
			return true
		}
	}
	return false
}

// Holder keeps at most one pending image. It keeps no history.
type Holder struct {
	mu      sync.RWMutex
	current *core.ImageBlob
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{}
}

// Select replaces any previously held image.
func (h *Holder) Select(blob *core.ImageBlob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = blob
}

// Offer validates blob and selects it only when it passes. A rejected blob
// leaves the holder untouched.
func (h *Holder) Offer(blob *core.ImageBlob) error {
	if err := Validate(blob); err != nil {
		return err
	}
	h.Select(blob)
	return nil
}

// Clear empties the holder.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = nil
}

// Current returns the held image or nil.
func (h *Holder) Current() *core.ImageBlob {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}
