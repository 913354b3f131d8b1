package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	// MIMEJPEG is the media type of every camera capture.
	MIMEJPEG = "image/jpeg"
	// MIMEPNG is accepted for file picks only.
	MIMEPNG = "image/png"

	// CaptureFilename is the synthetic name given to camera captures.
	CaptureFilename = "camera-capture.jpg"
)

// ImageBlob is an in-memory image payload. Treat Data as read-only once the
// blob has been handed to another component.
type ImageBlob struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	Filename   string    `json:"filename"`
	CapturedAt time.Time `json:"captured_at"`
}

// NewCaptureBlob wraps JPEG bytes produced by a camera.
func NewCaptureBlob(data []byte) *ImageBlob {
	return &ImageBlob{
		Data:       data,
		MIMEType:   MIMEJPEG,
		Filename:   CaptureFilename,
		CapturedAt: time.Now().UTC(),
	}
}

// Size returns the payload length in bytes.
func (b *ImageBlob) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Data))
}

// Digest returns the hex SHA-256 of the payload.
func (b *ImageBlob) Digest() string {
	if b == nil {
		return ""
	}
	sum := sha256.Sum256(b.Data)
	return hex.EncodeToString(sum[:])
}

// Macros is the nutrition shape shared by items and totals.
type Macros struct {
	Calories float64 `json:"calories" yaml:"calories"`
	ProteinG float64 `json:"protein" yaml:"protein"`
	CarbsG   float64 `json:"carbs" yaml:"carbs"`
	FatG     float64 `json:"fat" yaml:"fat"`
}

// NonNegative reports whether every macro value is >= 0.
func (m Macros) NonNegative() bool {
	return m.Calories >= 0 && m.ProteinG >= 0 && m.CarbsG >= 0 && m.FatG >= 0
}

// NutritionItem is a single recognized food.
type NutritionItem struct {
	Name     string `json:"name" yaml:"name"`
	Quantity string `json:"quantity" yaml:"quantity"`
	Macros   `yaml:",inline"`
}

// NutritionTotal is the aggregate reported by the analysis service. It is not
// reconciled with the sum of the items.
type NutritionTotal struct {
	Macros `yaml:",inline"`
}

// AnalysisResult is the typed outcome of one successful analysis.
type AnalysisResult struct {
	Status string          `json:"status" yaml:"status"`
	Items  []NutritionItem `json:"food" yaml:"food"`
	Total  NutritionTotal  `json:"total" yaml:"total"`
}

// AnalysisRecord is a stored analysis. Only image metadata is kept, never
// the image bytes.
type AnalysisRecord struct {
	ID          string          `json:"id" yaml:"id"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	Filename    string          `json:"filename" yaml:"filename"`
	MIMEType    string          `json:"mime_type" yaml:"mime_type"`
	ImageBytes  int64           `json:"image_bytes" yaml:"image_bytes"`
	ImageDigest string          `json:"image_sha256" yaml:"image_sha256"`
	Endpoint    string          `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Result      *AnalysisResult `json:"result" yaml:"result"`
}
