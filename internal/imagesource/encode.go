package imagesource

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/viflex/platescan/internal/core"
)

// CaptureQuality is the JPEG quality used for camera captures (0.8).
const CaptureQuality = 80

// EncodeJPEG encodes img as JPEG. Frames larger than maxWidth x maxHeight are
// scaled down to fit; zero bounds disable scaling.
func EncodeJPEG(img image.Image, quality, maxWidth, maxHeight int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("image is required")
	}
	if quality < 1 || quality > 100 {
		quality = CaptureQuality
	}

	bounds := img.Bounds()
	if maxWidth > 0 && maxHeight > 0 && (bounds.Dx() > maxWidth || bounds.Dy() > maxHeight) {
		img = imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// SniffMIME detects the media type of data from its leading bytes.
func SniffMIME(data []byte) string {
	mime := http.DetectContentType(data)
	base, _, _ := strings.Cut(mime, ";")
	return strings.TrimSpace(base)
}

// ToJPEG returns data unchanged when it already is a JPEG and re-encodes any
// other decodable image at CaptureQuality.
func ToJPEG(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("image data is empty")
	}
	if SniffMIME(data) == core.MIMEJPEG {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return EncodeJPEG(img, CaptureQuality, 0, 0)
}

// DecodeInline unwraps camera output that arrives as text: a data URL
// ("data:image/jpeg;base64,...") or bare base64. Binary payloads are returned
// as-is.
func DecodeInline(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("image data is empty")
	}

	if bytes.HasPrefix(trimmed, []byte("data:")) {
		header, payload, ok := bytes.Cut(trimmed, []byte(","))
		if !ok {
			return nil, errors.New("malformed data url")
		}
		if !bytes.HasSuffix(header, []byte(";base64")) {
			return nil, errors.New("data url is not base64 encoded")
		}
		return DecodeBase64String(string(payload))
	}

	if strings.HasPrefix(SniffMIME(raw), "image/") || !looksLikeBase64(trimmed) {
		return raw, nil
	}
	decoded, err := DecodeBase64String(string(trimmed))
	if err != nil {
		return raw, nil
	}
	return decoded, nil
}

func DecodeBase64String(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(value))
}

func EncodeBase64String(value []byte) string {
	return base64.StdEncoding.EncodeToString(value)
}

func looksLikeBase64(data []byte) bool {
	for _, c := range data {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=' || c == '\n' || c == '\r':
		default:
			return false
		}
	}
	return true
}
