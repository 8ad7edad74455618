package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif" // register decoders for DecodeConfig/Decode
	_ "image/png"

	"hyperyapper/internal/logging"
)

// MaxBlueskyImageBytes is the PDS blob ceiling (976.56KB).
const MaxBlueskyImageBytes = 999997

// jpeg quality sweep used when an image exceeds the ceiling.
const (
	compressStartQuality = 90
	compressFloorQuality = 10
	compressQualityStep  = 10
)

// AspectRatio decodes the image header and returns its dimensions.
func AspectRatio(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image dimensions: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// FitUnderLimit re-encodes an image as JPEG at descending quality until it
// fits under maxBytes or the quality floor is reached. Images already under
// the limit pass through untouched. At the floor the best effort is
// returned even when still over; the upload then surfaces the server's own
// rejection.
func FitUnderLimit(data []byte, contentType string, maxBytes int) ([]byte, string, error) {
	if len(data) <= maxBytes {
		return data, contentType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image for compression: %w", err)
	}

	logging.Info("Image size %dKB exceeds limit, compressing", len(data)/1024)

	var out []byte
	for quality := compressStartQuality; quality >= compressFloorQuality; quality -= compressQualityStep {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("failed to re-encode image at quality %d: %w", quality, err)
		}
		out = buf.Bytes()
		if len(out) <= maxBytes {
			logging.Info("Compressed image to %dKB at quality %d%%", len(out)/1024, quality)
			return out, "image/jpeg", nil
		}
	}

	logging.Warn("Image still %dKB over limit at quality floor", (len(out)-maxBytes)/1024)
	return out, "image/jpeg", nil
}
