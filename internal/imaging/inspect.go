package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"manga-server/internal/models"
)

const FormatWebp = "webp"

// Limits ограничивают входные изображения до передачи в транскодер.
type Limits struct {
	MaxBytes  int64
	MaxPixels int
}

// Info - то, что удалось узнать из заголовка изображения.
type Info struct {
	Format string
	Width  int
	Height int
}

// Inspect разбирает только заголовок изображения и проверяет лимиты.
// Все отказы оборачивают models.ErrInvalidImage.
func Inspect(data []byte, limits Limits) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("%w: empty body", models.ErrInvalidImage)
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return Info{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", models.ErrInvalidImage, len(data), limits.MaxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%w: bad dimensions %dx%d", models.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if limits.MaxPixels > 0 && cfg.Width*cfg.Height > limits.MaxPixels {
		return Info{}, fmt.Errorf("%w: %dx%d exceeds pixel limit of %d", models.ErrInvalidImage, cfg.Width, cfg.Height, limits.MaxPixels)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
