package imaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"manga-server/internal/models"
)

const maxErrorBodyLog = 512

// Transcoder приводит загруженное изображение к WebP.
type Transcoder interface {
	ToWebp(ctx context.Context, data []byte) ([]byte, error)
}

// HTTPTranscoder проверяет изображение локально, WebP пропускает как есть,
// остальные форматы отправляет во внешний сервис конвертации.
type HTTPTranscoder struct {
	baseURL    string
	httpClient *http.Client
	quality    int
	limits     Limits
	logger     *zap.Logger
}

var _ Transcoder = (*HTTPTranscoder)(nil)

// NewHTTPTranscoder создает клиент транскодера. Пустой baseURL допустим:
// тогда принимаются только WebP-файлы.
func NewHTTPTranscoder(baseURL string, timeout time.Duration, quality int, limits Limits, logger *zap.Logger) *HTTPTranscoder {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &HTTPTranscoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		quality:    quality,
		limits:     limits,
		logger:     logger.Named("HTTPTranscoder"),
	}
}

func (t *HTTPTranscoder) ToWebp(ctx context.Context, data []byte) ([]byte, error) {
	info, err := Inspect(data, t.limits)
	if err != nil {
		return nil, err
	}
	if info.Format == FormatWebp {
		return data, nil
	}
	if t.baseURL == "" {
		return nil, fmt.Errorf("%w: no transcoder configured for %s input", models.ErrTranscoderUnavailable, info.Format)
	}

	log := t.logger.With(zap.String("format", info.Format), zap.Int("width", info.Width), zap.Int("height", info.Height))

	query := url.Values{}
	query.Set("format", FormatWebp)
	query.Set("quality", strconv.Itoa(t.quality))
	endpointURL := t.baseURL + "/convert?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder request: %w", err)
	}
	req.Header.Set("Content-Type", "image/"+info.Format)
	req.Header.Set("Accept", models.PageContentType)

	log.Debug("Sending image to transcoder", zap.String("url", endpointURL))
	resp, err := t.httpClient.Do(req)
	if err != nil {
		log.Error("Transcoder request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTranscoderUnavailable, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		log.Warn("Transcoder rejected image", zap.Int("status_code", resp.StatusCode), zap.ByteString("response_body", truncate(body)))
		return nil, fmt.Errorf("%w: transcoder rejected image with status %d", models.ErrInvalidImage, resp.StatusCode)
	default:
		log.Error("Transcoder returned non-OK status", zap.Int("status_code", resp.StatusCode), zap.ByteString("response_body", truncate(body)))
		return nil, fmt.Errorf("%w: status %d", models.ErrTranscoderUnavailable, resp.StatusCode)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", models.ErrTranscoderUnavailable, readErr)
	}

	out, err := Inspect(body, Limits{})
	if err != nil || out.Format != FormatWebp {
		log.Error("Transcoder returned something other than webp", zap.Error(err), zap.String("got", out.Format))
		return nil, fmt.Errorf("%w: transcoder returned invalid webp", models.ErrTranscoderUnavailable)
	}
	return body, nil
}

func truncate(b []byte) []byte {
	if len(b) > maxErrorBodyLog {
		return b[:maxErrorBodyLog]
	}
	return b
}
