package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/pkg/taskmanager"
)

const maxErrorBody = 4096

// Draft - ответ на создание черновика.
type Draft struct {
	Token       string    `json:"token"`
	MangaID     int64     `json:"mangaId"`
	PagesPrefix string    `json:"pagesPrefix"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// JobHandle - ответ 202 на постановку фоновой задачи.
type JobHandle struct {
	JobID  uuid.UUID              `json:"jobId"`
	Status taskmanager.TaskStatus `json:"status"`
}

// HTTPError - ответ сервера с кодом >= 400.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("admin api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsStatus проверяет, что err - HTTPError с данным кодом.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

// Client - HTTP-клиент admin API загрузки глав.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// New создает клиент. accessToken - bearer-токен администратора.
func New(baseURL, accessToken string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid admin api base URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.Named("AdminClient"),
	}, nil
}

func (c *Client) CreateDraft(ctx context.Context, mangaID int64) (*Draft, error) {
	var draft Draft
	path := fmt.Sprintf("/admin/api/mangas/%d/drafts", mangaID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}

// TouchDraft возвращает false, если черновик уже истек.
func (c *Client) TouchDraft(ctx context.Context, token string) (bool, error) {
	var resp struct {
		Alive bool `json:"alive"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/admin/api/drafts/"+url.PathEscape(token)+"/touch", nil, &resp); err != nil {
		return false, err
	}
	return resp.Alive, nil
}

// UploadPage отправляет изображение сырым телом запроса.
func (c *Client) UploadPage(ctx context.Context, token, pageID string, data []byte, contentType string) (*models.UploadedPage, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	req, err := c.newRequest(ctx, http.MethodPut, pagePath(token, pageID), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var page models.UploadedPage
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) DeletePage(ctx context.Context, token, pageID string) (int, error) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, pagePath(token, pageID), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (c *Client) CommitPages(ctx context.Context, chapterID int64, token string, pageIDs []string) (*models.ProcessingTicket, error) {
	body := map[string]any{"token": token, "pages": pageIDs}
	var ticket models.ProcessingTicket
	if err := c.doJSON(ctx, http.MethodPost, processingPath(chapterID), body, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (c *Client) ProcessingStatus(ctx context.Context, chapterID int64) (*models.ProcessingStatus, error) {
	var status models.ProcessingStatus
	if err := c.doJSON(ctx, http.MethodGet, processingPath(chapterID), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) RetryProcessing(ctx context.Context, chapterID int64) (*models.ProcessingTicket, error) {
	var ticket models.ProcessingTicket
	if err := c.doJSON(ctx, http.MethodPost, processingPath(chapterID)+"/retry", nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (c *Client) DeleteChapter(ctx context.Context, chapterID int64) (*JobHandle, error) {
	return c.submitJob(ctx, http.MethodDelete, "/admin/api/chapters/"+strconv.FormatInt(chapterID, 10))
}

func (c *Client) DeleteManga(ctx context.Context, mangaID int64) (*JobHandle, error) {
	return c.submitJob(ctx, http.MethodDelete, "/admin/api/mangas/"+strconv.FormatInt(mangaID, 10))
}

func (c *Client) ScheduleDraftReap(ctx context.Context) (*JobHandle, error) {
	return c.submitJob(ctx, http.MethodPost, "/admin/api/jobs/draft-reap")
}

func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*taskmanager.Task, error) {
	var task taskmanager.Task
	if err := c.doJSON(ctx, http.MethodGet, "/admin/api/jobs/"+jobID.String(), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitProcessing опрашивает статус главы, пока обработка не закончится.
func (c *Client) WaitProcessing(ctx context.Context, chapterID int64, interval time.Duration) (*models.ProcessingStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.ProcessingStatus(ctx, chapterID)
		if err != nil {
			return nil, err
		}
		if status.State != models.ChapterStatusProcessing {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitJob опрашивает задачу до терминального статуса.
func (c *Client) WaitJob(ctx context.Context, jobID uuid.UUID, interval time.Duration) (*taskmanager.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) submitJob(ctx context.Context, method, path string) (*JobHandle, error) {
	var handle JobHandle
	if err := c.doJSON(ctx, method, path, nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	log := c.logger.With(zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var apiErr models.APIError
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		log.Debug("Admin API returned error", zap.Int("status", resp.StatusCode), zap.String("message", apiErr.Message))
		return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func pagePath(token, pageID string) string {
	return "/admin/api/drafts/" + url.PathEscape(token) + "/pages/" + url.PathEscape(pageID)
}

func processingPath(chapterID int64) string {
	return "/admin/api/chapters/" + strconv.FormatInt(chapterID, 10) + "/processing"
}
