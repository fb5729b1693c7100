package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"manga-server/internal/models"
)

type draftResponse struct {
	Token       string    `json:"token"`
	MangaID     int64     `json:"mangaId"`
	PagesPrefix string    `json:"pagesPrefix"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type touchResponse struct {
	Alive bool `json:"alive"`
}

type deletePageResponse struct {
	Deleted int `json:"deleted"`
}

func (h *AdminHandler) createDraft(c *gin.Context) {
	mangaID, ok := parseIDParam(c, "mangaId")
	if !ok {
		return
	}
	draft, err := h.drafts.CreateDraft(c.Request.Context(), mangaID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, draftResponse{
		Token:       draft.Token,
		MangaID:     draft.MangaID,
		PagesPrefix: draft.PagesPrefix,
		ExpiresAt:   draft.ExpiresAt(h.drafts.TTL()),
	})
}

// touchDraft продлевает жизнь черновика. Неизвестный токен не ошибка.
func (h *AdminHandler) touchDraft(c *gin.Context) {
	alive, err := h.drafts.TouchDraft(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, touchResponse{Alive: alive})
}

func (h *AdminHandler) uploadPage(c *gin.Context) {
	data, err := h.readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, models.APIError{Message: "Page image is too large"})
			return
		}
		h.logger.Warn("Failed to read page upload", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIError{Message: "Invalid upload body"})
		return
	}
	if len(data) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIError{Message: "Empty upload body"})
		return
	}

	page, err := h.pages.UploadPage(c.Request.Context(), c.Param("token"), c.Param("pageId"), data)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *AdminHandler) deletePage(c *gin.Context) {
	deleted, err := h.pages.DeletePage(c.Request.Context(), c.Param("token"), c.Param("pageId"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, deletePageResponse{Deleted: deleted})
}

// readUpload принимает либо сырое тело, либо multipart-поле "file".
func (h *AdminHandler) readUpload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return io.ReadAll(c.Request.Body)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return nil, err
	}
	if fileHeader.Size > h.maxUploadBytes {
		return nil, &http.MaxBytesError{Limit: h.maxUploadBytes}
	}
	f, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
