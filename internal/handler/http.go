package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/middleware"
	"manga-server/internal/models"
	"manga-server/internal/service"
	"manga-server/pkg/taskmanager"
)

const defaultMaxUploadBytes int64 = 20 << 20

// JobLookup - чтение записей фоновых задач.
type JobLookup interface {
	GetTask(taskID uuid.UUID) (taskmanager.Task, error)
}

// ReapScheduler ставит внеочередной проход уборки черновиков.
type ReapScheduler interface {
	Schedule(ctx context.Context) (uuid.UUID, error)
}

// AdminHandler обслуживает admin API загрузки и публикации глав.
type AdminHandler struct {
	drafts     service.DraftService
	pages      service.PageService
	processing service.ChapterProcessingService
	deletion   service.DeletionService
	jobs       JobLookup
	reaper     ReapScheduler
	verifier   middleware.TokenVerifier
	logger     *zap.Logger

	maxUploadBytes int64
}

// Deps собирает зависимости AdminHandler. Reaper может быть nil.
type Deps struct {
	Drafts         service.DraftService
	Pages          service.PageService
	Processing     service.ChapterProcessingService
	Deletion       service.DeletionService
	Jobs           JobLookup
	Reaper         ReapScheduler
	Verifier       middleware.TokenVerifier
	MaxUploadBytes int64
}

func NewAdminHandler(deps Deps, logger *zap.Logger) *AdminHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &AdminHandler{
		drafts:         deps.Drafts,
		pages:          deps.Pages,
		processing:     deps.Processing,
		deletion:       deps.Deletion,
		jobs:           deps.Jobs,
		reaper:         deps.Reaper,
		verifier:       deps.Verifier,
		logger:         logger.Named("AdminHandler"),
		maxUploadBytes: maxUpload,
	}
}

// RegisterRoutes регистрирует маршруты admin API.
func (h *AdminHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/admin/api", middleware.AdminAuth(h.verifier, h.logger))
	{
		api.POST("/mangas/:mangaId/drafts", h.createDraft)
		api.DELETE("/mangas/:mangaId", h.deleteManga)

		drafts := api.Group("/drafts/:token")
		{
			drafts.POST("/touch", h.touchDraft)
			drafts.PUT("/pages/:pageId", h.uploadPage)
			drafts.DELETE("/pages/:pageId", h.deletePage)
		}

		chapters := api.Group("/chapters/:chapterId")
		{
			chapters.POST("/processing", h.commitPages)
			chapters.GET("/processing", h.getProcessingStatus)
			chapters.POST("/processing/retry", h.retryProcessing)
			chapters.DELETE("", h.deleteChapter)
		}

		api.GET("/jobs/:jobId", h.getJob)
		api.POST("/jobs/draft-reap", h.scheduleDraftReap)
	}
}

// parseIDParam читает положительный int64 из параметра пути.
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIError{Message: "Invalid " + name + " format"})
		return 0, false
	}
	return id, true
}
