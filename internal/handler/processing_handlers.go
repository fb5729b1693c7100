package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"manga-server/internal/models"
	"manga-server/pkg/taskmanager"
)

type commitPagesRequest struct {
	Token string   `json:"token" binding:"required"`
	Pages []string `json:"pages"`
}

type jobAcceptedResponse struct {
	JobID  uuid.UUID              `json:"jobId"`
	Status taskmanager.TaskStatus `json:"status"`
}

func (h *AdminHandler) commitPages(c *gin.Context) {
	chapterID, ok := parseIDParam(c, "chapterId")
	if !ok {
		return
	}
	var req commitPagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIError{Message: "Invalid request body: " + err.Error()})
		return
	}

	ticket, err := h.processing.CommitChapterPages(c.Request.Context(), chapterID, req.Token, req.Pages)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ticket)
}

func (h *AdminHandler) getProcessingStatus(c *gin.Context) {
	chapterID, ok := parseIDParam(c, "chapterId")
	if !ok {
		return
	}
	status, err := h.processing.GetProcessingStatus(c.Request.Context(), chapterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *AdminHandler) retryProcessing(c *gin.Context) {
	chapterID, ok := parseIDParam(c, "chapterId")
	if !ok {
		return
	}
	ticket, err := h.processing.RetryChapterProcessing(c.Request.Context(), chapterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ticket)
}

func (h *AdminHandler) deleteChapter(c *gin.Context) {
	chapterID, ok := parseIDParam(c, "chapterId")
	if !ok {
		return
	}
	jobID, err := h.deletion.DeleteChapter(c.Request.Context(), chapterID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: taskmanager.TaskStatusPending})
}

func (h *AdminHandler) deleteManga(c *gin.Context) {
	mangaID, ok := parseIDParam(c, "mangaId")
	if !ok {
		return
	}
	jobID, err := h.deletion.DeleteManga(c.Request.Context(), mangaID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: taskmanager.TaskStatusPending})
}

func (h *AdminHandler) getJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.APIError{Message: "Invalid jobId format"})
		return
	}
	task, err := h.jobs.GetTask(jobID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *AdminHandler) scheduleDraftReap(c *gin.Context) {
	if h.reaper == nil {
		h.handleServiceError(c, models.ErrStorageUnavailable)
		return
	}
	jobID, err := h.reaper.Schedule(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobAcceptedResponse{JobID: jobID, Status: taskmanager.TaskStatusPending})
}
