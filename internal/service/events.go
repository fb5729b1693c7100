package service

import (
	"context"

	"manga-server/internal/models"
)

// ProcessingEventPublisher рассылает события о переходах обработки глав.
type ProcessingEventPublisher interface {
	PublishChapterEvent(ctx context.Context, event models.ChapterProcessingEvent) error
}

type noopEventPublisher struct{}

func (noopEventPublisher) PublishChapterEvent(context.Context, models.ChapterProcessingEvent) error {
	return nil
}
