package mocks

import (
	"context"
	"sync"

	"manga-server/internal/models"
	"manga-server/internal/service"
)

// RecordingEventPublisher запоминает опубликованные события.
type RecordingEventPublisher struct {
	mu     sync.Mutex
	events []models.ChapterProcessingEvent
	Err    error
}

func (p *RecordingEventPublisher) PublishChapterEvent(_ context.Context, event models.ChapterProcessingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.Err
}

// States возвращает состояния событий по главе в порядке публикации.
func (p *RecordingEventPublisher) States(chapterID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var states []string
	for _, e := range p.events {
		if e.ChapterID == chapterID {
			states = append(states, e.State)
		}
	}
	return states
}

var _ service.ProcessingEventPublisher = (*RecordingEventPublisher)(nil)
