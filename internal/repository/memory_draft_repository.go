package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"manga-server/internal/models"
)

type memoryDraft struct {
	session models.DraftSession
	// touched хранит показание монотонных часов, по нему считается истечение.
	touched time.Time
}

var _ DraftRepository = (*MemoryDraftRepository)(nil)

// MemoryDraftRepository держит черновики в памяти процесса. Истечение
// ленивое и считается по монотонным часам.
type MemoryDraftRepository struct {
	mu        sync.Mutex
	drafts    map[string]*memoryDraft
	deadlines map[string]time.Time // prefix -> срок
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryDraftRepository создает хранилище. now по умолчанию time.Now,
// значение которого несет монотонное показание.
func NewMemoryDraftRepository(ttl time.Duration, now func() time.Time) *MemoryDraftRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryDraftRepository{
		drafts:    make(map[string]*memoryDraft),
		deadlines: make(map[string]time.Time),
		ttl:       ttl,
		now:       now,
	}
}

func (r *MemoryDraftRepository) TTL() time.Duration {
	return r.ttl
}

func (r *MemoryDraftRepository) Create(_ context.Context, draft *models.DraftSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.drafts[draft.Token] = &memoryDraft{session: *draft, touched: now}
	r.deadlines[draft.PagesPrefix] = now.Add(r.ttl)
	return nil
}

func (r *MemoryDraftRepository) Get(_ context.Context, token string) (*models.DraftSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.liveLocked(token)
	if !ok {
		return nil, models.ErrDraftNotFound
	}
	session := d.session
	return &session, nil
}

func (r *MemoryDraftRepository) Touch(_ context.Context, token string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.liveLocked(token)
	if !ok {
		return false, nil
	}
	if now.After(d.session.LastTouchedAt) {
		d.session.LastTouchedAt = now
	}
	mono := r.now()
	if mono.After(d.touched) {
		d.touched = mono
	}
	if deadline := d.touched.Add(r.ttl); deadline.After(r.deadlines[d.session.PagesPrefix]) {
		r.deadlines[d.session.PagesPrefix] = deadline
	}
	return true, nil
}

func (r *MemoryDraftRepository) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drafts[token]; ok {
		delete(r.deadlines, d.session.PagesPrefix)
		delete(r.drafts, token)
	}
	return nil
}

func (r *MemoryDraftRepository) ExpiredPrefixes(_ context.Context, before time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prefixes []string
	for prefix, deadline := range r.deadlines {
		if deadline.Before(before) {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Strings(prefixes)
	if limit > 0 && len(prefixes) > limit {
		prefixes = prefixes[:limit]
	}
	return prefixes, nil
}

func (r *MemoryDraftRepository) ForgetPrefix(_ context.Context, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deadlines, prefix)
	return nil
}

// liveLocked возвращает черновик, если он не истек. Истекший удаляется
// из карты сессий, но префикс остается в индексе уборки.
func (r *MemoryDraftRepository) liveLocked(token string) (*memoryDraft, bool) {
	d, ok := r.drafts[token]
	if !ok {
		return nil, false
	}
	if r.now().Sub(d.touched) > r.ttl {
		delete(r.drafts, token)
		return nil, false
	}
	return d, true
}
