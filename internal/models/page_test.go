package models

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestValidPageID(t *testing.T) {
	valid := []string{"p1", "page_001", "A-b_9", strings.Repeat("x", 64)}
	for _, id := range valid {
		assert.True(t, ValidPageID(id), id)
	}

	invalid := []string{"", "../etc", "a/b", "p1.webp", "пробел", "a b", strings.Repeat("x", 65)}
	for _, id := range invalid {
		assert.False(t, ValidPageID(id), id)
	}
}

func TestNormalizePageIDs(t *testing.T) {
	t.Run("Deduplicates preserving order", func(t *testing.T) {
		got, err := NormalizePageIDs([]string{"a", "a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("Empty list", func(t *testing.T) {
		_, err := NormalizePageIDs(nil)
		assert.ErrorIs(t, err, ErrInvalidPageList)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("Malformed id", func(t *testing.T) {
		_, err := NormalizePageIDs([]string{"ok", "../etc"})
		assert.ErrorIs(t, err, ErrInvalidPageList)
	})

	t.Run("Cap boundary", func(t *testing.T) {
		ids := make([]string, 0, MaxPagesPerChapter+1)
		for i := 0; i < MaxPagesPerChapter; i++ {
			ids = append(ids, fmt.Sprintf("p%d", i))
		}
		got, err := NormalizePageIDs(ids)
		require.NoError(t, err)
		assert.Len(t, got, MaxPagesPerChapter)

		_, err = NormalizePageIDs(append(ids, "overflow"))
		assert.ErrorIs(t, err, ErrInvalidPageList)
	})

	t.Run("Duplicates do not count against the cap", func(t *testing.T) {
		ids := make([]string, 0, MaxPagesPerChapter*2)
		for i := 0; i < MaxPagesPerChapter; i++ {
			id := fmt.Sprintf("p%d", i)
			ids = append(ids, id, id)
		}
		got, err := NormalizePageIDs(ids)
		require.NoError(t, err)
		assert.Len(t, got, MaxPagesPerChapter)
	})
}

func TestPageObjectKey(t *testing.T) {
	assert.Equal(t, "drafts/7/abc/p1.webp", PageObjectKey("drafts/7/abc", "p1"))
}

func TestDraftToken(t *testing.T) {
	token, err := NewDraftToken()
	require.NoError(t, err)
	assert.True(t, ValidDraftToken(token))

	other, err := NewDraftToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)

	assert.False(t, ValidDraftToken(""))
	assert.False(t, ValidDraftToken("not-a-token"))
	assert.False(t, ValidDraftToken(strings.ToUpper(token)))
}

func TestDraftPagesPrefix(t *testing.T) {
	token := strings.Repeat("ab", 32)
	prefix := DraftPagesPrefix(42, token)

	assert.True(t, strings.HasPrefix(prefix, "drafts/42/"))
	assert.NotContains(t, prefix, token)
	assert.Equal(t, prefix, DraftPagesPrefix(42, token))
	assert.NotEqual(t, prefix, DraftPagesPrefix(43, token))

	t.Run("Hash segment is blake2b-128", func(t *testing.T) {
		h, err := blake2b.New(16, nil)
		require.NoError(t, err)
		h.Write([]byte(token))
		assert.Equal(t, "drafts/42/"+hex.EncodeToString(h.Sum(nil)), prefix)

		truncated := blake2b.Sum256([]byte(token))
		assert.NotEqual(t, "drafts/42/"+hex.EncodeToString(truncated[:16]), prefix)
	})
}

func TestErrorCategories(t *testing.T) {
	assert.True(t, errors.Is(ErrDraftNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrAlreadyProcessing, ErrConflict))
	assert.True(t, errors.Is(ErrUploadFailed, ErrUpstreamFailure))
	assert.False(t, errors.Is(ErrInvalidImage, ErrNotFound))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, ChapterStatusIdle, StatusOf(&Chapter{ID: 1}).State)
	assert.Equal(t, ChapterStatusDone, StatusOf(&Chapter{ID: 1, PagesPrefix: "drafts/1/x", Pages: 3}).State)
	assert.Equal(t, ChapterStatusProcessing, StatusOf(&Chapter{ID: 1, ProcessingState: ProcessingInProgress}).State)

	failed := StatusOf(&Chapter{ID: 1, ProcessingState: ProcessingFailed, ProcessingError: "boom"})
	assert.Equal(t, ChapterStatusFailed, failed.State)
	assert.Equal(t, "boom", failed.Error)
}
