package models

import (
	"fmt"
	"path"
	"regexp"
)

const (
	MaxPagesPerChapter = 220
	PageExtension      = ".webp"
	PageContentType    = "image/webp"
)

var pageIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UploadedPage - результат загрузки одной страницы.
type UploadedPage struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// ValidPageID допускает только короткие идентификаторы без разделителей пути.
func ValidPageID(pageID string) bool {
	return pageIDPattern.MatchString(pageID)
}

// PageFileName возвращает имя объекта страницы внутри префикса.
func PageFileName(pageID string) string {
	return pageID + PageExtension
}

// PageObjectKey возвращает полный ключ объекта: {prefix}/{pageId}.webp
func PageObjectKey(prefix, pageID string) string {
	return path.Join(prefix, PageFileName(pageID))
}

// NormalizePageIDs проверяет список страниц коммита, убирает повторы
// с сохранением порядка и проверяет итоговую длину.
func NormalizePageIDs(pageIDs []string) ([]string, error) {
	if len(pageIDs) == 0 {
		return nil, fmt.Errorf("%w: page list is empty", ErrInvalidPageList)
	}

	seen := make(map[string]struct{}, len(pageIDs))
	result := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		if !ValidPageID(id) {
			return nil, fmt.Errorf("%w: malformed page id %q", ErrInvalidPageList, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}

	if len(result) > MaxPagesPerChapter {
		return nil, fmt.Errorf("%w: %d pages, maximum is %d", ErrInvalidPageList, len(result), MaxPagesPerChapter)
	}
	return result, nil
}
