package storage

import (
	"context"
	"errors"
	"strings"
)

// ErrUnsafePrefix - попытка удалить всё хранилище или его корень.
var ErrUnsafePrefix = errors.New("refusing to operate on an empty or root prefix")

// VersionRef указывает на одну сохраненную версию объекта.
type VersionRef struct {
	Key        string
	Generation int64
	// Current - версия является текущей (живой), а не архивной.
	Current bool
	Size    int64
}

// ObjectStore - версионируемое объектное хранилище страниц.
type ObjectStore interface {
	// PutObject записывает новую текущую версию ключа.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	// ListVersions перечисляет все версии (включая архивные) ключей с префиксом.
	ListVersions(ctx context.Context, keyPrefix string) ([]VersionRef, error)
	// DeleteVersions удаляет перечисленные версии и возвращает число удаленных.
	DeleteVersions(ctx context.Context, refs []VersionRef) (int, error)
}

// DirPrefix нормализует префикс каталога к виду "a/b/" и отвергает
// пустые и корневые значения.
func DirPrefix(prefix string) (string, error) {
	trimmed := strings.Trim(prefix, "/")
	if trimmed == "" || trimmed == "." {
		return "", ErrUnsafePrefix
	}
	return trimmed + "/", nil
}

// CurrentKeys возвращает множество ключей, у которых есть живая версия.
func CurrentKeys(refs []VersionRef) map[string]struct{} {
	keys := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		if ref.Current {
			keys[ref.Key] = struct{}{}
		}
	}
	return keys
}

// VersionsOfKey оставляет версии ровно одного ключа.
func VersionsOfKey(refs []VersionRef, key string) []VersionRef {
	result := make([]VersionRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Key == key {
			result = append(result, ref)
		}
	}
	return result
}
