package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	draftTokenBytes  = 32
	draftPrefixBytes = 16

	// DraftPrefixRoot - корень, под которым лежат страницы всех черновиков.
	DraftPrefixRoot = "drafts"
)

var draftTokenPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// DraftSession - сессия загрузки страниц новой главы.
type DraftSession struct {
	Token         string    `json:"token"`
	MangaID       int64     `json:"mangaId"`
	PagesPrefix   string    `json:"pagesPrefix"`
	CreatedAt     time.Time `json:"createdAt"`
	LastTouchedAt time.Time `json:"lastTouchedAt"`
}

// ExpiresAt - момент истечения по настенным часам; только для ответов API.
func (d *DraftSession) ExpiresAt(ttl time.Duration) time.Time {
	return d.LastTouchedAt.Add(ttl)
}

// NewDraftToken генерирует непредсказуемый токен черновика.
func NewDraftToken() (string, error) {
	buf := make([]byte, draftTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate draft token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidDraftToken - чисто синтаксическая проверка, без обращения к хранилищу.
func ValidDraftToken(token string) bool {
	return draftTokenPattern.MatchString(token)
}

// DraftPagesPrefix строит префикс объектов черновика. Сам токен в префикс
// не попадает: URL страниц публичны, а токен даёт право на запись.
func DraftPagesPrefix(mangaID int64, token string) string {
	// BLAKE2b-128: длина дайджеста входит в параметры хеша, это не обрезанный Sum256.
	h, err := blake2b.New(draftPrefixBytes, nil)
	if err != nil {
		panic(fmt.Sprintf("blake2b-128: %v", err))
	}
	h.Write([]byte(token))
	return fmt.Sprintf("%s/%d/%s", DraftPrefixRoot, mangaID, hex.EncodeToString(h.Sum(nil)))
}
