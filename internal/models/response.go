package models

// APIError - тело любого ответа с ошибкой.
type APIError struct {
	Message string `json:"message"`
}
