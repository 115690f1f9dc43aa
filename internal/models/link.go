package models

import (
	"time"
)

// LinkStatus результат последней проверки доступности ссылки
type LinkStatus string

const (
	StatusUnknown LinkStatus = "unknown"
	StatusValid   LinkStatus = "valid"
	StatusInvalid LinkStatus = "invalid"
)

type Link struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	LongURL         string     `json:"long_url"`
	OwnerID         *int64     `json:"owner_id,omitempty"`
	Status          LinkStatus `json:"status"`
	ValidationError string     `json:"validation_error,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	ClickCount      int64      `json:"click_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

type CreateLinkInput struct {
	LongURL    string  `json:"long_url" binding:"required,url"`
	CustomCode *string `json:"custom_code,omitempty"`
	OwnerID    *int64  `json:"owner_id,omitempty"`
}

// TickStats итог одного прохода фоновой валидации
type TickStats struct {
	Checked int `json:"checked"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Unknown int `json:"unknown"`
}
