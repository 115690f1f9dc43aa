package models

import (
	"time"
)

type Click struct {
	ID        int64     `json:"id"`
	LinkID    int64     `json:"link_id"`
	Code      string    `json:"code"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer"`
	ClickedAt time.Time `json:"clicked_at"`
}

// ClickEvent событие клика, передаваемое в worker pool
type ClickEvent struct {
	LinkID    int64
	Code      string
	IPAddress string
	UserAgent string
	Referer   string
}

type ClickStats struct {
	Code         string `json:"code"`
	TotalClicks  int64  `json:"total_clicks"`
	UniqueClicks int64  `json:"unique_clicks"`
}

type DailyClickStats struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}
