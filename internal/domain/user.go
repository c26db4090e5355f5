package domain

import (
	"time"
)

type User struct {
	Name        string    `json:"name"`
	Title       string    `json:"title,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Banner      string    `json:"banner,omitempty"`
	Description string    `json:"description,omitempty"`
	Karma       int64     `json:"karma"`
	CreatedAt   time.Time `json:"createdAt"`
}
