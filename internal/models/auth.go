package models

import "time"

// LoginRequest represents the login request body
type LoginRequest struct {
	Name string `json:"name" binding:"required"`
	Role string `json:"role"`
	Key  string `json:"key" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
