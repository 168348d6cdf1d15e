package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

type contextKey string

const contextAuthKey contextKey = "auth"

// AuthUser is the caller identity resolved from a bearer token.
// Downstream handlers trust it unconditionally.
type AuthUser struct {
	ID   int
	Role string
}

func authFromContext(ctx context.Context) (AuthUser, error) {
	auth, ok := ctx.Value(contextAuthKey).(AuthUser)
	if !ok || auth.ID < 1 {
		return AuthUser{}, errors.New("missing identity")
	}
	return auth, nil
}

// ErrorResponse is the uniform error envelope returned on every
// handler-level failure.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse acknowledges an operation that returns no resource.
type StatusResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

func readBodyLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
