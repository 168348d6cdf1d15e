//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hub-api/apiserver/config"
	"github.com/hub-api/apiserver/internal/db"
	"github.com/hub-api/apiserver/internal/server"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18090
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestPostLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()
	password := "testpass123!"

	authorToken, _ := mustRegisterAndLogin(t, baseURL, fmt.Sprintf("author_%d", suffix), password)
	designerToken, designerID := mustRegisterAndLogin(t, baseURL, fmt.Sprintf("designer_%d", suffix), password)

	created, err := createPost(t, baseURL, authorToken, map[string]any{
		"title":               "E2E campaign",
		"description":         "scheduled teaser",
		"platforms":           []string{"instagram"},
		"postType":            "image",
		"visualResponsibleId": designerID,
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	if created.Status != "brouillon" {
		t.Fatalf("expected draft status, got %q", created.Status)
	}
	if created.ID == 0 {
		t.Fatalf("expected post ID to be set")
	}

	validated, err := validateTask(t, baseURL, designerToken, created.ID, "visual")
	if err != nil {
		t.Fatalf("validate task: %v", err)
	}
	if !validated.VisualValidated {
		t.Fatalf("expected visual task to be validated")
	}

	// The author must not be able to validate in the designer's place.
	if err := expectValidateForbidden(t, baseURL, authorToken, created.ID, "visual"); err != nil {
		t.Fatalf("author validate: %v", err)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	scheduled, err := updatePost(t, baseURL, authorToken, created.ID, map[string]any{
		"status":      "planifié",
		"publishDate": past,
	})
	if err != nil {
		t.Fatalf("schedule post: %v", err)
	}
	if scheduled.Status != "planifié" {
		t.Fatalf("expected scheduled status, got %q", scheduled.Status)
	}

	// Listing sweeps overdue scheduled posts into published.
	if err := listPosts(t, baseURL, authorToken); err != nil {
		t.Fatalf("list posts: %v", err)
	}

	fetched, err := getPost(t, baseURL, authorToken, created.ID)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	if fetched.Status != "publié" {
		t.Fatalf("expected published status after sweep, got %q", fetched.Status)
	}

	if err := deletePost(t, baseURL, authorToken, created.ID); err != nil {
		t.Fatalf("delete post: %v", err)
	}

	if err := expectPostNotFound(t, baseURL, authorToken, created.ID); err != nil {
		t.Fatalf("expected deleted post to be missing: %v", err)
	}
}

type postResponse struct {
	ID              int    `json:"id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	VisualValidated bool   `json:"visualValidated"`
	ReviewValidated bool   `json:"reviewValidated"`
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID int `json:"id"`
	} `json:"user"`
}

func mustRegisterAndLogin(t *testing.T, baseURL, username, password string) (string, int) {
	t.Helper()

	email := fmt.Sprintf("%s@example.com", username)
	if err := doJSON(http.MethodPost, baseURL+"/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, http.StatusCreated, nil); err != nil {
		t.Fatalf("register %s: %v", username, err)
	}

	var parsed loginResponse
	if err := doJSON(http.MethodPost, baseURL+"/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK, &parsed); err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	if parsed.Token == "" {
		t.Fatalf("missing token in login response for %s", username)
	}
	return parsed.Token, parsed.User.ID
}

func createPost(t *testing.T, baseURL, token string, payload map[string]any) (postResponse, error) {
	t.Helper()
	var parsed postResponse
	err := doJSON(http.MethodPost, baseURL+"/posts", token, payload, http.StatusCreated, &parsed)
	return parsed, err
}

func updatePost(t *testing.T, baseURL, token string, id int, payload map[string]any) (postResponse, error) {
	t.Helper()
	var parsed postResponse
	err := doJSON(http.MethodPut, fmt.Sprintf("%s/posts/%d", baseURL, id), token, payload, http.StatusOK, &parsed)
	return parsed, err
}

func validateTask(t *testing.T, baseURL, token string, id int, taskType string) (postResponse, error) {
	t.Helper()
	var parsed postResponse
	err := doJSON(http.MethodPatch, fmt.Sprintf("%s/posts/%d/validate", baseURL, id), token,
		map[string]string{"taskType": taskType}, http.StatusOK, &parsed)
	return parsed, err
}

func expectValidateForbidden(t *testing.T, baseURL, token string, id int, taskType string) error {
	t.Helper()
	err := doJSON(http.MethodPatch, fmt.Sprintf("%s/posts/%d/validate", baseURL, id), token,
		map[string]string{"taskType": taskType}, http.StatusForbidden, nil)
	return err
}

func listPosts(t *testing.T, baseURL, token string) error {
	t.Helper()
	return doJSON(http.MethodGet, baseURL+"/posts", token, nil, http.StatusOK, nil)
}

func getPost(t *testing.T, baseURL, token string, id int) (postResponse, error) {
	t.Helper()
	var parsed postResponse
	err := doJSON(http.MethodGet, fmt.Sprintf("%s/posts/%d", baseURL, id), token, nil, http.StatusOK, &parsed)
	return parsed, err
}

func deletePost(t *testing.T, baseURL, token string, id int) error {
	t.Helper()
	return doJSON(http.MethodDelete, fmt.Sprintf("%s/posts/%d", baseURL, id), token, nil, http.StatusOK, nil)
}

func expectPostNotFound(t *testing.T, baseURL, token string, id int) error {
	t.Helper()
	return doJSON(http.MethodGet, fmt.Sprintf("%s/posts/%d", baseURL, id), token, nil, http.StatusNotFound, nil)
}

func doJSON(method, url, token string, payload any, wantStatus int, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s status %d (want %d): %s", method, url, resp.StatusCode, wantStatus, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	dsn := db.PostgresURL(cfg)
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	dsn := db.PostgresURL(cfg)
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, dsn)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "hubapi")
	_ = os.Setenv("DB_PASSWORD", "hubapi")
	_ = os.Setenv("DB_NAME", "hubapi")
	_ = os.Setenv("DB_USE_SSL", "false")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
