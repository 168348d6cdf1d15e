package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hub-api/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedJSON(t *testing.T, method, target, token string, payload any) *http.Request {
	t.Helper()
	req := jsonRequest(t, method, target, payload)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestCreatePost(t *testing.T) {
	t.Run("creates a draft by default", func(t *testing.T) {
		env := newTestEnv()
		user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)

		rec := env.do(t, authedJSON(t, http.MethodPost, "/posts/", token, map[string]any{
			"title":       "Spring campaign",
			"description": "teaser video",
			"platforms":   []string{"instagram", "tiktok"},
			"postType":    "video",
		}))
		require.Equal(t, http.StatusCreated, rec.Code)

		post := decodeBody[types.Post](t, rec)
		assert.Equal(t, "Spring campaign", post.Title)
		assert.Equal(t, types.StatusDraft, post.Status)
		assert.Equal(t, user.ID, post.AuthorID)
		assert.False(t, post.VisualValidated)
		assert.False(t, post.ReviewValidated)
	})

	t.Run("rejects missing title", func(t *testing.T) {
		env := newTestEnv()
		_, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)

		rec := env.do(t, authedJSON(t, http.MethodPost, "/posts/", token, map[string]any{
			"title": "   ",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unknown responsible", func(t *testing.T) {
		env := newTestEnv()
		_, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)

		rec := env.do(t, authedJSON(t, http.MethodPost, "/posts/", token, map[string]any{
			"title":               "x",
			"visualResponsibleId": 999,
		}))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, "the visual responsible does not exist", resp.Message)
	})

	t.Run("requires authentication", func(t *testing.T) {
		env := newTestEnv()

		rec := env.do(t, jsonRequest(t, http.MethodPost, "/posts/", map[string]any{"title": "x"}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestListPostsSweeps(t *testing.T) {
	env := newTestEnv()
	user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)

	past := time.Now().Add(-time.Hour)
	due, err := env.posts.Create(t.Context(), types.Post{
		Title:       "due",
		Status:      types.StatusScheduled,
		PublishDate: &past,
		AuthorID:    user.ID,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/posts/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	posts := decodeBody[[]types.Post](t, rec)
	require.Len(t, posts, 1)
	assert.Equal(t, due.ID, posts[0].ID)
	assert.Equal(t, types.StatusPublished, posts[0].Status)
}

func TestUpdatePost(t *testing.T) {
	t.Run("owner updates fields", func(t *testing.T) {
		env := newTestEnv()
		user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "old", Status: types.StatusDraft, AuthorID: user.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPut, fmt.Sprintf("/posts/%d", post.ID), token, map[string]any{
			"title":       "new",
			"publishDate": nil,
		}))
		require.Equal(t, http.StatusOK, rec.Code)

		updated := decodeBody[types.Post](t, rec)
		assert.Equal(t, "new", updated.Title)
		assert.Nil(t, updated.PublishDate)
	})

	t.Run("validation flags are rejected", func(t *testing.T) {
		env := newTestEnv()
		user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: user.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPut, fmt.Sprintf("/posts/%d", post.ID), token, map[string]any{
			"visualValidated": true,
		}))
		require.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decodeBody[ErrorResponse](t, rec)
		assert.Equal(t, "validation flags cannot be set through update", resp.Message)
		assert.False(t, env.posts.posts[post.ID].VisualValidated)
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		env := newTestEnv()
		owner, _ := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		_, token := env.seedUser(t, "mallory", "mallory@example.com", "secret123", types.RoleUser, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: owner.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPut, fmt.Sprintf("/posts/%d", post.ID), token, map[string]any{
			"title": "hijacked",
		}))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin may update any post", func(t *testing.T) {
		env := newTestEnv()
		owner, _ := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		_, token := env.seedUser(t, "root", "root@example.com", "secret123", types.RoleAdmin, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: owner.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPut, fmt.Sprintf("/posts/%d", post.ID), token, map[string]any{
			"title": "moderated",
		}))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown post", func(t *testing.T) {
		env := newTestEnv()
		_, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)

		rec := env.do(t, authedJSON(t, http.MethodPut, "/posts/42", token, map[string]any{"title": "x"}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Run("publishes a draft", func(t *testing.T) {
		env := newTestEnv()
		user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: user.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPatch, fmt.Sprintf("/posts/%d/status", post.ID), token, map[string]any{
			"status": string(types.StatusPublished),
		}))
		require.Equal(t, http.StatusOK, rec.Code)

		updated := decodeBody[types.Post](t, rec)
		assert.Equal(t, types.StatusPublished, updated.Status)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		env := newTestEnv()
		user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: user.ID})
		require.NoError(t, err)

		rec := env.do(t, authedJSON(t, http.MethodPatch, fmt.Sprintf("/posts/%d/status", post.ID), token, map[string]any{
			"status": "archived",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, types.StatusDraft, env.posts.posts[post.ID].Status)
	})
}

func TestValidateTaskEndpoint(t *testing.T) {
	seed := func(t *testing.T, env *testEnv, authorID int, visualID, reviewID *int) types.Post {
		t.Helper()
		post, err := env.posts.Create(t.Context(), types.Post{
			Title:               "campaign",
			Status:              types.StatusDraft,
			AuthorID:            authorID,
			VisualResponsibleID: visualID,
			ReviewResponsibleID: reviewID,
		})
		require.NoError(t, err)
		return post
	}

	t.Run("responsible validates visual task", func(t *testing.T) {
		env := newTestEnv()
		author, _ := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		designer, token := env.seedUser(t, "bob", "bob@example.com", "secret123", types.RoleUser, true)
		post := seed(t, env, author.ID, &designer.ID, nil)

		rec := env.do(t, authedJSON(t, http.MethodPatch, fmt.Sprintf("/posts/%d/validate", post.ID), token, map[string]any{
			"taskType": types.TaskVisual,
		}))
		require.Equal(t, http.StatusOK, rec.Code)

		updated := decodeBody[types.Post](t, rec)
		assert.True(t, updated.VisualValidated)
		assert.False(t, updated.ReviewValidated)
	})

	t.Run("admin is still forbidden", func(t *testing.T) {
		env := newTestEnv()
		author, _ := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		designer, _ := env.seedUser(t, "bob", "bob@example.com", "secret123", types.RoleUser, true)
		_, token := env.seedUser(t, "root", "root@example.com", "secret123", types.RoleAdmin, true)
		post := seed(t, env, author.ID, &designer.ID, nil)

		rec := env.do(t, authedJSON(t, http.MethodPatch, fmt.Sprintf("/posts/%d/validate", post.ID), token, map[string]any{
			"taskType": types.TaskVisual,
		}))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, env.posts.posts[post.ID].VisualValidated)
	})

	t.Run("invalid task type", func(t *testing.T) {
		env := newTestEnv()
		author, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
		post := seed(t, env, author.ID, nil, nil)

		rec := env.do(t, authedJSON(t, http.MethodPatch, fmt.Sprintf("/posts/%d/validate", post.ID), token, map[string]any{
			"taskType": "legal",
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeletePost(t *testing.T) {
	env := newTestEnv()
	user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
	post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: user.ID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/posts/%d", post.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[StatusResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, env.posts.posts)
}

func TestGetImageWithoutStorage(t *testing.T) {
	env := newTestEnv()
	user, token := env.seedUser(t, "alice", "alice@example.com", "secret123", types.RoleEditor, true)
	post, err := env.posts.Create(t.Context(), types.Post{Title: "x", Status: types.StatusDraft, AuthorID: user.ID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/posts/%d/image", post.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := env.do(t, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
