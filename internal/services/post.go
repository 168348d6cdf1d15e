package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hub-api/apiserver/internal/storage"
	"github.com/hub-api/apiserver/internal/store"
	"github.com/hub-api/apiserver/types"
)

// PublishedChannel is the broker channel carrying post-published events.
const PublishedChannel = "posts.published"

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context, filters store.PostFilters) ([]types.Post, error)
	Get(ctx context.Context, id int) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Update(ctx context.Context, post types.Post) (types.Post, error)
	Delete(ctx context.Context, id int) error
	SetStatus(ctx context.Context, id int, status types.Status) error
	SetTaskValidated(ctx context.Context, id int, task string) error
	SetImageKey(ctx context.Context, id int, key string) error
	Sweep(ctx context.Context, now time.Time) ([]types.Post, error)
}

// EventPublisher publishes lifecycle events to a broker channel.
// *mq.MQ satisfies it; a nil publisher disables events.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// PostUpdate carries a partial update. Nil pointers leave the field
// unchanged; the Set flags distinguish "clear" from "absent" for the
// nullable fields.
type PostUpdate struct {
	Title       *string
	Description *string
	ImageURL    *string
	Status      *types.Status
	Platforms   []string
	PostType    *string

	PublishDate    *time.Time
	PublishDateSet bool

	VisualResponsibleID    *int
	VisualResponsibleIDSet bool

	ReviewResponsibleID    *int
	ReviewResponsibleIDSet bool
}

// PostService owns the post lifecycle: creation, status transitions,
// task validation, and the auto-publish sweep.
type PostService struct {
	repo    PostRepository
	users   UserRepository
	storage *storage.Storage
	events  EventPublisher
	logger  *slog.Logger
}

func NewPostService(repo PostRepository, users UserRepository, st *storage.Storage, events EventPublisher, logger *slog.Logger) *PostService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostService{
		repo:    repo,
		users:   users,
		storage: st,
		events:  events,
		logger:  logger,
	}
}

// List runs the auto-publish sweep, then returns the filtered posts.
// The sweep is a deliberate side effect of the read: every scheduled
// post whose publish date has passed becomes published, regardless of
// caller or filters.
func (s *PostService) List(ctx context.Context, filters store.PostFilters) ([]types.Post, error) {
	published, err := s.repo.Sweep(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	s.emitPublished(ctx, published...)

	return s.repo.List(ctx, filters)
}

func (s *PostService) Get(ctx context.Context, id int) (types.Post, error) {
	return s.repo.Get(ctx, id)
}

func (s *PostService) Create(ctx context.Context, post types.Post) (types.Post, error) {
	post.Title = strings.TrimSpace(post.Title)
	if post.Title == "" {
		return types.Post{}, validationf("title is required")
	}
	if post.Status == "" {
		post.Status = types.StatusDraft
	}
	if !post.Status.Valid() {
		return types.Post{}, validationf("invalid status %q", post.Status)
	}
	if err := s.checkResponsible(ctx, post.VisualResponsibleID, "visual"); err != nil {
		return types.Post{}, err
	}
	if err := s.checkResponsible(ctx, post.ReviewResponsibleID, "review"); err != nil {
		return types.Post{}, err
	}

	post.VisualValidated = false
	post.ReviewValidated = false

	created, err := s.repo.Create(ctx, post)
	if err != nil {
		return types.Post{}, err
	}
	return s.repo.Get(ctx, created.ID)
}

func (s *PostService) Update(ctx context.Context, id int, changes PostUpdate, callerID int, callerRole string) (types.Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if !ownerOrAdmin(post, callerID, callerRole) {
		return types.Post{}, ErrForbidden
	}

	wasPublished := post.Status == types.StatusPublished

	if changes.Title != nil {
		post.Title = strings.TrimSpace(*changes.Title)
		if post.Title == "" {
			return types.Post{}, validationf("title is required")
		}
	}
	if changes.Description != nil {
		post.Description = *changes.Description
	}
	if changes.ImageURL != nil {
		post.ImageURL = *changes.ImageURL
	}
	if changes.Status != nil {
		if !changes.Status.Valid() {
			return types.Post{}, validationf("invalid status %q", *changes.Status)
		}
		post.Status = *changes.Status
	}
	if changes.Platforms != nil {
		post.Platforms = changes.Platforms
	}
	if changes.PostType != nil {
		post.PostType = *changes.PostType
	}
	if changes.PublishDateSet {
		post.PublishDate = changes.PublishDate
	}
	if changes.VisualResponsibleIDSet {
		if err := s.checkResponsible(ctx, changes.VisualResponsibleID, "visual"); err != nil {
			return types.Post{}, err
		}
		post.VisualResponsibleID = changes.VisualResponsibleID
	}
	if changes.ReviewResponsibleIDSet {
		if err := s.checkResponsible(ctx, changes.ReviewResponsibleID, "review"); err != nil {
			return types.Post{}, err
		}
		post.ReviewResponsibleID = changes.ReviewResponsibleID
	}

	if _, err := s.repo.Update(ctx, post); err != nil {
		return types.Post{}, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if !wasPublished && updated.Status == types.StatusPublished {
		s.emitPublished(ctx, updated)
	}
	return updated, nil
}

func (s *PostService) Delete(ctx context.Context, id int, callerID int, callerRole string) error {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ownerOrAdmin(post, callerID, callerRole) {
		return ErrForbidden
	}
	return s.repo.Delete(ctx, id)
}

func (s *PostService) SetStatus(ctx context.Context, id int, status types.Status, callerID int, callerRole string) (types.Post, error) {
	if !status.Valid() {
		return types.Post{}, validationf("invalid status %q, accepted values are: %s, %s, %s",
			status, types.StatusDraft, types.StatusScheduled, types.StatusPublished)
	}

	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if !ownerOrAdmin(post, callerID, callerRole) {
		return types.Post{}, ErrForbidden
	}

	if err := s.repo.SetStatus(ctx, id, status); err != nil {
		return types.Post{}, err
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if post.Status != types.StatusPublished && status == types.StatusPublished {
		s.emitPublished(ctx, updated)
	}
	return updated, nil
}

// ValidateTask flips the validation flag matching task. Only the user
// assigned as that task's responsible may validate it; the role is
// irrelevant, admins included. The flip is one-way and idempotent.
func (s *PostService) ValidateTask(ctx context.Context, id int, task string, callerID int) (types.Post, error) {
	if !types.ValidTask(task) {
		return types.Post{}, validationf("invalid task type %q, accepted values are: %s, %s",
			task, types.TaskVisual, types.TaskReview)
	}

	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}

	responsible := post.VisualResponsibleID
	if task == types.TaskReview {
		responsible = post.ReviewResponsibleID
	}
	if responsible == nil || *responsible != callerID {
		return types.Post{}, ErrForbidden
	}

	if err := s.repo.SetTaskValidated(ctx, id, task); err != nil {
		return types.Post{}, err
	}
	return s.repo.Get(ctx, id)
}

// AttachImage stores an uploaded image for the post and records its
// object key. The previous object, if any, is removed best-effort.
func (s *PostService) AttachImage(ctx context.Context, id int, callerID int, callerRole string, filename, contentType string, data []byte) (types.Post, error) {
	if s.storage == nil {
		return types.Post{}, ErrStorageUnavailable
	}

	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Post{}, err
	}
	if !ownerOrAdmin(post, callerID, callerRole) {
		return types.Post{}, ErrForbidden
	}

	key := fmt.Sprintf("posts/%d/%s%s", id, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Post{}, err
	}

	if post.ImageKey != "" {
		if err := s.storage.Delete(ctx, post.ImageKey); err != nil {
			s.logger.Warn("failed to delete previous post image",
				slog.Int("post_id", id), slog.String("key", post.ImageKey), slog.Any("error", err))
		}
	}

	if err := s.repo.SetImageKey(ctx, id, key); err != nil {
		return types.Post{}, err
	}
	return s.repo.Get(ctx, id)
}

// OpenImage opens the stored image object for the post. It returns
// store.ErrNotFound when the post has no uploaded image.
func (s *PostService) OpenImage(ctx context.Context, id int) (io.ReadCloser, error) {
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}

	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.ImageKey == "" {
		return nil, store.ErrNotFound
	}
	return s.storage.Get(ctx, post.ImageKey)
}

func (s *PostService) checkResponsible(ctx context.Context, id *int, kind string) error {
	if id == nil {
		return nil
	}
	if _, err := s.users.GetByID(ctx, *id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return validationf("the %s responsible does not exist", kind)
		}
		return err
	}
	return nil
}

// emitPublished sends a posts.published event per post, best-effort.
// Broker failures are logged and never fail the request.
func (s *PostService) emitPublished(ctx context.Context, posts ...types.Post) {
	if s.events == nil || len(posts) == 0 {
		return
	}

	now := time.Now()
	for _, post := range posts {
		publishedAt := now
		if post.PublishDate != nil {
			publishedAt = *post.PublishDate
		}
		event := types.PublishedEvent{
			PostID:      post.ID,
			Title:       post.Title,
			AuthorID:    post.AuthorID,
			PublishedAt: publishedAt,
		}
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("failed to encode published event", slog.Int("post_id", post.ID), slog.Any("error", err))
			continue
		}
		if _, err := s.events.Publish(ctx, PublishedChannel, data, map[string]string{"type": "post.published"}); err != nil {
			s.logger.Warn("failed to publish event", slog.Int("post_id", post.ID), slog.Any("error", err))
		}
	}
}

func ownerOrAdmin(post types.Post, callerID int, callerRole string) bool {
	return callerID == post.AuthorID || strings.EqualFold(callerRole, types.RoleAdmin)
}
