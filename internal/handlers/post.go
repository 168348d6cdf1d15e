package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hub-api/apiserver/internal/services"
	"github.com/hub-api/apiserver/internal/store"
	"github.com/hub-api/apiserver/types"
)

const (
	maxImageMemory = 32 << 20
	maxImageBytes  = 10 << 20
	formFieldImage = "image"
)

// PostHandler provides HTTP handlers for posts.
type PostHandler struct {
	postService *services.PostService
}

// NewPostHandler constructs a handler with the provided service.
func NewPostHandler(postService *services.PostService) *PostHandler {
	return &PostHandler{postService: postService}
}

// PostRouter registers post routes on the given router. Every route
// requires authentication.
func PostRouter(r chi.Router, postService *services.PostService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewPostHandler(postService)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Get("/", handler.ListPosts)
	r.Post("/", handler.CreatePost)
	r.Route("/{postID}", func(r chi.Router) {
		r.Get("/", handler.GetPost)
		r.Put("/", handler.UpdatePost)
		r.Delete("/", handler.DeletePost)
		r.Patch("/status", handler.UpdateStatus)
		r.Patch("/validate", handler.ValidateTask)
		r.Post("/image", handler.UploadImage)
		r.Get("/image", handler.GetImage)
	})
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	filters, err := parsePostFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posts, err := h.postService.List(r.Context(), filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	post, err := h.postService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch post")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PostCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	post := types.Post{
		Title:               req.Title,
		Description:         req.Description,
		ImageURL:            req.ImageURL,
		Status:              types.Status(req.Status),
		PublishDate:         req.PublishDate,
		Platforms:           req.Platforms,
		PostType:            req.PostType,
		AuthorID:            auth.ID,
		VisualResponsibleID: req.VisualResponsibleID,
		ReviewResponsibleID: req.ReviewResponsibleID,
	}

	created, err := h.postService.Create(r.Context(), post)
	if err != nil {
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	changes, err := parsePostUpdate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.postService.Update(r.Context(), id, changes, auth.ID, auth.Role)
	if err != nil {
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update post")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.postService.Delete(r.Context(), id, auth.ID, auth.Role); err != nil {
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Success: true})
}

func (h *PostHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.postService.SetStatus(r.Context(), id, types.Status(req.Status), auth.ID, auth.Role)
	if err != nil {
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) ValidateTask(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req ValidateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.postService.ValidateTask(r.Context(), id, req.TaskType, auth.ID)
	if err != nil {
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to validate task")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	auth, err := authFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxImageMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File[formFieldImage]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	if len(files) > 1 {
		writeError(w, http.StatusBadRequest, "only one image file is allowed")
		return
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image file")
		return
	}
	data, err := readBodyLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	updated, err := h.postService.AttachImage(r.Context(), id, auth.ID, auth.Role, fileHeader.Filename, contentType, data)
	if err != nil {
		if errors.Is(err, services.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "image storage is not configured")
			return
		}
		if h.writeLifecycleError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *PostHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	object, err := h.postService.OpenImage(r.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "image storage is not configured")
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "image not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch image")
		return
	}
	defer object.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, object)
}

// writeLifecycleError maps the lifecycle error taxonomy onto HTTP
// statuses. It reports whether err was handled.
func (h *PostHandler) writeLifecycleError(w http.ResponseWriter, err error) bool {
	var validation *services.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "you are not allowed to perform this action")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
	default:
		return false
	}
	return true
}

// PostCreateRequest is the creation payload.
type PostCreateRequest struct {
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	ImageURL            string     `json:"imageUrl"`
	Status              string     `json:"status"`
	PublishDate         *time.Time `json:"publishDate"`
	Platforms           []string   `json:"platforms"`
	PostType            string     `json:"postType"`
	VisualResponsibleID *int       `json:"visualResponsibleId"`
	ReviewResponsibleID *int       `json:"reviewResponsibleId"`
}

// PostUpdateRequest is the partial-update payload. The nullable fields
// are raw so "set to null" and "absent" stay distinguishable.
type PostUpdateRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	ImageURL    *string  `json:"imageUrl"`
	Status      *string  `json:"status"`
	Platforms   []string `json:"platforms"`
	PostType    *string  `json:"postType"`

	PublishDate         json.RawMessage `json:"publishDate"`
	VisualResponsibleID json.RawMessage `json:"visualResponsibleId"`
	ReviewResponsibleID json.RawMessage `json:"reviewResponsibleId"`

	VisualValidated *bool `json:"visualValidated"`
	ReviewValidated *bool `json:"reviewValidated"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type ValidateTaskRequest struct {
	TaskType string `json:"taskType"`
}

func parsePostID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "postID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid post id")
	}
	return id, nil
}

func parsePostFilters(r *http.Request) (store.PostFilters, error) {
	query := r.URL.Query()

	filters := store.PostFilters{
		Status:   types.Status(strings.TrimSpace(query.Get("status"))),
		Platform: strings.TrimSpace(query.Get("platform")),
		PostType: strings.TrimSpace(query.Get("type")),
		Search:   strings.TrimSpace(query.Get("search")),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return store.PostFilters{}, errors.New("invalid status filter")
	}

	if raw := strings.TrimSpace(query.Get("author")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			return store.PostFilters{}, errors.New("invalid author filter")
		}
		filters.AuthorID = id
	}
	if raw := strings.TrimSpace(query.Get("assignedTo")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 1 {
			return store.PostFilters{}, errors.New("invalid assignedTo filter")
		}
		filters.AssignedTo = id
	}

	return filters, nil
}

func parsePostUpdate(r *http.Request) (services.PostUpdate, error) {
	var req PostUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return services.PostUpdate{}, errors.New("invalid request")
	}

	// The validation flags only move through the validate endpoint.
	if req.VisualValidated != nil || req.ReviewValidated != nil {
		return services.PostUpdate{}, errors.New("validation flags cannot be set through update")
	}

	changes := services.PostUpdate{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Platforms:   req.Platforms,
		PostType:    req.PostType,
	}
	if req.Status != nil {
		status := types.Status(*req.Status)
		changes.Status = &status
	}

	publishDate, set, err := optionalTime(req.PublishDate)
	if err != nil {
		return services.PostUpdate{}, errors.New("invalid publishDate")
	}
	changes.PublishDate, changes.PublishDateSet = publishDate, set

	visual, set, err := optionalInt(req.VisualResponsibleID)
	if err != nil {
		return services.PostUpdate{}, errors.New("invalid visualResponsibleId")
	}
	changes.VisualResponsibleID, changes.VisualResponsibleIDSet = visual, set

	review, set, err := optionalInt(req.ReviewResponsibleID)
	if err != nil {
		return services.PostUpdate{}, errors.New("invalid reviewResponsibleId")
	}
	changes.ReviewResponsibleID, changes.ReviewResponsibleIDSet = review, set

	return changes, nil
}

func optionalInt(raw json.RawMessage) (*int, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	if string(raw) == "null" {
		return nil, true, nil
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, err
	}
	return &value, true, nil
}

func optionalTime(raw json.RawMessage) (*time.Time, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	if string(raw) == "null" {
		return nil, true, nil
	}
	var value time.Time
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, err
	}
	return &value, true, nil
}
