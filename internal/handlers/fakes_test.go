package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hub-api/apiserver/internal/services"
	"github.com/hub-api/apiserver/internal/store"
	"github.com/hub-api/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testJWTSecret = "test-secret"

type memUserRepo struct {
	users  map[int]types.User
	nextID int

	// referenced mimics the restrict foreign keys on posts.
	referenced func(id int) bool
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int]types.User), nextID: 1}
}

func (m *memUserRepo) List(ctx context.Context) ([]types.User, error) {
	out := make([]types.User, 0, len(m.users))
	for _, user := range m.users {
		out = append(out, user)
	}
	return out, nil
}

func (m *memUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	user, ok := m.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = m.nextID
	m.nextID++
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserRepo) Update(ctx context.Context, user types.User) (types.User, error) {
	if _, ok := m.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memUserRepo) Delete(ctx context.Context, id int) error {
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	if m.referenced != nil && m.referenced(id) {
		return store.ErrConflict
	}
	delete(m.users, id)
	return nil
}

type memPostRepo struct {
	posts  map[int]types.Post
	nextID int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{posts: make(map[int]types.Post), nextID: 1}
}

func (m *memPostRepo) List(ctx context.Context, filters store.PostFilters) ([]types.Post, error) {
	out := make([]types.Post, 0, len(m.posts))
	for _, post := range m.posts {
		if filters.Status != "" && post.Status != filters.Status {
			continue
		}
		if filters.AuthorID != 0 && post.AuthorID != filters.AuthorID {
			continue
		}
		out = append(out, post)
	}
	return out, nil
}

func (m *memPostRepo) Get(ctx context.Context, id int) (types.Post, error) {
	post, ok := m.posts[id]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	return post, nil
}

func (m *memPostRepo) Create(ctx context.Context, post types.Post) (types.Post, error) {
	post.ID = m.nextID
	m.nextID++
	m.posts[post.ID] = post
	return post, nil
}

func (m *memPostRepo) Update(ctx context.Context, post types.Post) (types.Post, error) {
	stored, ok := m.posts[post.ID]
	if !ok {
		return types.Post{}, store.ErrNotFound
	}
	post.VisualValidated = stored.VisualValidated
	post.ReviewValidated = stored.ReviewValidated
	m.posts[post.ID] = post
	return post, nil
}

func (m *memPostRepo) Delete(ctx context.Context, id int) error {
	if _, ok := m.posts[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.posts, id)
	return nil
}

func (m *memPostRepo) SetStatus(ctx context.Context, id int, status types.Status) error {
	post, ok := m.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	post.Status = status
	m.posts[id] = post
	return nil
}

func (m *memPostRepo) SetTaskValidated(ctx context.Context, id int, task string) error {
	post, ok := m.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	if task == types.TaskReview {
		post.ReviewValidated = true
	} else {
		post.VisualValidated = true
	}
	m.posts[id] = post
	return nil
}

func (m *memPostRepo) SetImageKey(ctx context.Context, id int, key string) error {
	post, ok := m.posts[id]
	if !ok {
		return store.ErrNotFound
	}
	post.ImageKey = key
	m.posts[id] = post
	return nil
}

func (m *memPostRepo) Sweep(ctx context.Context, now time.Time) ([]types.Post, error) {
	published := make([]types.Post, 0)
	for id, post := range m.posts {
		if post.Status == types.StatusScheduled && post.PublishDate != nil && post.PublishDate.Before(now) {
			post.Status = types.StatusPublished
			m.posts[id] = post
			published = append(published, post)
		}
	}
	return published, nil
}

type testEnv struct {
	router *chi.Mux
	users  *memUserRepo
	posts  *memPostRepo
}

func newTestEnv() *testEnv {
	users := newMemUserRepo()
	posts := newMemPostRepo()
	users.referenced = func(id int) bool {
		for _, post := range posts.posts {
			if post.AuthorID == id {
				return true
			}
			if post.VisualResponsibleID != nil && *post.VisualResponsibleID == id {
				return true
			}
			if post.ReviewResponsibleID != nil && *post.ReviewResponsibleID == id {
				return true
			}
		}
		return false
	}

	userService := services.NewUserService(users)
	postService := services.NewPostService(posts, users, nil, nil, nil)

	authMiddleware := RequireAuth(testJWTSecret)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		AuthRouter(r, userService, testJWTSecret)
	})
	router.Route("/posts", func(r chi.Router) {
		PostRouter(r, postService, authMiddleware)
	})
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, userService, authMiddleware)
	})

	return &testEnv{router: router, users: users, posts: posts}
}

// seedUser inserts a user with a bcrypt-hashed password and returns it
// together with a valid bearer token.
func (e *testEnv) seedUser(t *testing.T, username, email, password, role string, active bool) (types.User, string) {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	user, err := e.users.Create(context.Background(), types.User{
		Username:     username,
		Email:        email,
		Role:         role,
		IsActive:     active,
		PasswordHash: string(hashed),
	})
	require.NoError(t, err)

	token, err := issueToken(user.ID, user.Role, []byte(testJWTSecret), time.Hour)
	require.NoError(t, err)

	return user, token
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}
