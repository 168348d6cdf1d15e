package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hub-api/apiserver/types"
)

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

// PostFilters narrows a post listing. Zero values mean "no filter".
type PostFilters struct {
	Status     types.Status
	Platform   string
	PostType   string
	Search     string
	AuthorID   int
	AssignedTo int
}

const postSelect = `
	SELECT p.id, p.title, p.description, p.image_url, p.image_key, p.status,
		p.publish_date, p.platforms, p.post_type, p.author_id,
		p.visual_responsible_id, p.review_responsible_id,
		p.visual_validated, p.review_validated, p.created_at, p.updated_at,
		a.username, vr.username, rr.username
	FROM posts p
	JOIN users a ON a.id = p.author_id
	LEFT JOIN users vr ON vr.id = p.visual_responsible_id
	LEFT JOIN users rr ON rr.id = p.review_responsible_id`

func scanPost(row interface{ Scan(...any) error }) (types.Post, error) {
	var post types.Post
	var platformsJSON []byte
	var authorName string
	var visualName, reviewName sql.NullString

	err := row.Scan(
		&post.ID,
		&post.Title,
		&post.Description,
		&post.ImageURL,
		&post.ImageKey,
		&post.Status,
		&post.PublishDate,
		&platformsJSON,
		&post.PostType,
		&post.AuthorID,
		&post.VisualResponsibleID,
		&post.ReviewResponsibleID,
		&post.VisualValidated,
		&post.ReviewValidated,
		&post.CreatedAt,
		&post.UpdatedAt,
		&authorName,
		&visualName,
		&reviewName,
	)
	if err != nil {
		return types.Post{}, err
	}

	_ = json.Unmarshal(platformsJSON, &post.Platforms)
	if post.Platforms == nil {
		post.Platforms = []string{}
	}

	post.Author = &types.UserRef{ID: post.AuthorID, Username: authorName}
	if post.VisualResponsibleID != nil && visualName.Valid {
		post.VisualResponsible = &types.UserRef{ID: *post.VisualResponsibleID, Username: visualName.String}
	}
	if post.ReviewResponsibleID != nil && reviewName.Valid {
		post.ReviewResponsible = &types.UserRef{ID: *post.ReviewResponsibleID, Username: reviewName.String}
	}
	return post, nil
}

func (r *PostRepository) List(ctx context.Context, filters PostFilters) ([]types.Post, error) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filters.Status != "" {
		add("p.status = $%d", string(filters.Status))
	}
	if filters.Platform != "" {
		// jsonb "contains element" operator over the platforms array.
		add("p.platforms ? $%d", filters.Platform)
	}
	if filters.PostType != "" {
		add("p.post_type = $%d", filters.PostType)
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		clauses = append(clauses, fmt.Sprintf("(p.title ILIKE $%d OR p.description ILIKE $%d)", len(args), len(args)))
	}
	if filters.AuthorID != 0 {
		add("p.author_id = $%d", filters.AuthorID)
	}
	if filters.AssignedTo != 0 {
		args = append(args, filters.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("(p.visual_responsible_id = $%d OR p.review_responsible_id = $%d)", len(args), len(args)))
	}

	query := postSelect
	if len(clauses) > 0 {
		query += "\n\tWHERE " + strings.Join(clauses, " AND ")
	}
	query += "\n\tORDER BY p.publish_date DESC NULLS LAST, p.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PostRepository) Get(ctx context.Context, id int) (types.Post, error) {
	query := postSelect + "\n\tWHERE p.id = $1"
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	platformsJSON, err := marshalPlatforms(post.Platforms)
	if err != nil {
		return types.Post{}, err
	}

	const query = `
		INSERT INTO posts (title, description, image_url, image_key, status,
			publish_date, platforms, post_type, author_id,
			visual_responsible_id, review_responsible_id,
			visual_validated, review_validated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.Title,
		post.Description,
		post.ImageURL,
		post.ImageKey,
		string(post.Status),
		post.PublishDate,
		platformsJSON,
		post.PostType,
		post.AuthorID,
		post.VisualResponsibleID,
		post.ReviewResponsibleID,
		post.VisualValidated,
		post.ReviewValidated,
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		return types.Post{}, constraintError(err)
	}
	return post, nil
}

// Update replaces the mutable fields of a post. The validation flags are
// deliberately absent: they only move through SetTaskValidated.
func (r *PostRepository) Update(ctx context.Context, post types.Post) (types.Post, error) {
	post.UpdatedAt = time.Now()

	platformsJSON, err := marshalPlatforms(post.Platforms)
	if err != nil {
		return types.Post{}, err
	}

	const query = `
		UPDATE posts
		SET title = $1,
			description = $2,
			image_url = $3,
			status = $4,
			publish_date = $5,
			platforms = $6,
			post_type = $7,
			visual_responsible_id = $8,
			review_responsible_id = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		post.Title,
		post.Description,
		post.ImageURL,
		string(post.Status),
		post.PublishDate,
		platformsJSON,
		post.PostType,
		post.VisualResponsibleID,
		post.ReviewResponsibleID,
		post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		return types.Post{}, constraintError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Post{}, err
	}
	if affected == 0 {
		return types.Post{}, ErrNotFound
	}
	return post, nil
}

func (r *PostRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM posts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostRepository) SetStatus(ctx context.Context, id int, status types.Status) error {
	const query = `
		UPDATE posts
		SET status = $1, updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, string(status), time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskValidated flips exactly one validation flag to true. The write is
// idempotent: re-validating an already validated task re-asserts true.
func (r *PostRepository) SetTaskValidated(ctx context.Context, id int, task string) error {
	column := "visual_validated"
	if task == types.TaskReview {
		column = "review_validated"
	}

	query := fmt.Sprintf(`
		UPDATE posts
		SET %s = TRUE, updated_at = $1
		WHERE id = $2`, column)
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostRepository) SetImageKey(ctx context.Context, id int, key string) error {
	const query = `
		UPDATE posts
		SET image_key = $1, updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, key, time.Now(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Sweep publishes every scheduled post whose publish date has passed.
// A single unconditional update keeps the operation idempotent under
// concurrent sweeps. The flipped posts are returned so callers can emit
// lifecycle events.
func (r *PostRepository) Sweep(ctx context.Context, now time.Time) ([]types.Post, error) {
	const query = `
		UPDATE posts
		SET status = $1, updated_at = $2
		WHERE status = $3 AND publish_date < $2
		RETURNING id, title, author_id, publish_date`
	rows, err := r.db.QueryContext(ctx, query, string(types.StatusPublished), now, string(types.StatusScheduled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	published := make([]types.Post, 0)
	for rows.Next() {
		var post types.Post
		if err := rows.Scan(&post.ID, &post.Title, &post.AuthorID, &post.PublishDate); err != nil {
			return nil, err
		}
		post.Status = types.StatusPublished
		published = append(published, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return published, nil
}

func marshalPlatforms(platforms []string) ([]byte, error) {
	if platforms == nil {
		platforms = []string{}
	}
	return json.Marshal(platforms)
}
