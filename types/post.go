package types

import "time"

// Status is the lifecycle state of a post. The literals are kept in the
// source locale because the frontend matches on them.
type Status string

const (
	// StatusDraft is the initial state of a post ("brouillon").
	StatusDraft Status = "brouillon"

	// StatusScheduled marks a post planned for a future publish date ("planifié").
	StatusScheduled Status = "planifié"

	// StatusPublished marks a post that has gone out ("publié").
	StatusPublished Status = "publié"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished:
		return true
	default:
		return false
	}
}

// Task types accepted by the validate operation.
const (
	TaskVisual = "visual"
	TaskReview = "review"
)

// ValidTask reports whether task is a known task type.
func ValidTask(task string) bool {
	return task == TaskVisual || task == TaskReview
}

// Post represents a social-media publication tracked through the
// draft → scheduled → published lifecycle.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// Title is the required headline of the post.
	Title string `json:"title" db:"title"`

	// Description is the optional body text.
	Description string `json:"description" db:"description"`

	// ImageURL is a free-form image reference provided by the client.
	ImageURL string `json:"imageUrl,omitempty" db:"image_url"`

	// ImageKey is the object-storage key of an uploaded image, if any.
	// It is set by the image upload endpoint, never by generic updates.
	ImageKey string `json:"imageKey,omitempty" db:"image_key"`

	// Status is the lifecycle state. Defaults to StatusDraft.
	Status Status `json:"status" db:"status"`

	// PublishDate is the optional scheduled publication time. A
	// scheduled post whose publish date has passed is flipped to
	// published by the sweep run on every list read.
	PublishDate *time.Time `json:"publishDate" db:"publish_date"`

	// Platforms is the set of target platform names. Order carries no
	// meaning.
	Platforms []string `json:"platforms" db:"platforms"`

	// PostType is a free-text tag classifying the post.
	PostType string `json:"postType,omitempty" db:"post_type"`

	// AuthorID identifies the user who created the post and holds
	// default mutation rights alongside admins.
	AuthorID int `json:"authorId" db:"author_id"`

	// VisualResponsibleID optionally assigns a user to approve the
	// visual aspect of the post.
	VisualResponsibleID *int `json:"visualResponsibleId" db:"visual_responsible_id"`

	// ReviewResponsibleID optionally assigns a user to approve the
	// review (proofreading) aspect of the post.
	ReviewResponsibleID *int `json:"reviewResponsibleId" db:"review_responsible_id"`

	// VisualValidated records the one-way visual sign-off. Only the
	// assigned visual responsible can flip it, via the validate
	// operation.
	VisualValidated bool `json:"visualValidated" db:"visual_validated"`

	// ReviewValidated records the one-way review sign-off, independent
	// of VisualValidated.
	ReviewValidated bool `json:"reviewValidated" db:"review_validated"`

	// CreatedAt is the timestamp when the post was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Author is the denormalized author reference, populated on reads.
	Author *UserRef `json:"author,omitempty" db:"-"`

	// VisualResponsible is the denormalized visual responsible, when assigned.
	VisualResponsible *UserRef `json:"visualResponsible,omitempty" db:"-"`

	// ReviewResponsible is the denormalized review responsible, when assigned.
	ReviewResponsible *UserRef `json:"reviewResponsible,omitempty" db:"-"`
}

// PublishedEvent is the payload emitted on the posts.published channel
// whenever a post transitions to the published state.
type PublishedEvent struct {
	PostID      int       `json:"postId"`
	Title       string    `json:"title"`
	AuthorID    int       `json:"authorId"`
	PublishedAt time.Time `json:"publishedAt"`
}
