package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrImageNotFound is returned when no row matches the requested id.
var ErrImageNotFound = errors.New("db: image not found")

// Cache lifetimes for GetImageByID.
const (
	DefaultImageCacheTTL     = 5 * time.Minute
	defaultCacheCleanupEvery = 10 * time.Minute
)

const imageColumns = `id, prompt, original, image_url, provider, model, guidance, rating,
	is_public, user_id, prompt_id, request_id, tags, tagged_at, created_at, updated_at`

// Repository reads and writes images. Reads by id go through an in-memory
// cache that is invalidated on every write to the same row. Tag updates can
// be deferred to an AsyncWriter.
type Repository struct {
	db     *Database
	writer *AsyncWriter
	cache  *cache.Cache
}

// NewRepository creates a Repository. writer may be nil, in which case tag
// updates run synchronously.
func NewRepository(database *Database, writer *AsyncWriter) *Repository {
	return &Repository{
		db:     database,
		writer: writer,
		cache:  cache.New(DefaultImageCacheTTL, defaultCacheCleanupEvery),
	}
}

// SaveImage inserts img and returns its id. img.ID, CreatedAt and UpdatedAt
// are filled in on success.
func (r *Repository) SaveImage(ctx context.Context, img *Image) (int64, error) {
	if img == nil {
		return 0, fmt.Errorf("db: nil image")
	}

	tags, err := encodeTags(img.Tags)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO images (
			prompt, original, image_url, provider, model, guidance, rating,
			is_public, user_id, prompt_id, request_id, tags, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.Prompt, img.Original, img.ImageURL, img.Provider, img.Model, img.Guidance,
		nullInt(img.Rating), img.IsPublic, nullString(img.UserID), img.PromptID,
		img.RequestID, tags, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("db: insert image: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: last insert id: %w", err)
	}
	img.ID = id
	img.CreatedAt = now
	img.UpdatedAt = now
	return id, nil
}

// GetImageByID returns the image with the given id or ErrImageNotFound.
// Callers receive a copy and may modify it freely.
func (r *Repository) GetImageByID(ctx context.Context, id int64) (*Image, error) {
	key := cacheKey(id)
	if cached, ok := r.cache.Get(key); ok {
		img := *cached.(*Image)
		return &img, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db: get image %d: %w", id, err)
	}

	stored := *img
	r.cache.SetDefault(key, &stored)
	return img, nil
}

// ListRecent returns up to limit images, newest first. When publicOnly is
// set only images marked public are returned.
func (r *Repository) ListRecent(ctx context.Context, limit int, publicOnly bool) ([]*Image, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + imageColumns + ` FROM images`
	if publicOnly {
		query += ` WHERE is_public = 1`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: list images: %w", err)
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// UpdateTags replaces the tag list of an image and stamps tagged_at.
func (r *Repository) UpdateTags(ctx context.Context, id int64, tags []string) error {
	encoded, err := encodeTags(tags)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE images SET tags = ?, tagged_at = ?, updated_at = ? WHERE id = ?`,
		encoded, now, now, id)
	if err != nil {
		return fmt.Errorf("db: update tags for image %d: %w", id, err)
	}
	r.cache.Delete(cacheKey(id))

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrImageNotFound
	}
	return nil
}

// QueueTagUpdate hands the tag update to the async writer. When the writer
// is absent, stopped or full the update runs synchronously on ctx.
func (r *Repository) QueueTagUpdate(ctx context.Context, id int64, tags []string) error {
	if r.writer != nil {
		queued := r.writer.Write("update_tags", func(wctx context.Context) error {
			return r.UpdateTags(wctx, id, tags)
		})
		if queued {
			return nil
		}
	}
	return r.UpdateTags(ctx, id, tags)
}

// DeleteImage removes the row and reports whether it existed.
func (r *Repository) DeleteImage(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("db: delete image %d: %w", id, err)
	}
	r.cache.Delete(cacheKey(id))

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db: rows affected: %w", err)
	}
	return n > 0, nil
}

// CountImages returns the number of stored images.
func (r *Repository) CountImages(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&count); err != nil {
		return 0, fmt.Errorf("db: count images: %w", err)
	}
	return count, nil
}

func scanImage(row rowScanner) (*Image, error) {
	var (
		img      Image
		rating   sql.NullInt64
		userID   sql.NullString
		tags     string
		taggedAt sql.NullTime
	)
	err := row.Scan(
		&img.ID, &img.Prompt, &img.Original, &img.ImageURL, &img.Provider, &img.Model,
		&img.Guidance, &rating, &img.IsPublic, &userID, &img.PromptID, &img.RequestID,
		&tags, &taggedAt, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rating.Valid {
		v := int(rating.Int64)
		img.Rating = &v
	}
	if userID.Valid {
		v := userID.String
		img.UserID = &v
	}
	if taggedAt.Valid {
		v := taggedAt.Time
		img.TaggedAt = &v
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &img.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &img, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("db: encode tags: %w", err)
	}
	return string(b), nil
}

func cacheKey(id int64) string {
	return "image:" + strconv.FormatInt(id, 10)
}

func nullString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
