package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

// TestRepository_SaveAndGet tests the insert/read round trip including nullable columns.
func TestRepository_SaveAndGet(t *testing.T) {
	repo := NewRepository(openTestDatabase(t), nil)
	ctx := context.Background()

	img := &Image{
		Prompt:    "a red fox, oil painting",
		Original:  "a red fox",
		ImageURL:  "/uploads/abc.png",
		Provider:  "dalle3",
		Model:     "dall-e-3",
		Guidance:  10,
		IsPublic:  true,
		UserID:    strPtr("user-1"),
		PromptID:  "prompt-1",
		RequestID: "req-1",
	}

	id, err := repo.SaveImage(ctx, img)
	if err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	if id == 0 || img.ID != id {
		t.Fatalf("SaveImage() id = %d, img.ID = %d", id, img.ID)
	}

	got, err := repo.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if got.Prompt != img.Prompt || got.Original != img.Original || got.Provider != "dalle3" {
		t.Errorf("GetImageByID() = %+v", got)
	}
	if !got.IsPublic {
		t.Error("IsPublic = false, want true")
	}
	if got.UserID == nil || *got.UserID != "user-1" {
		t.Errorf("UserID = %v, want user-1", got.UserID)
	}
	if got.Rating != nil {
		t.Errorf("Rating = %v, want nil", *got.Rating)
	}
	if len(got.Tags) != 0 {
		t.Errorf("Tags = %v, want empty", got.Tags)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

// TestRepository_AnonymousImage tests that a missing user id is stored as NULL.
func TestRepository_AnonymousImage(t *testing.T) {
	repo := NewRepository(openTestDatabase(t), nil)
	ctx := context.Background()

	id, err := repo.SaveImage(ctx, &Image{Prompt: "p", ImageURL: "u", Provider: "x", Guidance: 5})
	if err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	got, err := repo.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if got.UserID != nil {
		t.Errorf("UserID = %q, want nil", *got.UserID)
	}
}

// TestRepository_NotFound tests the sentinel error.
func TestRepository_NotFound(t *testing.T) {
	repo := NewRepository(openTestDatabase(t), nil)
	if _, err := repo.GetImageByID(context.Background(), 999); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("GetImageByID(999) error = %v, want ErrImageNotFound", err)
	}
}

// TestRepository_UpdateTagsInvalidatesCache tests that cached reads see tag updates.
func TestRepository_UpdateTagsInvalidatesCache(t *testing.T) {
	repo := NewRepository(openTestDatabase(t), nil)
	ctx := context.Background()

	id, err := repo.SaveImage(ctx, &Image{Prompt: "p", ImageURL: "u", Provider: "x", Guidance: 5})
	if err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	if _, err := repo.GetImageByID(ctx, id); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	if err := repo.UpdateTags(ctx, id, []string{"fox", "painting"}); err != nil {
		t.Fatalf("UpdateTags() error = %v", err)
	}

	got, err := repo.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "fox" {
		t.Errorf("Tags = %v, want [fox painting]", got.Tags)
	}
	if got.TaggedAt == nil {
		t.Error("TaggedAt should be set after UpdateTags")
	}

	if err := repo.UpdateTags(ctx, id+100, []string{"x"}); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("UpdateTags(missing) error = %v, want ErrImageNotFound", err)
	}
}

// TestRepository_QueueTagUpdate tests tag updates through the async writer.
func TestRepository_QueueTagUpdate(t *testing.T) {
	writer := NewAsyncWriter(10, nil)
	writer.Start()
	repo := NewRepository(openTestDatabase(t), writer)
	ctx := context.Background()

	id, err := repo.SaveImage(ctx, &Image{Prompt: "p", ImageURL: "u", Provider: "x", Guidance: 5})
	if err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	if err := repo.QueueTagUpdate(ctx, id, []string{"queued"}); err != nil {
		t.Fatalf("QueueTagUpdate() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := writer.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	got, err := repo.GetImageByID(ctx, id)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "queued" {
		t.Errorf("Tags = %v, want [queued]", got.Tags)
	}

	// A stopped writer falls back to a synchronous update.
	if err := repo.QueueTagUpdate(ctx, id, []string{"sync"}); err != nil {
		t.Fatalf("QueueTagUpdate() after stop error = %v", err)
	}
	got, _ = repo.GetImageByID(ctx, id)
	if len(got.Tags) != 1 || got.Tags[0] != "sync" {
		t.Errorf("Tags = %v, want [sync]", got.Tags)
	}
}

// TestRepository_DeleteAndList tests deletion, listing and counting.
func TestRepository_DeleteAndList(t *testing.T) {
	repo := NewRepository(openTestDatabase(t), nil)
	ctx := context.Background()

	var ids []int64
	for i, public := range []bool{true, false, true} {
		id, err := repo.SaveImage(ctx, &Image{Prompt: "p", ImageURL: "u", Provider: "x", Guidance: i + 1, IsPublic: public})
		if err != nil {
			t.Fatalf("SaveImage() error = %v", err)
		}
		ids = append(ids, id)
	}

	public, err := repo.ListRecent(ctx, 10, true)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(public) != 2 {
		t.Errorf("ListRecent(public) returned %d, want 2", len(public))
	}

	existed, err := repo.DeleteImage(ctx, ids[0])
	if err != nil || !existed {
		t.Fatalf("DeleteImage() = %v, %v; want true, nil", existed, err)
	}
	existed, err = repo.DeleteImage(ctx, ids[0])
	if err != nil || existed {
		t.Errorf("second DeleteImage() = %v, %v; want false, nil", existed, err)
	}
	if _, err := repo.GetImageByID(ctx, ids[0]); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("GetImageByID(deleted) error = %v, want ErrImageNotFound", err)
	}

	count, err := repo.CountImages(ctx)
	if err != nil || count != 2 {
		t.Errorf("CountImages() = %d, %v; want 2", count, err)
	}
}
