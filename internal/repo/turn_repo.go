// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatTurn
// model (the transcript store).
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only append and
// query composition.
//
// Error semantics:
//   - Appends never fail silently; any DB error is propagated to the caller.
//   - Queries return the raw gorm error on failure and an empty slice when
//     the user simply has no turns.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pstavrou/go-llm-chat-backend/internal/domain"
)

// AppendTurn inserts a new transcript turn for userID. The turn ID is a
// randomly generated UUID and CreatedAt is set to UTC now. Rows are never
// updated after this write.
func AppendTurn(ctx context.Context, db *gorm.DB, userID, sender, text, imageBase64 string) (*domain.ChatTurn, error) {
	t := &domain.ChatTurn{
		ID:          uuid.NewString(),
		UserID:      userID,
		Sender:      sender,
		Text:        text,
		ImageBase64: imageBase64,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// ListTurns returns every turn belonging to userID in chronological order
// (CreatedAt ASC, ID ASC as a deterministic tie-break). Retrieved in this
// order the turns reproduce the conversation exactly as it occurred.
func ListTurns(ctx context.Context, db *gorm.DB, userID string) ([]domain.ChatTurn, error) {
	var out []domain.ChatTurn
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListRecentTurns returns the most recent `limit` turns for userID in
// chronological order. The query selects descending and the slice is
// reversed before returning, so callers always see oldest-first.
func ListRecentTurns(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.ChatTurn, error) {
	var out []domain.ChatTurn
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountTurns returns the total number of turns owned by userID.
// A raw COUNT is used so a missing table surfaces as an error.
func CountTurns(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM chat_turns WHERE user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

// ListTurnsPage returns a paginated slice of turns for userID in
// chronological order. Use CountTurns to obtain the total for pagination
// metadata. The caller computes offset and limit (e.g., (page-1)*pageSize).
func ListTurnsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ChatTurn, error) {
	var out []domain.ChatTurn
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
