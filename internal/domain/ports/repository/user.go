package repository

import (
	"context"
	"time"

	"course-payment-sync/internal/domain/model"
)

// -----------------------------
// Users (purchased courses projection)
// -----------------------------

// UserRepository exposes the user store as far as the projection is concerned.
// UpdatePurchasedCourses replaces the whole purchasedCourses field in one write
// and never touches other user fields.
type UserRepository interface {
	// FindByID returns domain.ErrUserNotFound for unknown users.
	FindByID(ctx context.Context, id string) (*model.UserProjection, error)
	UpdatePurchasedCourses(ctx context.Context, userID string, grants []model.CourseGrant, updatedAt time.Time) error
	// ListIDs returns the ids of all known users.
	ListIDs(ctx context.Context) ([]string, error)
}
