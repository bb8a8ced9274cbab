package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/metrics"
)

var _ repository.UserRepository = (*userRepo)(nil)

// userRepo reads users and rewrites only their purchased_courses column.
type userRepo struct {
	db    querier
	table string
}

func NewUserRepo(db querier, tableName string) *userRepo {
	if tableName == "" {
		tableName = "users"
	}
	return &userRepo{db: db, table: table(tableName)}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.UserProjection, error) {
	q := `SELECT id, COALESCE(email,''), COALESCE(name,''), COALESCE(purchased_courses, '[]'::jsonb), updated_at
FROM ` + r.table + ` WHERE id=$1;`

	var (
		u       model.UserProjection
		courses []byte
	)
	err := r.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Name, &courses, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.IncDBQuery("projection", "get", nil)
		return nil, domain.ErrUserNotFound
	}
	metrics.IncDBQuery("projection", "get", err)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(courses, &u.PurchasedCourses); err != nil {
		return nil, fmt.Errorf("%w: purchased_courses of %s: %v", domain.ErrReadDatabaseRow, id, err)
	}
	if u.PurchasedCourses == nil {
		u.PurchasedCourses = []model.CourseGrant{}
	}
	for i := range u.PurchasedCourses {
		g := &u.PurchasedCourses[i]
		g.PurchaseDate = model.StoreTime(g.PurchaseDate)
		g.ExpiryDate = model.StoreTime(g.ExpiryDate)
	}
	return &u, nil
}

// UpdatePurchasedCourses replaces the whole grants array in a single statement.
func (r *userRepo) UpdatePurchasedCourses(ctx context.Context, userID string, grants []model.CourseGrant, updatedAt time.Time) error {
	if grants == nil {
		grants = []model.CourseGrant{}
	}
	b, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("%w: encode grants: %v", domain.ErrInvalidArgument, err)
	}
	q := `UPDATE ` + r.table + ` SET purchased_courses=$2::jsonb, updated_at=$3 WHERE id=$1;`
	cmd, err := r.db.Exec(ctx, q, userID, b, updatedAt)
	metrics.IncDBQuery("projection", "update", err)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM `+r.table+` ORDER BY id;`)
	if err != nil {
		metrics.IncDBQuery("projection", "scan", err)
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	metrics.IncDBQuery("projection", "scan", err)
	if err != nil {
		return nil, mapErr(err)
	}
	return ids, nil
}
