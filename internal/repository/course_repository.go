package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/svirmi/coursepay/internal/model"
)

// CourseRepository is the read side of the course catalog plus the
// enrollment table the settlement flow writes to.
type CourseRepository struct {
	db *sql.DB
}

func NewCourseRepository(db *sql.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

func (r *CourseRepository) GetCoursePricing(ctx context.Context, courseID string) (*model.CoursePricing, error) {
	var p model.CoursePricing
	err := r.db.QueryRowContext(ctx,
		`SELECT id, price, discount_percent, educator_id FROM courses WHERE id = $1`,
		courseID,
	).Scan(&p.CourseID, &p.Price, &p.DiscountPercent, &p.EducatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load course pricing: %w", err)
	}
	return &p, nil
}

func (r *CourseRepository) IsEnrolled(ctx context.Context, buyerID, courseID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM enrollments WHERE buyer_id = $1 AND course_id = $2)`,
		buyerID, courseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return exists, nil
}

// Enroll is idempotent; enrolling twice is not an error.
func (r *CourseRepository) Enroll(ctx context.Context, buyerID, courseID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (buyer_id, course_id) VALUES ($1, $2)
		 ON CONFLICT (buyer_id, course_id) DO NOTHING`,
		buyerID, courseID,
	)
	if err != nil {
		return fmt.Errorf("failed to enroll: %w", err)
	}
	return nil
}

func (r *CourseRepository) UpsertCourse(ctx context.Context, p model.CoursePricing) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO courses (id, price, discount_percent, educator_id) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET price = EXCLUDED.price, discount_percent = EXCLUDED.discount_percent, educator_id = EXCLUDED.educator_id`,
		p.CourseID, p.Price, p.DiscountPercent, p.EducatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert course: %w", err)
	}
	return nil
}
