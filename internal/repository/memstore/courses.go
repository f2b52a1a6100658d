package memstore

import (
	"context"
	"sync"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

type CourseStore struct {
	mu          sync.Mutex
	courses     map[string]model.CoursePricing
	enrollments map[[2]string]struct{}
}

func NewCourseStore() *CourseStore {
	return &CourseStore{
		courses:     make(map[string]model.CoursePricing),
		enrollments: make(map[[2]string]struct{}),
	}
}

func (s *CourseStore) UpsertCourse(_ context.Context, p model.CoursePricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[p.CourseID] = p
	return nil
}

func (s *CourseStore) GetCoursePricing(_ context.Context, courseID string) (*model.CoursePricing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.courses[courseID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *CourseStore) IsEnrolled(_ context.Context, buyerID, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.enrollments[[2]string{buyerID, courseID}]
	return ok, nil
}

func (s *CourseStore) Enroll(_ context.Context, buyerID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[[2]string{buyerID, courseID}] = struct{}{}
	return nil
}
