package model

import "github.com/google/uuid"

// Question is seeded alongside exams; the engine only references its ID.
type Question struct {
	ID        uuid.UUID `json:"id"`
	ExamID    uuid.UUID `json:"exam_id"`
	Body      string    `json:"body"`
	MaxPoints float64   `json:"max_points"`
	OrderNum  int       `json:"order_num"`
}
