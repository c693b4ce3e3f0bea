package memstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Seed describes the exam a memory-driver process starts with. Exam
// authoring lives elsewhere, so without a seed the memory driver has
// nothing to admit anyone to.
type Seed struct {
	CourseID        int             `json:"course_id"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	PassingScore    float64         `json:"passing_score"`
	Questions       int             `json:"questions"`
	MaxPoints       float64         `json:"max_points"`
	StartInMinutes  int             `json:"start_in_minutes"`
	WindowMinutes   int             `json:"window_minutes"` // 0 for open-ended
	HardDeadline    bool            `json:"hard_deadline"`
	Students        []int           `json:"students"`
	ProctorPolicy   json.RawMessage `json:"proctor_policy,omitempty"`
}

// DefaultSeed mirrors the defaults of cmd/seed-exam, with a handful of
// enrolled demo students.
func DefaultSeed() Seed {
	return Seed{
		CourseID:        1,
		Title:           "Sample Exam",
		DurationMinutes: 60,
		PassingScore:    60,
		Questions:       5,
		MaxPoints:       20,
		WindowMinutes:   180,
		Students:        []int{1, 2, 3},
	}
}

// LoadSeed reads a seed file. Fields missing from the file keep their
// DefaultSeed values.
func LoadSeed(path string) (Seed, error) {
	seed := DefaultSeed()
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed: %w", err)
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("decode seed: %w", err)
	}
	return seed, seed.validate()
}

func (s Seed) validate() error {
	var errs []error
	if s.CourseID <= 0 {
		errs = append(errs, errors.New("course_id must be positive"))
	}
	if s.DurationMinutes <= 0 {
		errs = append(errs, errors.New("duration_minutes must be positive"))
	}
	if s.Questions <= 0 {
		errs = append(errs, errors.New("questions must be positive"))
	}
	if s.MaxPoints < 0 || s.PassingScore < 0 {
		errs = append(errs, errors.New("max_points and passing_score must not be negative"))
	}
	if s.WindowMinutes < 0 {
		errs = append(errs, errors.New("window_minutes must not be negative"))
	}
	return errors.Join(errs...)
}

// Seeded is what Apply created.
type Seeded struct {
	Exam      model.Exam
	Questions []model.Question
}

// Apply publishes the seeded exam with its window opening StartInMinutes
// after now, adds its questions and enrolls the students.
func (s *Store) Apply(seed Seed, now time.Time) (*Seeded, error) {
	if err := seed.validate(); err != nil {
		return nil, err
	}

	start := now.UTC().Add(time.Duration(seed.StartInMinutes) * time.Minute).Truncate(time.Minute)
	exam := model.Exam{
		ID:              uuid.New(),
		CourseID:        seed.CourseID,
		Title:           seed.Title,
		DurationMinutes: seed.DurationMinutes,
		PassingScore:    seed.PassingScore,
		IsPublished:     true,
		StartTime:       &start,
		HardDeadline:    seed.HardDeadline,
		ProctorPolicy:   seed.ProctorPolicy,
	}
	if seed.WindowMinutes > 0 {
		end := start.Add(time.Duration(seed.WindowMinutes) * time.Minute)
		exam.EndTime = &end
	}
	s.PutExam(exam)

	out := &Seeded{Exam: exam}
	for i := 1; i <= seed.Questions; i++ {
		q := model.Question{
			ID:        uuid.New(),
			ExamID:    exam.ID,
			Body:      fmt.Sprintf("Question %d: explain your reasoning.", i),
			MaxPoints: seed.MaxPoints,
			OrderNum:  i,
		}
		s.PutQuestion(q)
		out.Questions = append(out.Questions, q)
	}
	for _, id := range seed.Students {
		s.Enroll(seed.CourseID, id)
	}
	return out, nil
}
