package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func main() {
	var (
		courseID     = flag.Int("course", 1, "Course ID the exam belongs to")
		title        = flag.String("title", "Sample Exam", "Exam title")
		duration     = flag.Int("duration", 60, "Duration in minutes")
		passing      = flag.Float64("passing", 60, "Passing score")
		questions    = flag.Int("questions", 5, "Number of questions to create")
		maxPoints    = flag.Float64("points", 20, "Max points per question")
		startIn      = flag.Duration("start-in", 0, "Window opens this long from now")
		window       = flag.Duration("window", 3*time.Hour, "Length of the exam window (0 for open-ended)")
		hardDeadline = flag.Bool("hard-deadline", false, "Cap every session at the window end")
		students     = flag.String("students", "", "Comma-separated user IDs to enroll")
		policy       = flag.String("policy", "", `Proctor policy override as JSON, e.g. {"violation_threshold":5}`)
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		return
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	userIDs, err := parseIDs(*students)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -students")
	}

	var rawPolicy json.RawMessage
	if *policy != "" {
		rawPolicy = json.RawMessage(*policy)
		if _, err := cfg.Proctor.Policy().Resolve(rawPolicy); err != nil {
			log.Fatal().Err(err).Msg("Invalid -policy")
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	fmt.Println("=== Seeding Exam ===")

	if err := enrollmentRepo.EnsureCourse(ctx, *courseID, fmt.Sprintf("Course %d", *courseID)); err != nil {
		log.Fatal().Err(err).Msg("Failed to create course")
	}

	start := time.Now().UTC().Add(*startIn).Truncate(time.Minute)
	exam := &model.Exam{
		CourseID:        *courseID,
		Title:           *title,
		DurationMinutes: *duration,
		PassingScore:    *passing,
		IsPublished:     true,
		StartTime:       &start,
		HardDeadline:    *hardDeadline,
		ProctorPolicy:   rawPolicy,
	}
	if *window > 0 {
		end := start.Add(*window)
		exam.EndTime = &end
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("Created exam %s (%q)\n", exam.ID, exam.Title)

	batch := make([]*model.Question, 0, *questions)
	for i := 1; i <= *questions; i++ {
		batch = append(batch, &model.Question{
			ExamID:    exam.ID,
			Body:      fmt.Sprintf("Question %d: explain your reasoning.", i),
			MaxPoints: *maxPoints,
			OrderNum:  i,
		})
	}
	if err := questionRepo.CreateBatch(ctx, batch); err != nil {
		log.Fatal().Err(err).Msg("Failed to create questions")
	}

	stored, err := questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read back questions")
	}
	fmt.Printf("Created %d questions\n", len(stored))
	for _, q := range stored {
		fmt.Printf("  #%d %s (max %.1f)\n", q.OrderNum, q.ID, q.MaxPoints)
	}

	enrolled := 0
	for _, id := range userIDs {
		if err := enrollmentRepo.Enroll(ctx, *courseID, id); err != nil {
			fmt.Printf("Error enrolling user %d: %v\n", id, err)
			continue
		}
		enrolled++
	}

	fmt.Printf("\nSeed completed! Exam %s, %d/%d students enrolled.\n", exam.ID, enrolled, len(userIDs))
}

func parseIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
