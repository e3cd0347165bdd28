package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type QuestionKind string

const (
	QuestionKindRating QuestionKind = "rating"
	QuestionKindText   QuestionKind = "text"
	QuestionKindChoice QuestionKind = "choice"
)

const (
	minRating = 1
	maxRating = 5
)

type Question struct {
	ID       string       `json:"id"`
	Prompt   string       `json:"prompt"`
	Kind     QuestionKind `json:"kind"`
	Options  []string     `json:"options,omitempty"`
	Required bool         `json:"required"`
}

// Post-event evaluation. One per event.
type Survey struct {
	bun.BaseModel `bun:"table:surveys,alias:survey"`

	ID          string     `bun:"id,pk"                   json:"id"`
	EventID     string     `bun:"event_id,notnull,unique" json:"event_id"`
	Title       string     `bun:"title,notnull"           json:"title"`
	Description string     `bun:"description"             json:"description"`
	Questions   []Question `bun:"questions,type:json"     json:"questions"`
	IsOpen      bool       `bun:"is_open"                 json:"is_open"`
	CreatedAt   int64      `bun:"created_at,notnull"      json:"created_at"`
	UpdatedAt   int64      `bun:"updated_at"              json:"updated_at"`
}

type SurveyResponse struct {
	bun.BaseModel `bun:"table:survey_responses,alias:survey_response"`

	ID          string            `bun:"id,pk"                                      json:"id"`
	SurveyID    string            `bun:"survey_id,notnull,unique:survey_response_user" json:"survey_id"`
	UserID      string            `bun:"user_id,notnull,unique:survey_response_user"   json:"user_id"`
	Answers     map[string]string `bun:"answers,type:json"                          json:"answers"`
	SubmittedAt int64             `bun:"submitted_at,notnull"                       json:"submitted_at"`
}

func (s *Survey) validate() error {
	var flds []FieldError
	if strings.TrimSpace(s.Title) == "" {
		flds = append(flds, FieldError{"title", "this field is required"})
	}
	if len(s.Questions) == 0 {
		flds = append(flds, FieldError{"questions", "at least one question is required"})
	}
	seen := make(map[string]bool, len(s.Questions))
	for i, q := range s.Questions {
		field := fmt.Sprintf("questions[%d]", i)
		switch {
		case q.ID == "":
			flds = append(flds, FieldError{field + ".id", "this field is required"})
		case seen[q.ID]:
			flds = append(flds, FieldError{field + ".id", "duplicate question id " + q.ID})
		}
		seen[q.ID] = true
		if strings.TrimSpace(q.Prompt) == "" {
			flds = append(flds, FieldError{field + ".prompt", "this field is required"})
		}
		switch q.Kind {
		case QuestionKindRating, QuestionKindText:
		case QuestionKindChoice:
			if len(q.Options) < 2 {
				flds = append(flds, FieldError{field + ".options", "choice questions need at least two options"})
			}
		default:
			flds = append(flds, FieldError{field + ".kind", "must be rating, text or choice"})
		}
	}
	if len(flds) > 0 {
		return NewValidationError(flds...)
	}
	return nil
}

// Creates the event's survey or replaces its definition. Questions can't be
// changed once someone has answered.
func (s *Survey) Upsert(ctx context.Context, db bun.IDB) error {
	s.Title = strings.TrimSpace(s.Title)
	if err := s.validate(); err != nil {
		return err
	}
	now := time.Now().UTC().Unix()

	existing, err := GetSurvey(ctx, db, s.EventID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.ID = uuid.NewString()
		s.CreatedAt = now
		s.UpdatedAt = now
		if _, err := db.NewInsert().Model(s).Exec(ctx); err != nil {
			return fmt.Errorf("(*Survey).Upsert: %w", err)
		}
		return nil
	case err != nil:
		return err
	}

	responses, err := db.NewSelect().
		Model((*SurveyResponse)(nil)).
		Where("survey_id = ?", existing.ID).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("(*Survey).Upsert: %w", err)
	}
	if responses > 0 {
		return fmt.Errorf("%w: survey already has responses", ErrConflict)
	}
	s.ID = existing.ID
	s.IsOpen = existing.IsOpen
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = now
	if _, err := db.NewUpdate().
		Model(s).
		Column("title", "description", "questions", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Survey).Upsert: %w", err)
	}
	return nil
}

func (s *Survey) SetOpen(ctx context.Context, db bun.IDB, open bool) error {
	s.IsOpen = open
	s.UpdatedAt = time.Now().UTC().Unix()
	if _, err := db.NewUpdate().
		Model(s).
		Column("is_open", "updated_at").
		WherePK().
		Exec(ctx); err != nil {
		return fmt.Errorf("(*Survey).SetOpen: %w", err)
	}
	return nil
}

func GetSurvey(ctx context.Context, db bun.IDB, eventID string) (*Survey, error) {
	survey := new(Survey)
	if err := db.NewSelect().
		Model(survey).
		Where("event_id = ?", eventID).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("survey %w", ErrNotFound)
		}
		return nil, fmt.Errorf("GetSurvey: %w", err)
	}
	return survey, nil
}

func (s *Survey) checkAnswers(answers map[string]string) error {
	var flds []FieldError
	known := make(map[string]bool, len(s.Questions))
	for _, q := range s.Questions {
		known[q.ID] = true
		answer := strings.TrimSpace(answers[q.ID])
		if answer == "" {
			if q.Required {
				flds = append(flds, FieldError{q.ID, "this question is required"})
			}
			continue
		}
		switch q.Kind {
		case QuestionKindRating:
			if rating, err := strconv.Atoi(answer); err != nil || rating < minRating || rating > maxRating {
				flds = append(flds, FieldError{q.ID, fmt.Sprintf("rating must be between %d and %d", minRating, maxRating)})
			}
		case QuestionKindChoice:
			valid := false
			for _, option := range q.Options {
				if option == answer {
					valid = true
					break
				}
			}
			if !valid {
				flds = append(flds, FieldError{q.ID, "not one of the options"})
			}
		}
	}
	for id := range answers {
		if !known[id] {
			flds = append(flds, FieldError{id, "unknown question"})
		}
	}
	if len(flds) > 0 {
		sort.Slice(flds, func(i, j int) bool { return flds[i].Field < flds[j].Field })
		return NewValidationError(flds...)
	}
	return nil
}

// Stores the user's answers. The survey must be open, the user must have
// attended, and only one response per user is kept.
func SubmitSurveyResponse(ctx context.Context, tx bun.IDB, survey *Survey, userID string, answers map[string]string) (*SurveyResponse, error) {
	if !survey.IsOpen {
		return nil, ErrSurveyClosed
	}
	attended, err := HasAttended(ctx, tx, survey.EventID, userID)
	if err != nil {
		return nil, err
	}
	if !attended {
		return nil, fmt.Errorf("%w: only attendees can answer the survey", ErrForbidden)
	}
	if err := survey.checkAnswers(answers); err != nil {
		return nil, err
	}

	responded, err := HasResponded(ctx, tx, survey.ID, userID)
	switch {
	case err != nil:
		return nil, err
	case responded:
		return nil, ErrAlreadyResponded
	}

	trimmed := make(map[string]string, len(answers))
	for id, answer := range answers {
		if answer = strings.TrimSpace(answer); answer != "" {
			trimmed[id] = answer
		}
	}
	response := &SurveyResponse{
		ID:          uuid.NewString(),
		SurveyID:    survey.ID,
		UserID:      userID,
		Answers:     trimmed,
		SubmittedAt: time.Now().UTC().Unix(),
	}
	if _, err := tx.NewInsert().Model(response).Exec(ctx); err != nil {
		return nil, fmt.Errorf("SubmitSurveyResponse: %w", err)
	}
	return response, nil
}

func HasResponded(ctx context.Context, db bun.IDB, surveyID, userID string) (bool, error) {
	exists, err := db.NewSelect().
		Model((*SurveyResponse)(nil)).
		Where("survey_id = ?", surveyID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("HasResponded: %w", err)
	}
	return exists, nil
}

type QuestionSummary struct {
	Question
	Answered int `json:"answered"`
	// rating questions
	Average float64 `json:"average,omitempty"`
	// choice questions
	Tally map[string]int `json:"tally,omitempty"`
	// text questions
	Texts []string `json:"texts,omitempty"`
}

type SurveySummary struct {
	SurveyID  string            `json:"survey_id"`
	Responses int               `json:"responses"`
	Questions []QuestionSummary `json:"questions"`
}

// Aggregates every response of the survey per question.
func SummarizeSurvey(ctx context.Context, db bun.IDB, survey *Survey) (*SurveySummary, error) {
	responses := make([]SurveyResponse, 0)
	if err := db.NewSelect().
		Model(&responses).
		Where("survey_id = ?", survey.ID).
		Order("submitted_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("SummarizeSurvey: %w", err)
	}

	summary := &SurveySummary{
		SurveyID:  survey.ID,
		Responses: len(responses),
		Questions: make([]QuestionSummary, len(survey.Questions)),
	}
	for i, q := range survey.Questions {
		qs := QuestionSummary{Question: q}
		if q.Kind == QuestionKindChoice {
			qs.Tally = make(map[string]int, len(q.Options))
			for _, option := range q.Options {
				qs.Tally[option] = 0
			}
		}
		total := 0
		for _, response := range responses {
			answer, ok := response.Answers[q.ID]
			if !ok || answer == "" {
				continue
			}
			qs.Answered++
			switch q.Kind {
			case QuestionKindRating:
				rating, _ := strconv.Atoi(answer)
				total += rating
			case QuestionKindChoice:
				qs.Tally[answer]++
			case QuestionKindText:
				qs.Texts = append(qs.Texts, answer)
			}
		}
		if q.Kind == QuestionKindRating && qs.Answered > 0 {
			qs.Average = float64(total) / float64(qs.Answered)
		}
		summary.Questions[i] = qs
	}
	return summary, nil
}
