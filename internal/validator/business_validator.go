package validator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/quizforge/core-service/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateQuizCreate validates quiz creation business rules
func (bv *BusinessValidator) ValidateQuizCreate(req *QuizCreateRequest) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	for i, q := range req.Questions {
		if !q.IsWellFormed() {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d]", i),
				Message: "must have at least two options with exactly one marked correct",
				Rule:    "well_formed_question",
			})
		}
	}

	return errors
}

// ValidateQuestionUpdate validates a question edit
func (bv *BusinessValidator) ValidateQuestionUpdate(req *QuestionUpdateRequest) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	if req.CorrectOption >= len(req.Options) {
		errors = append(errors, ValidationError{
			Field:   "correct_option",
			Message: "must index an existing option",
			Value:   req.CorrectOption,
			Rule:    "business_logic",
		})
	}

	if req.Type == models.QuestionTrueFalse && len(req.Options) != 2 {
		errors = append(errors, ValidationError{
			Field:   "options",
			Message: "true-false questions must have exactly two options",
			Value:   len(req.Options),
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateAssignmentCreate validates assignment creation business rules
func (bv *BusinessValidator) ValidateAssignmentCreate(req *AssignmentCreateRequest) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	if req.DueDate != nil && req.DueDate.Before(time.Now()) {
		errors = append(errors, ValidationError{
			Field:   "due_date",
			Message: "must be in the future",
			Value:   req.DueDate,
			Rule:    "business_logic",
		})
	}

	return errors
}

// registerBusinessRules registers custom business rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// Quiz title validation (1-200 characters)
	bv.validate.RegisterValidation("quiz_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	bv.validate.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		qType := fl.Field().String()
		validTypes := []models.QuestionType{models.QuestionMultipleChoice, models.QuestionTrueFalse}
		for _, vt := range validTypes {
			if models.QuestionType(qType) == vt {
				return true
			}
		}
		return false
	})

	bv.validate.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		level := fl.Field().String()
		validLevels := []models.DifficultyLevel{models.DifficultyBasic, models.DifficultyIntermediate, models.DifficultyAdvanced}
		for _, vl := range validLevels {
			if models.DifficultyLevel(level) == vl {
				return true
			}
		}
		return false
	})

	// Class codes use an unambiguous alphabet with fixed length
	bv.validate.RegisterValidation("class_code", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != models.ClassCodeLength {
			return false
		}
		for _, r := range code {
			if !strings.ContainsRune(models.ClassCodeAlphabet, r) {
				return false
			}
		}
		return true
	})

	bv.validate.RegisterValidation("plan_id", func(fl validator.FieldLevel) bool {
		plan := models.PlanID(fl.Field().String())
		return plan == models.PlanFree || plan == models.PlanPro
	})

	// Due date validation (must be in future)
	bv.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()

		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true
		}

		var dueDate time.Time
		if field.Kind() == reflect.Ptr {
			dueDate = field.Elem().Interface().(time.Time)
		} else {
			dueDate = field.Interface().(time.Time)
		}

		return dueDate.After(time.Now())
	})
}
