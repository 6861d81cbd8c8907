package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/google/uuid"
	"github.com/quizforge/core-service/internal/events"
	"github.com/quizforge/core-service/internal/models"
)

var (
	ErrClassNotFound        = errors.New("class not found")
	ErrAssignmentNotFound   = errors.New("assignment not found")
	ErrAlreadyJoined        = errors.New("student already joined class")
	ErrNotJoined            = errors.New("student is not in class")
	ErrDuplicateSubmission  = errors.New("submission already exists for assignment")
	ErrCodeGenerationFailed = errors.New("could not generate a unique class code")
)

// IsNotFoundError reports whether err represents a missing record at any
// layer.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrAssignmentNotFound) ||
		errors.Is(err, ErrDocNotFound)
}

// CollectionStore is the query adapter over the multi-document collections:
// classes, assignments, submissions and notifications. These are the
// collections multiple users write concurrently, so they live behind the
// relational store rather than inside any single user's aggregate blob.
type CollectionStore struct {
	db        *gorm.DB
	publisher events.EventPublisher
	logger    *slog.Logger
}

func NewCollectionStore(db *gorm.DB, publisher events.EventPublisher, logger *slog.Logger) *CollectionStore {
	return &CollectionStore{db: db, publisher: publisher, logger: logger}
}

// ===== CLASSES =====

func (s *CollectionStore) GetClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	err := s.db.WithContext(ctx).Preload("Students").First(&class, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	return &class, nil
}

func (s *CollectionStore) GetClassByCode(ctx context.Context, code string) (*models.Class, error) {
	var class models.Class
	err := s.db.WithContext(ctx).Preload("Students").First(&class, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("get class by code: %w", err)
	}
	return &class, nil
}

func (s *CollectionStore) GetClassesByTeacher(ctx context.Context, teacherID string) ([]models.Class, error) {
	var classes []models.Class
	err := s.db.WithContext(ctx).Preload("Students").
		Where("teacher_id = ?", teacherID).
		Order("created_at asc").
		Find(&classes).Error
	if err != nil {
		return nil, fmt.Errorf("get classes by teacher: %w", err)
	}
	return classes, nil
}

// CreateClass persists a new class, regenerating the join code on collision
// a bounded number of times. Code collisions are rare (32^6 space) but no
// longer silently possible.
func (s *CollectionStore) CreateClass(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.New().String()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = time.Now()
	}

	const maxCodeAttempts = 5
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if class.Code == "" {
			class.Code = models.NewClassCode()
		}
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Class{}).
			Where("code = ?", class.Code).Count(&count).Error; err != nil {
			return fmt.Errorf("check class code: %w", err)
		}
		if count == 0 {
			break
		}
		class.Code = ""
		if attempt == maxCodeAttempts-1 {
			return ErrCodeGenerationFailed
		}
	}

	if err := s.db.WithContext(ctx).Create(class).Error; err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// SaveClass upserts the canonical class document. Used by the sync-on-login
// path when a locally known class has not reached the collection yet.
func (s *CollectionStore) SaveClass(ctx context.Context, class *models.Class) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(class).Error
	if err != nil {
		return fmt.Errorf("save class: %w", err)
	}
	return nil
}

// AddStudent appends a student to the roster atomically. The class row is
// locked for the duration of the read-modify-write so two students joining
// at once both land on the roster.
func (s *CollectionStore) AddStudent(ctx context.Context, classID string, student models.ClassStudent) (*models.Class, error) {
	var updated *models.Class
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var class models.Class
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&class, "id = ?", classID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassNotFound
			}
			return fmt.Errorf("lock class: %w", err)
		}

		var count int64
		if err := tx.Model(&models.ClassStudent{}).
			Where("class_id = ? AND student_id = ?", classID, student.StudentID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check roster: %w", err)
		}
		if count > 0 {
			return ErrAlreadyJoined
		}

		student.ClassID = classID
		if student.JoinedAt.IsZero() {
			student.JoinedAt = time.Now()
		}
		if err := tx.Create(&student).Error; err != nil {
			return fmt.Errorf("append to roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err = s.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	s.publishClassUpdated(ctx, updated)
	return updated, nil
}

// RemoveStudent deletes a roster entry under the same row lock as AddStudent.
func (s *CollectionStore) RemoveStudent(ctx context.Context, classID, studentID string) (*models.Class, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var class models.Class
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&class, "id = ?", classID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrClassNotFound
			}
			return fmt.Errorf("lock class: %w", err)
		}

		result := tx.Where("class_id = ? AND student_id = ?", classID, studentID).
			Delete(&models.ClassStudent{})
		if result.Error != nil {
			return fmt.Errorf("remove from roster: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotJoined
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	s.publishClassUpdated(ctx, updated)
	return updated, nil
}

func (s *CollectionStore) DeleteClass(ctx context.Context, classID string) error {
	if err := s.db.WithContext(ctx).Delete(&models.Class{}, "id = ?", classID).Error; err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return nil
}

func (s *CollectionStore) publishClassUpdated(ctx context.Context, class *models.Class) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(events.TopicClassUpdated, class)
	if err != nil {
		s.logger.Error("Failed to build class event", "class_id", class.ID, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, events.ClassTopic(class.ID), event); err != nil {
		s.logger.Error("Failed to publish class update", "class_id", class.ID, "error", err)
	}
}

// ===== ASSIGNMENTS =====

func (s *CollectionStore) CreateAssignment(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.New().String()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(assignment).Error; err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (s *CollectionStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	var assignment models.Assignment
	err := s.db.WithContext(ctx).First(&assignment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return &assignment, nil
}

func (s *CollectionStore) GetAssignmentsByClassIDs(ctx context.Context, classIDs []string) ([]models.Assignment, error) {
	if len(classIDs) == 0 {
		return nil, nil
	}
	var assignments []models.Assignment
	err := s.db.WithContext(ctx).
		Where("class_id IN ?", classIDs).
		Order("created_at asc").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("get assignments by classes: %w", err)
	}
	return assignments, nil
}

func (s *CollectionStore) GetAssignmentsByTeacher(ctx context.Context, teacherID string) ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := s.db.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Order("created_at asc").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("get assignments by teacher: %w", err)
	}
	return assignments, nil
}

// ===== SUBMISSIONS =====

// CreateSubmission appends a submission. Uniqueness per (assignment,
// student) is enforced both by a pre-insert check inside the transaction and
// by the unique index, so a double submit never produces two rows.
func (s *CollectionStore) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	if submission.ID == "" {
		submission.ID = uuid.New().String()
	}
	if submission.SubmittedAt.IsZero() {
		submission.SubmittedAt = time.Now()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Submission{}).
			Where("assignment_id = ? AND student_id = ?", submission.AssignmentID, submission.StudentID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("check existing submission: %w", err)
		}
		if count > 0 {
			return ErrDuplicateSubmission
		}
		if err := tx.Create(submission).Error; err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.publisher != nil {
		event, err := events.NewEvent(events.TopicSubmissionCreated, submission)
		if err == nil {
			if err := s.publisher.Publish(ctx, events.AssignmentTopic(submission.AssignmentID), event); err != nil {
				s.logger.Error("Failed to publish submission", "submission_id", submission.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *CollectionStore) GetSubmissionsByAssignmentIDs(ctx context.Context, assignmentIDs []string) ([]models.Submission, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	var submissions []models.Submission
	err := s.db.WithContext(ctx).
		Where("assignment_id IN ?", assignmentIDs).
		Order("submitted_at asc").
		Find(&submissions).Error
	if err != nil {
		return nil, fmt.Errorf("get submissions by assignments: %w", err)
	}
	return submissions, nil
}

func (s *CollectionStore) GetSubmissionsByStudent(ctx context.Context, studentID string) ([]models.Submission, error) {
	var submissions []models.Submission
	err := s.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("submitted_at asc").
		Find(&submissions).Error
	if err != nil {
		return nil, fmt.Errorf("get submissions by student: %w", err)
	}
	return submissions, nil
}

// ===== NOTIFICATIONS =====

func (s *CollectionStore) CreateNotification(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	if s.publisher != nil {
		event, err := events.NewEvent(events.TopicNotificationCreated, notification)
		if err == nil {
			if err := s.publisher.Publish(ctx, events.UserTopic(notification.UserID), event); err != nil {
				s.logger.Error("Failed to publish notification", "notification_id", notification.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *CollectionStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (s *CollectionStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
