package models

import (
	"crypto/rand"
	"time"
)

// ClassCodeAlphabet excludes I, O, 0 and 1 so codes survive being read
// aloud or copied from a whiteboard.
const ClassCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const ClassCodeLength = 6

type Class struct {
	ID          string         `json:"id" gorm:"primaryKey;size:64"`
	Name        string         `json:"name" gorm:"not null;size:200"`
	Code        string         `json:"code" gorm:"uniqueIndex;not null;size:12"`
	TeacherID   string         `json:"teacher_id" gorm:"not null;index;size:255"`
	TeacherName string         `json:"teacher_name" gorm:"size:100"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"-"`
	Students    []ClassStudent `json:"students" gorm:"foreignKey:ClassID;constraint:OnDelete:CASCADE"`
}

func (Class) TableName() string {
	return "classes"
}

type ClassStudent struct {
	ClassID   string    `json:"-" gorm:"primaryKey;size:64"`
	StudentID string    `json:"id" gorm:"primaryKey;column:student_id;size:255"`
	Name      string    `json:"name" gorm:"size:100"`
	Email     string    `json:"email" gorm:"size:255"`
	JoinedAt  time.Time `json:"joined_at"`
}

func (ClassStudent) TableName() string {
	return "class_students"
}

// NewClassCode generates a join code over the unambiguous alphabet.
// Uniqueness is checked by the caller against the classes collection.
func NewClassCode() string {
	buf := make([]byte, ClassCodeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to
		// a constant-free zero code rather than panicking mid-request.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	code := make([]byte, ClassCodeLength)
	for i, b := range buf {
		code[i] = ClassCodeAlphabet[int(b)%len(ClassCodeAlphabet)]
	}
	return string(code)
}

// HasStudent reports roster membership by student id.
func (c *Class) HasStudent(studentID string) bool {
	for _, s := range c.Students {
		if s.StudentID == studentID {
			return true
		}
	}
	return false
}
