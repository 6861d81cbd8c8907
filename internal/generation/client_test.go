package generation

import (
	"errors"
	"testing"
)

const validPayload = `[
  {
    "question": "What organelle produces ATP?",
    "topic": "Cell Biology",
    "options": [
      {"text": "Mitochondrion", "is_correct": true},
      {"text": "Nucleus", "is_correct": false},
      {"text": "Ribosome", "is_correct": false},
      {"text": "Golgi apparatus", "is_correct": false}
    ],
    "explanation": "Mitochondria run cellular respiration."
  },
  {
    "question": "Plant cells have cell walls.",
    "topic": "Cell Biology",
    "options": [
      {"text": "True", "is_correct": true},
      {"text": "False", "is_correct": false}
    ],
    "explanation": "The wall is made of cellulose."
  }
]`

func TestParseQuestions(t *testing.T) {
	questions, err := parseQuestions(validPayload)
	if err != nil {
		t.Fatalf("parseQuestions() error = %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("parsed %d questions, want 2", len(questions))
	}
	for i, q := range questions {
		if q.ID == "" {
			t.Errorf("question %d has no assigned id", i)
		}
		if !q.IsWellFormed() {
			t.Errorf("question %d is not well formed", i)
		}
	}
	if questions[0].CorrectOption() != 0 {
		t.Errorf("correct option = %d, want 0", questions[0].CorrectOption())
	}
}

func TestParseQuestions_MarkdownFence(t *testing.T) {
	fenced := "```json\n" + validPayload + "\n```"
	questions, err := parseQuestions(fenced)
	if err != nil {
		t.Fatalf("parseQuestions() error = %v", err)
	}
	if len(questions) != 2 {
		t.Errorf("parsed %d questions, want 2", len(questions))
	}
}

func TestParseQuestions_DropsMalformed(t *testing.T) {
	payload := `[
  {
    "question": "No correct answer marked",
    "topic": "Broken",
    "options": [
      {"text": "A", "is_correct": false},
      {"text": "B", "is_correct": false}
    ]
  },
  {
    "question": "Keeps the valid one",
    "topic": "Fine",
    "options": [
      {"text": "Yes", "is_correct": true},
      {"text": "No", "is_correct": false}
    ]
  }
]`

	questions, err := parseQuestions(payload)
	if err != nil {
		t.Fatalf("parseQuestions() error = %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("parsed %d questions, want the malformed one dropped", len(questions))
	}
	if questions[0].Question != "Keeps the valid one" {
		t.Errorf("kept %q, want the well formed question", questions[0].Question)
	}
}

func TestParseQuestions_AllMalformed(t *testing.T) {
	payload := `[{"question": "q", "options": [{"text": "A", "is_correct": false}]}]`
	if _, err := parseQuestions(payload); !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("parseQuestions() error = %v, want ErrNoQuestions", err)
	}
}

func TestParseQuestions_InvalidJSON(t *testing.T) {
	if _, err := parseQuestions("the model apologized instead of answering"); err == nil {
		t.Fatal("parseQuestions() error = nil, want decode failure")
	}
}

func TestParseQuestions_KeepsProvidedID(t *testing.T) {
	payload := `[{"id": "q-kept", "question": "q", "options": [{"text": "A", "is_correct": true}]}]`
	questions, err := parseQuestions(payload)
	if err != nil {
		t.Fatalf("parseQuestions() error = %v", err)
	}
	if questions[0].ID != "q-kept" {
		t.Errorf("id = %q, want q-kept", questions[0].ID)
	}
}
