package progress

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quizforge/core-service/internal/models"
)

// WeakTopicThreshold is the accuracy below which a topic surfaces as a
// recommendation.
const WeakTopicThreshold = 0.7

// Achievement is one rule in the fixed, ordered catalog. Rules are
// evaluated in order and fire at most once per user.
type Achievement struct {
	ID      string
	Title   string
	Message string
	Earned  func(p *models.StudentProgress, score, total int) bool
}

// Catalog is evaluated after every completed session, in order.
var Catalog = []Achievement{
	{
		ID:      "first_quiz",
		Title:   "First Steps",
		Message: "You completed your first quiz.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.QuizzesTaken >= 1
		},
	},
	{
		ID:      "perfect_score",
		Title:   "Flawless",
		Message: "You scored 100% on a quiz.",
		Earned: func(_ *models.StudentProgress, score, total int) bool {
			return total > 0 && score == total
		},
	},
	{
		ID:      "ten_quizzes",
		Title:   "Quiz Regular",
		Message: "You completed 10 quizzes.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.QuizzesTaken >= 10
		},
	},
	{
		ID:      "fifty_quizzes",
		Title:   "Quiz Veteran",
		Message: "You completed 50 quizzes.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.QuizzesTaken >= 50
		},
	},
	{
		ID:      "streak_3",
		Title:   "Warming Up",
		Message: "You practiced 3 days in a row.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.CurrentStreak >= 3
		},
	},
	{
		ID:      "streak_7",
		Title:   "On Fire",
		Message: "You practiced 7 days in a row.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.CurrentStreak >= 7
		},
	},
	{
		ID:      "streak_30",
		Title:   "Unstoppable",
		Message: "You practiced 30 days in a row.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.CurrentStreak >= 30
		},
	},
	{
		ID:      "hundred_questions",
		Title:   "Century",
		Message: "You answered 100 questions.",
		Earned: func(p *models.StudentProgress, _, _ int) bool {
			return p.TotalQuestions >= 100
		},
	},
}

// Notifier receives the user-visible side effect when an achievement fires.
type Notifier interface {
	NotifyAchievement(userID string, a Achievement)
}

// Engine owns streaks, achievements, daily history and derived analytics.
type Engine struct {
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
}

func NewEngine(logger *slog.Logger, notifier Notifier) *Engine {
	return &Engine{logger: logger, notifier: notifier, now: time.Now}
}

// NewEngineWithClock is test-only for deterministic dates.
func NewEngineWithClock(logger *slog.Logger, notifier Notifier, now func() time.Time) *Engine {
	return &Engine{logger: logger, notifier: notifier, now: now}
}

// RecordAnswer updates the per-topic running accuracy for one checked
// answer. This runs live during a session; streaks and history wait for
// FinalizeSession.
func (e *Engine) RecordAnswer(p *models.StudentProgress, topic string, correct bool) {
	if topic == "" {
		topic = "General"
	}
	if p.TopicHistory == nil {
		p.TopicHistory = make(map[string]*models.TopicStats)
	}
	stats, ok := p.TopicHistory[topic]
	if !ok {
		stats = &models.TopicStats{}
		p.TopicHistory[topic] = stats
	}
	stats.Total++
	if correct {
		stats.Correct++
	}
}

// FinalizeSession applies every end-of-session progression rule: streak,
// counters, recent-scores ring, daily history and achievement evaluation.
// Returns the achievements newly earned by this session.
func (e *Engine) FinalizeSession(userID string, p *models.StudentProgress, score, total int) []Achievement {
	e.UpdateStreak(p)

	p.QuizzesTaken++
	p.TotalScore += score
	p.TotalQuestions += total

	percentage := 0.0
	if total > 0 {
		percentage = float64(score) / float64(total) * 100
	}
	p.RecentScores = append(p.RecentScores, percentage)
	if len(p.RecentScores) > models.RecentScoresCap {
		p.RecentScores = p.RecentScores[len(p.RecentScores)-models.RecentScoresCap:]
	}

	e.recordDailyHistory(p, percentage)

	return e.evaluateAchievements(userID, p, score, total)
}

// UpdateStreak compares the last practice day with today at day
// granularity: same day leaves the streak alone, exactly one day prior
// increments it, any larger gap resets to 1.
func (e *Engine) UpdateStreak(p *models.StudentProgress) {
	today := models.DayKey(e.now())
	switch p.LastPracticeDay {
	case today:
		// Already practiced today.
	case models.DayKey(e.now().AddDate(0, 0, -1)):
		p.CurrentStreak++
	default:
		p.CurrentStreak = 1
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	p.LastPracticeDay = today
}

func (e *Engine) recordDailyHistory(p *models.StudentProgress, percentage float64) {
	today := models.DayKey(e.now())
	for i := range p.DailyHistory {
		if p.DailyHistory[i].Date == today {
			entry := &p.DailyHistory[i]
			entry.AvgScore = (entry.AvgScore*float64(entry.Quizzes) + percentage) / float64(entry.Quizzes+1)
			entry.Quizzes++
			return
		}
	}
	p.DailyHistory = append(p.DailyHistory, models.DailyEntry{
		Date:     today,
		Quizzes:  1,
		AvgScore: percentage,
	})
	if len(p.DailyHistory) > models.DailyHistoryCap {
		p.DailyHistory = p.DailyHistory[len(p.DailyHistory)-models.DailyHistoryCap:]
	}
}

func (e *Engine) evaluateAchievements(userID string, p *models.StudentProgress, score, total int) []Achievement {
	var earned []Achievement
	for _, a := range Catalog {
		if p.HasAchievement(a.ID) {
			continue
		}
		if !a.Earned(p, score, total) {
			continue
		}
		p.Achievements = append(p.Achievements, a.ID)
		earned = append(earned, a)
		if e.notifier != nil {
			e.notifier.NotifyAchievement(userID, a)
		}
		e.logger.Info("Achievement earned", "user_id", userID, "achievement", a.ID)
	}
	return earned
}

// WeakTopics returns the topics whose running accuracy sits below the
// recommendation threshold, derived from topicHistory rather than
// recomputed from submission logs.
func (e *Engine) WeakTopics(p *models.StudentProgress) []string {
	var weak []string
	for topic, stats := range p.TopicHistory {
		if stats.Total == 0 {
			continue
		}
		if float64(stats.Correct)/float64(stats.Total) < WeakTopicThreshold {
			weak = append(weak, topic)
		}
	}
	return weak
}

// CorrectRate returns a question's lifetime correctness rate, or an error
// when the question was never attempted.
func (e *Engine) CorrectRate(p *models.StudentProgress, questionID string) (float64, error) {
	history, ok := p.QuestionHistory[questionID]
	if !ok {
		return 0, fmt.Errorf("no history for question %s", questionID)
	}
	total := history.CorrectCount + history.WrongCount
	if total == 0 {
		return 0, fmt.Errorf("no attempts for question %s", questionID)
	}
	return float64(history.CorrectCount) / float64(total), nil
}
