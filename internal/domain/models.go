package domain

import "time"

// Course is the ordered list of units a student progresses through.
type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Units []Unit `json:"units"`
}

// Unit is one ordered block of course content. Order starts at 0 and is
// strictly increasing within a course.
type Unit struct {
	ID       string          `json:"id"`
	CourseID string          `json:"courseId"`
	Title    string          `json:"title"`
	Order    int             `json:"order"`
	Deadline *DeadlinePolicy `json:"deadline,omitempty"`
	Videos   []Video         `json:"videos"`
	Quizzes  []Quiz          `json:"quizzes,omitempty"`
	Pool     *QuizPool       `json:"pool,omitempty"`
}

// HasQuiz reports whether completing the unit requires passing an assessment.
func (u Unit) HasQuiz() bool {
	return u.Pool != nil || len(u.Quizzes) > 0
}

// Video belongs to a unit. Sequence starts at 1.
type Video struct {
	ID       string  `json:"id"`
	UnitID   string  `json:"unitId"`
	Title    string  `json:"title"`
	Sequence int     `json:"sequence"`
	Duration float64 `json:"duration"` // seconds, 0 when unknown
}

// DeadlinePolicy configures an optional unit deadline.
type DeadlinePolicy struct {
	Deadline    time.Time `json:"deadline"`
	Strict      bool      `json:"strict"`
	WarningDays int       `json:"warningDays"`
	Description string    `json:"description,omitempty"`
}

// Question is an authored multiple choice question.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	Points        int      `json:"points"`
}

// Score returns the points a correct answer is worth. Negative values
// count as zero.
func (q Question) Score() int {
	if q.Points < 0 {
		return 0
	}
	return q.Points
}

// Quiz is a teacher-authored set of questions attached to a unit.
type Quiz struct {
	ID           string        `json:"id"`
	UnitID       string        `json:"unitId"`
	Title        string        `json:"title"`
	AuthorID     string        `json:"authorId"`
	TimeLimit    time.Duration `json:"timeLimit"`
	PassingScore float64       `json:"passingScore"`
	Questions    []Question    `json:"questions"`
}

// QuizPool aggregates the questions of one or more quizzes of a unit.
type QuizPool struct {
	ID                  string        `json:"id"`
	UnitID              string        `json:"unitId"`
	QuizIDs             []string      `json:"quizIds"`
	QuestionsPerAttempt int           `json:"questionsPerAttempt"`
	TimeLimit           time.Duration `json:"timeLimit"`
	PassingScore        float64       `json:"passingScore"`
}

// DefaultPassingScore applies when a quiz or pool does not configure one.
const DefaultPassingScore = 70.0

// SourceKind tags which kind of assessment an attempt draws from.
type SourceKind string

const (
	SourceQuiz SourceKind = "quiz"
	SourcePool SourceKind = "pool"
)

// AttemptSource is a tagged reference to either a quiz or a quiz pool.
type AttemptSource struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

func QuizSource(id string) AttemptSource { return AttemptSource{Kind: SourceQuiz, ID: id} }
func PoolSource(id string) AttemptSource { return AttemptSource{Kind: SourcePool, ID: id} }

// Valid reports whether the source carries a known kind and an id.
func (s AttemptSource) Valid() bool {
	return (s.Kind == SourceQuiz || s.Kind == SourcePool) && s.ID != ""
}

func (s AttemptSource) String() string { return string(s.Kind) + ":" + s.ID }

// AttemptStatus is the lifecycle state of a quiz attempt.
type AttemptStatus string

const (
	AttemptCreated       AttemptStatus = "created"
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
)

// Terminal reports whether the attempt can no longer change.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptAutoSubmitted
}

// Answer is a student's selection for one snapshotted question.
type Answer struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	IsCorrect      bool   `json:"isCorrect"`
	Points         int    `json:"points"`
}

// QuizAttempt is one sitting of a quiz. Questions is the snapshot sampled at
// creation; after a terminal status the attempt is immutable.
type QuizAttempt struct {
	ID                     string        `json:"id"`
	StudentID              string        `json:"studentId"`
	CourseID               string        `json:"courseId"`
	UnitID                 string        `json:"unitId"`
	Source                 AttemptSource `json:"source"`
	Questions              []Question    `json:"questions"`
	Status                 AttemptStatus `json:"status"`
	Answers                []Answer      `json:"answers"`
	Score                  int           `json:"score"`
	MaxScore               int           `json:"maxScore"`
	Percentage             float64       `json:"percentage"`
	PassingScore           float64       `json:"passingScore"`
	Passed                 bool          `json:"passed"`
	TimeLimit              time.Duration `json:"timeLimit"`
	SecurityViolations     int           `json:"securityViolations"`
	AutoSubmitted          bool          `json:"autoSubmitted"`
	TimedOut               bool          `json:"timedOut"`
	CompletedAfterDeadline bool          `json:"completedAfterDeadline"`
	StartedAt              time.Time     `json:"startedAt"`
	SubmittedAt            *time.Time    `json:"submittedAt,omitempty"`
}

// Open reports whether the attempt still accepts answers.
func (a QuizAttempt) Open() bool { return !a.Status.Terminal() }

// UnitStatus is the coarse progress of a unit for a student.
type UnitStatus string

const (
	UnitLocked     UnitStatus = "locked"
	UnitInProgress UnitStatus = "in_progress"
	UnitCompleted  UnitStatus = "completed"
)

// VideoProgress is what the ledger knows about one video for a student.
type VideoProgress struct {
	Unlocked             bool      `json:"unlocked"`
	TimeSpent            float64   `json:"timeSpent"`
	LastPosition         float64   `json:"lastPosition"`
	Completed            bool      `json:"completed"`
	WatchedAfterDeadline bool      `json:"watchedAfterDeadline"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// UnlockRecord is one authorized release of a security lock.
type UnlockRecord struct {
	ActorID        string    `json:"actorId"`
	ActorRole      string    `json:"actorRole"`
	Note           string    `json:"note,omitempty"`
	ViolationCount int       `json:"violationCount"`
	At             time.Time `json:"at"`
}

// SecurityLock holds proctoring state for a unit. ViolationCount is
// cumulative and survives unlocks.
type SecurityLock struct {
	Locked         bool           `json:"locked"`
	Reason         string         `json:"reason,omitempty"`
	ViolationCount int            `json:"violationCount"`
	LockedAt       *time.Time     `json:"lockedAt,omitempty"`
	UnlockHistory  []UnlockRecord `json:"unlockHistory,omitempty"`
}

// UnitProgress is a student's state within one unit.
type UnitProgress struct {
	UnitID         string                    `json:"unitId"`
	Order          int                       `json:"order"`
	Unlocked       bool                      `json:"unlocked"`
	Status         UnitStatus                `json:"status"`
	UnlockedAt     *time.Time                `json:"unlockedAt,omitempty"`
	CompletedAt    *time.Time                `json:"completedAt,omitempty"`
	Videos         map[string]*VideoProgress `json:"videos"`
	QuizAttempts   []QuizAttempt             `json:"quizAttempts"`
	UnitQuizPassed bool                      `json:"unitQuizPassed"`
	ExtraAttempts  int                       `json:"extraAttempts"`
	SecurityLock   SecurityLock              `json:"securityLock"`
}

// Video returns the progress record of a video, creating it when absent.
func (u *UnitProgress) Video(videoID string) *VideoProgress {
	if u.Videos == nil {
		u.Videos = make(map[string]*VideoProgress)
	}
	vp, ok := u.Videos[videoID]
	if !ok {
		vp = &VideoProgress{}
		u.Videos[videoID] = vp
	}
	return vp
}

// VideoUnlocked reports whether the student may watch the video.
func (u *UnitProgress) VideoUnlocked(videoID string) bool {
	vp, ok := u.Videos[videoID]
	return ok && vp.Unlocked
}

// VideoCompleted reports whether the video was credited as watched.
func (u *UnitProgress) VideoCompleted(videoID string) bool {
	vp, ok := u.Videos[videoID]
	return ok && vp.Completed
}

// Attempt finds an attempt by id.
func (u *UnitProgress) Attempt(attemptID string) (*QuizAttempt, bool) {
	for i := range u.QuizAttempts {
		if u.QuizAttempts[i].ID == attemptID {
			return &u.QuizAttempts[i], true
		}
	}
	return nil, false
}

// TeacherUnlockCount is the number of security unlocks granted so far; each
// one restores the attempt consumed by the auto-submission that caused it.
func (u *UnitProgress) TeacherUnlockCount() int {
	return len(u.SecurityLock.UnlockHistory)
}

// LedgerKey identifies a progress ledger.
type LedgerKey struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}

func (k LedgerKey) String() string { return k.StudentID + "/" + k.CourseID }

// ProgressLedger is the per-student, per-course aggregate. Version is the
// optimistic concurrency stamp; stores bump it on every successful save.
type ProgressLedger struct {
	StudentID string         `json:"studentId"`
	CourseID  string         `json:"courseId"`
	Units     []UnitProgress `json:"units"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (l *ProgressLedger) Key() LedgerKey {
	return LedgerKey{StudentID: l.StudentID, CourseID: l.CourseID}
}

// Unit returns the progress row of a unit.
func (l *ProgressLedger) Unit(unitID string) (*UnitProgress, bool) {
	for i := range l.Units {
		if l.Units[i].UnitID == unitID {
			return &l.Units[i], true
		}
	}
	return nil, false
}

// FindAttempt locates an attempt and the unit row that owns it.
func (l *ProgressLedger) FindAttempt(attemptID string) (*UnitProgress, *QuizAttempt, bool) {
	for i := range l.Units {
		if a, ok := l.Units[i].Attempt(attemptID); ok {
			return &l.Units[i], a, true
		}
	}
	return nil, nil, false
}

// ReviewStatus is the approval state of an authored question.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewFlagged  ReviewStatus = "flagged"
	ReviewRejected ReviewStatus = "rejected"
)

// ReviewAction is a transition requested on a question review.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionFlag    ReviewAction = "flag"
	ActionReject  ReviewAction = "reject"
)

// QuestionReview tracks approval of one authored question for a course unit.
type QuestionReview struct {
	ID          string       `json:"id"`
	QuestionID  string       `json:"questionId"`
	QuizID      string       `json:"quizId"`
	CourseID    string       `json:"courseId"`
	UnitID      string       `json:"unitId"`
	Status      ReviewStatus `json:"status"`
	UploaderID  string       `json:"uploaderId"`
	ResolverID  string       `json:"resolverId,omitempty"`
	Note        string       `json:"note,omitempty"`
	SubmittedAt time.Time    `json:"submittedAt"`
	ResolvedAt  *time.Time   `json:"resolvedAt,omitempty"`
}
