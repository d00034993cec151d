package http

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/progression"
	"course-progression-service/internal/rbac"
)

func actorOf(r *http.Request) rbac.Actor {
	actor, _ := rbac.ActorFromContext(r.Context())
	return actor
}

// studentScope resolves whose progress a request reads. Staff with
// progress:view-all may name another student through ?studentId=.
func (h *Handlers) studentScope(r *http.Request) (string, error) {
	actor := actorOf(r)
	other := r.URL.Query().Get("studentId")
	if other == "" || other == actor.ID {
		return actor.ID, nil
	}
	if !h.checker.Has(actor.Role, rbac.PermProgressViewAll) {
		return "", domain.ErrUnauthorized
	}
	return other, nil
}

func (h *Handlers) GetContent(w http.ResponseWriter, r *http.Request) {
	studentID, err := h.studentScope(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	view, err := h.progress.Content(r.Context(), studentID, chi.URLParam(r, "courseID"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handlers) GetOverview(w http.ResponseWriter, r *http.Request) {
	studentID, err := h.studentScope(r)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	ov, err := h.progress.Overview(r.Context(), studentID, chi.URLParam(r, "courseID"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ov)
}

type progressRequest struct {
	TimeSpent    float64 `json:"timeSpent"`
	CurrentTime  float64 `json:"currentTime"`
	PlaybackRate float64 `json:"playbackRate"`
}

func (h *Handlers) RecordProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	res, err := h.progress.RecordWatchProgress(r.Context(), actorOf(r).ID, chi.URLParam(r, "courseID"), progression.WatchPing{
		VideoID:      chi.URLParam(r, "videoID"),
		TimeSpent:    req.TimeSpent,
		CurrentTime:  req.CurrentTime,
		PlaybackRate: req.PlaybackRate,
	})
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newWatchResponse(res))
}

type createAttemptRequest struct {
	QuizID string `json:"quizId"`
	PoolID string `json:"poolId"`
}

func (r createAttemptRequest) source() (domain.AttemptSource, error) {
	switch {
	case r.QuizID != "" && r.PoolID != "":
		return domain.AttemptSource{}, domain.Invalid("source", "give either quizId or poolId")
	case r.QuizID != "":
		return domain.QuizSource(r.QuizID), nil
	case r.PoolID != "":
		return domain.PoolSource(r.PoolID), nil
	}
	return domain.AttemptSource{}, domain.Invalid("source", "quizId or poolId is required")
}

func (h *Handlers) CreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	src, err := req.source()
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	res, err := h.progress.CreateAttempt(r.Context(), actorOf(r).ID, chi.URLParam(r, "courseID"), src)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]any{"resumed": res.Resumed, "attempt": newAttemptView(res.Attempt)})
}

func (h *Handlers) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.progress.GetAttempt(r.Context(), actorOf(r).ID, chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAttemptView(attempt))
}

type answersRequest struct {
	Answers []answerInput `json:"answers"`
}

type answerInput struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
}

func (req answersRequest) toDomain() []domain.Answer {
	out := make([]domain.Answer, 0, len(req.Answers))
	for _, a := range req.Answers {
		out = append(out, domain.Answer{QuestionID: a.QuestionID, SelectedOption: a.SelectedOption})
	}
	return out
}

func (h *Handlers) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req answersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	attempt, err := h.progress.SaveAnswers(r.Context(), actorOf(r).ID, chi.URLParam(r, "attemptID"), req.toDomain())
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAttemptView(attempt))
}

type violationRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) RecordViolation(w http.ResponseWriter, r *http.Request) {
	var req violationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	res, err := h.progress.RecordViolation(r.Context(), actorOf(r).ID, chi.URLParam(r, "attemptID"), req.Reason)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newViolationResponse(res))
}

type submitRequest struct {
	Answers       []answerInput `json:"answers"`
	Violations    int           `json:"securityViolations"`
	AutoSubmitted bool          `json:"autoSubmitted"`
	Reason        string        `json:"reason"`
}

func (h *Handlers) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	var answers []domain.Answer
	if req.Answers != nil {
		answers = answersRequest{Answers: req.Answers}.toDomain()
	}
	res, err := h.progress.SubmitAttempt(r.Context(), actorOf(r).ID, chi.URLParam(r, "attemptID"), answers, app.Telemetry{
		Violations:    req.Violations,
		AutoSubmitted: req.AutoSubmitted,
		Reason:        req.Reason,
	})
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSubmitResponse(res))
}

type submitReviewRequest struct {
	QuizID     string `json:"quizId"`
	QuestionID string `json:"questionId"`
}

func (h *Handlers) SubmitForReview(w http.ResponseWriter, r *http.Request) {
	var req submitReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	review, err := h.reviews.SubmitForReview(r.Context(), actorOf(r),
		chi.URLParam(r, "courseID"), chi.URLParam(r, "unitID"), req.QuizID, req.QuestionID)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, review)
}

func (h *Handlers) EligibleQuestions(w http.ResponseWriter, r *http.Request) {
	eligible, err := h.reviews.EligibleQuestions(r.Context(), chi.URLParam(r, "courseID"), chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	ids := make([]string, 0, len(eligible.Questions))
	for id := range eligible.Questions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	respondJSON(w, http.StatusOK, map[string]any{"questionIds": ids, "legacy": eligible.Legacy})
}

type resolveReviewRequest struct {
	Action domain.ReviewAction `json:"action"`
	Note   string              `json:"note"`
}

func (h *Handlers) ResolveReview(w http.ResponseWriter, r *http.Request) {
	var req resolveReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	review, err := h.reviews.Review(r.Context(), actorOf(r), chi.URLParam(r, "reviewID"), req.Action, req.Note)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

type unlockRequest struct {
	StudentID string `json:"studentId"`
	Note      string `json:"note"`
}

func (h *Handlers) UnlockSecurity(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	if req.StudentID == "" {
		writeError(w, h.log, r, domain.Invalid("studentId", "required"))
		return
	}
	lock, err := h.progress.UnlockSecurityLock(r.Context(), actorOf(r), req.StudentID,
		chi.URLParam(r, "courseID"), chi.URLParam(r, "unitID"), req.Note)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lock)
}

type grantRequest struct {
	StudentID string `json:"studentId"`
	Count     int    `json:"count"`
}

func (h *Handlers) GrantAttempts(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, r, domain.Invalid("body", err.Error()))
		return
	}
	if req.StudentID == "" {
		writeError(w, h.log, r, domain.Invalid("studentId", "required"))
		return
	}
	res, err := h.progress.GrantExtraAttempts(r.Context(), actorOf(r), req.StudentID,
		chi.URLParam(r, "courseID"), chi.URLParam(r, "unitID"), req.Count)
	if err != nil {
		writeError(w, h.log, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
