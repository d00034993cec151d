package domain

import "time"

// Clone returns a deep copy of the ledger so callers can mutate it without
// aliasing a stored snapshot.
func (l *ProgressLedger) Clone() *ProgressLedger {
	if l == nil {
		return nil
	}
	out := *l
	out.Units = make([]UnitProgress, len(l.Units))
	for i := range l.Units {
		out.Units[i] = l.Units[i].clone()
	}
	return &out
}

func (u UnitProgress) clone() UnitProgress {
	out := u
	out.UnlockedAt = cloneTime(u.UnlockedAt)
	out.CompletedAt = cloneTime(u.CompletedAt)
	if u.Videos != nil {
		out.Videos = make(map[string]*VideoProgress, len(u.Videos))
		for id, vp := range u.Videos {
			cp := *vp
			out.Videos[id] = &cp
		}
	}
	if u.QuizAttempts != nil {
		out.QuizAttempts = make([]QuizAttempt, len(u.QuizAttempts))
		for i := range u.QuizAttempts {
			out.QuizAttempts[i] = u.QuizAttempts[i].Clone()
		}
	}
	out.SecurityLock.LockedAt = cloneTime(u.SecurityLock.LockedAt)
	if u.SecurityLock.UnlockHistory != nil {
		out.SecurityLock.UnlockHistory = append([]UnlockRecord(nil), u.SecurityLock.UnlockHistory...)
	}
	return out
}

// Clone returns a deep copy of the attempt.
func (a QuizAttempt) Clone() QuizAttempt {
	out := a
	if a.Questions != nil {
		out.Questions = make([]Question, len(a.Questions))
		for i, q := range a.Questions {
			q.Options = append([]string(nil), q.Options...)
			out.Questions[i] = q
		}
	}
	if a.Answers != nil {
		out.Answers = append([]Answer(nil), a.Answers...)
	}
	out.SubmittedAt = cloneTime(a.SubmittedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
