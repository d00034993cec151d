package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"course-progression-service/internal/app"
	"course-progression-service/internal/domain"
	"course-progression-service/internal/logger"
	"course-progression-service/internal/progression"
)

// WSHandler carries the in-player telemetry channel: watch pings,
// proctoring violations and answer autosaves in, ledger updates out.
type WSHandler struct {
	service  *app.ProgressService
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ProgressService, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type progressPayload struct {
	VideoID      string  `json:"videoId"`
	TimeSpent    float64 `json:"timeSpent"`
	CurrentTime  float64 `json:"currentTime"`
	PlaybackRate float64 `json:"playbackRate"`
}

type violationPayload struct {
	AttemptID string `json:"attemptId"`
	Reason    string `json:"reason"`
}

type answersPayload struct {
	AttemptID string        `json:"attemptId"`
	Answers   []answerInput `json:"answers"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func wsError(err error) outboundMessage[any] {
	body := errorPayload{Message: err.Error()}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			body.Code = ec.code
			break
		}
	}
	return outboundMessage[any]{Type: "error", Payload: body}
}

// ServeWS upgrades the request and binds it to the caller's ledger for
// ?courseId=.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("courseId")
	if courseID == "" {
		writeError(w, h.log, r, domain.Invalid("courseId", "required"))
		return
	}
	studentID := actorOf(r).ID
	if _, err := h.service.Ensure(r.Context(), studentID, courseID); err != nil {
		writeError(w, h.log, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	key := domain.LedgerKey{StudentID: studentID, CourseID: courseID}
	updates, cancel := h.service.Notifier().Subscribe(key)
	defer cancel()
	h.log.Debug("telemetry connected", "student", studentID, "course", courseID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", "student", studentID, "err", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "update", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "subscribed", Payload: map[string]string{"studentId": studentID, "courseId": courseID}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		send <- h.dispatch(r, studentID, courseID, inbound)
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	h.log.Debug("telemetry disconnected", "student", studentID, "course", courseID)
}

func (h *WSHandler) dispatch(r *http.Request, studentID, courseID string, inbound inboundMessage) outboundMessage[any] {
	ctx := r.Context()
	switch inbound.Type {
	case "progress":
		var p progressPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return wsError(domain.Invalid("payload", "invalid progress payload"))
		}
		res, err := h.service.RecordWatchProgress(ctx, studentID, courseID, progression.WatchPing{
			VideoID:      p.VideoID,
			TimeSpent:    p.TimeSpent,
			CurrentTime:  p.CurrentTime,
			PlaybackRate: p.PlaybackRate,
		})
		if err != nil {
			return wsError(err)
		}
		return outboundMessage[any]{Type: "progressResult", Payload: newWatchResponse(res)}
	case "violation":
		var p violationPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return wsError(domain.Invalid("payload", "invalid violation payload"))
		}
		res, err := h.service.RecordViolation(ctx, studentID, p.AttemptID, p.Reason)
		if err != nil {
			return wsError(err)
		}
		return outboundMessage[any]{Type: "violationResult", Payload: newViolationResponse(res)}
	case "answers":
		var p answersPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return wsError(domain.Invalid("payload", "invalid answers payload"))
		}
		attempt, err := h.service.SaveAnswers(ctx, studentID, p.AttemptID, answersRequest{Answers: p.Answers}.toDomain())
		if err != nil {
			return wsError(err)
		}
		return outboundMessage[any]{Type: "answersSaved", Payload: newAttemptView(attempt)}
	}
	return wsError(domain.Invalid("type", "unsupported message type"))
}
