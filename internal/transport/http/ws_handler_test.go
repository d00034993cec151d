package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"course-progression-service/internal/rbac"
)

func dialTelemetry(t *testing.T, api *testAPI, actor rbac.Actor, courseID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + api.server.URL[len("http"):] + "/ws/telemetry?courseId=" + courseID
	header := http.Header{}
	header.Set(HeaderUserID, actor.ID)
	header.Set(HeaderUserRole, actor.Role)
	return websocket.DefaultDialer.Dial(u, header)
}

func TestTelemetryFlow(t *testing.T) {
	api := newTestAPI(t)
	conn, _, err := dialTelemetry(t, api, asStudent, "course-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, "subscribed")

	progress := map[string]any{
		"type":    "progress",
		"payload": map[string]any{"videoId": "v1", "timeSpent": 95, "currentTime": 95, "playbackRate": 1},
	}
	if err := conn.WriteJSON(progress); err != nil {
		t.Fatalf("write progress: %v", err)
	}
	_, payload := readNext(conn, t, "progressResult")
	if payload["completed"] != true {
		t.Fatalf("expected completed video, got %v", payload)
	}

	env, status := api.createAttempt(t)
	if status != http.StatusCreated {
		t.Fatalf("create attempt: status %d", status)
	}

	answers := map[string]any{
		"type":    "answers",
		"payload": map[string]any{"attemptId": env.Attempt.ID, "answers": answersPayloadFor(env, 1)},
	}
	if err := conn.WriteJSON(answers); err != nil {
		t.Fatalf("write answers: %v", err)
	}
	readNext(conn, t, "answersSaved")

	violation := map[string]any{
		"type":    "violation",
		"payload": map[string]any{"attemptId": env.Attempt.ID, "reason": "tab_switch"},
	}
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(violation); err != nil {
			t.Fatalf("write violation: %v", err)
		}
		readNext(conn, t, "violationResult")
	}
	if err := conn.WriteJSON(violation); err != nil {
		t.Fatalf("write violation: %v", err)
	}

	// The lock update and the reply race each other onto the socket.
	resultSeen, lockSeen := false, false
	for i := 0; i < 2; i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "violationResult":
			resultSeen = payload["locked"] == true
		case "update":
			lockSeen = payload["type"] == "securityLocked"
		}
	}
	if !resultSeen || !lockSeen {
		t.Fatalf("expected locked violationResult and securityLocked update, got result=%v lock=%v", resultSeen, lockSeen)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "validation_error" {
		t.Fatalf("expected validation_error, got %v", payload)
	}
}

func TestTelemetryPushesUnlocks(t *testing.T) {
	api := newTestAPI(t)
	conn, _, err := dialTelemetry(t, api, asStudent, "course-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "subscribed")

	env, status := api.createAttempt(t)
	if status != http.StatusCreated {
		t.Fatalf("create attempt: status %d", status)
	}
	resp, _ := api.do(t, asStudent, http.MethodPost, "/attempts/"+env.Attempt.ID+"/submit",
		map[string]any{"answers": answersPayloadFor(env, 0)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}

	_, payload := readNext(conn, t, "update")
	if payload["type"] != "unlocked" {
		t.Fatalf("expected unlocked update, got %v", payload)
	}
}

func TestTelemetryRejectsBeforeUpgrade(t *testing.T) {
	api := newTestAPI(t)

	_, resp, err := dialTelemetry(t, api, rbac.Actor{ID: "stranger", Role: rbac.RoleStudent}, "course-1")
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}

	_, resp, err = dialTelemetry(t, api, asStudent, "")
	if err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing courseId, got err=%v resp=%v", err, resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
