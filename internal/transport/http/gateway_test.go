package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siemachinol/naruto-quiz-bot/internal/app"
	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
	"github.com/siemachinol/naruto-quiz-bot/internal/infra/memory"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type gatewayHarness struct {
	gateway *Gateway
	rounds  *app.RoundService
	server  *httptest.Server
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()

	bank := []domain.Question{{
		ID:     1,
		Prompt: "Who trained Naruto in senjutsu?",
		Options: map[domain.Label]string{
			domain.LabelA: "Fukasaku",
			domain.LabelB: "Orochimaru",
			domain.LabelC: "Kabuto",
			domain.LabelD: "Tsunade",
		},
		Correct: domain.LabelA,
	}}

	gateway := NewGateway()
	rounds := app.NewRoundService(gateway, memory.NewLeaderboardStore(),
		memory.NewQuestionRepository(memory.NewStaticBankLoader(bank), time.Hour), time.Minute)
	lifelines := app.NewLifelineService(rounds, memory.NewCooldownStore(), 168*time.Hour, true)
	gateway.Bind(rounds, lifelines)

	server := httptest.NewServer(nethttp.HandlerFunc(gateway.ServeWS))
	t.Cleanup(server.Close)

	return &gatewayHarness{gateway: gateway, rounds: rounds, server: server}
}

func (h *gatewayHarness) dial(t *testing.T, channelID, userID, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") +
		"?channelId=" + channelID + "&userId=" + userID + "&name=" + name
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// A served request proves the subscription is in place, so later
	// broadcasts cannot race the connect.
	send(t, conn, "cooldowns", struct{}{})
	if msg := read(t, conn); msg.Type != "cooldowns" {
		t.Fatalf("expected cooldowns handshake, got %q", msg.Type)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(envelope{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg envelope
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestServeWSRejectsMissingParams(t *testing.T) {
	h := newGatewayHarness(t)

	resp, err := nethttp.Get(h.server.URL + "?channelId=ch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestQuestionBroadcast(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	if _, err := h.rounds.StartRound(context.Background(), "ch-1"); err != nil {
		t.Fatalf("start round: %v", err)
	}

	msg := read(t, conn)
	if msg.Type != string(domain.MessageQuestion) {
		t.Fatalf("expected question broadcast, got %q", msg.Type)
	}
	var payload publishedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MessageID == "" || payload.ChannelID != "ch-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Message.Prompt == "" || len(payload.Message.Options) != 4 {
		t.Fatalf("question content missing, got %+v", payload.Message)
	}
}

func TestAnswerFlow(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	round, err := h.rounds.StartRound(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("start round: %v", err)
	}
	read(t, conn) // question broadcast

	send(t, conn, "answer", answerPayload{Label: "a"})
	msg := read(t, conn)
	if msg.Type != "answerResult" {
		t.Fatalf("expected answerResult, got %q", msg.Type)
	}
	var result answerResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Accepted || result.Label != "A" || result.RoundID != round.ID() {
		t.Fatalf("unexpected result %+v", result)
	}

	// Second answer from the same user is rejected.
	send(t, conn, "answer", answerPayload{Label: "B"})
	msg = read(t, conn)
	_ = json.Unmarshal(msg.Payload, &result)
	if result.Accepted {
		t.Fatalf("repeat answer must be rejected, got %+v", result)
	}
	if !strings.Contains(result.Message, "first answer") {
		t.Fatalf("unexpected rejection message %q", result.Message)
	}
}

func TestAnswerWithoutRound(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	send(t, conn, "answer", answerPayload{Label: "A"})
	msg := read(t, conn)
	var result answerResult
	_ = json.Unmarshal(msg.Payload, &result)
	if result.Accepted {
		t.Fatalf("no round, answer must be rejected")
	}
}

func TestLifelineOverWS(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	if _, err := h.rounds.StartRound(context.Background(), "ch-1"); err != nil {
		t.Fatalf("start round: %v", err)
	}
	read(t, conn) // question broadcast

	send(t, conn, "lifeline", lifelinePayload{Kind: string(domain.LifelineFiftyFifty)})
	msg := read(t, conn)
	if msg.Type != "lifelineResult" {
		t.Fatalf("expected lifelineResult, got %q", msg.Type)
	}
	var result lifelineResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Ok || len(result.Remaining) != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	hasCorrect := result.Remaining[0] == domain.LabelA || result.Remaining[1] == domain.LabelA
	if !hasCorrect {
		t.Fatalf("correct label must survive, got %v", result.Remaining)
	}

	// The per-round limit answers the immediate retry.
	send(t, conn, "lifeline", lifelinePayload{Kind: string(domain.LifelineFiftyFifty)})
	msg = read(t, conn)
	_ = json.Unmarshal(msg.Payload, &result)
	if result.Ok {
		t.Fatalf("repeat fifty-fifty must be rejected, got %+v", result)
	}
}

func TestStandingsOverWS(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	send(t, conn, "standings", standingsPayload{Window: string(domain.WindowAllTime)})
	msg := read(t, conn)
	if msg.Type != "standings" {
		t.Fatalf("expected standings, got %q", msg.Type)
	}
	var standings []domain.Standing
	if err := json.Unmarshal(msg.Payload, &standings); err != nil {
		t.Fatalf("unmarshal standings: %v", err)
	}
	if len(standings) != 0 {
		t.Fatalf("fresh leaderboard must be empty, got %v", standings)
	}
}

func TestUnknownMessageType(t *testing.T) {
	h := newGatewayHarness(t)
	conn := h.dial(t, "ch-1", "u1", "Alice")

	send(t, conn, "dance", struct{}{})
	msg := read(t, conn)
	if msg.Type != "error" {
		t.Fatalf("expected error, got %q", msg.Type)
	}
}

func TestPublishDuringDisconnects(t *testing.T) {
	h := newGatewayHarness(t)

	stop := make(chan struct{})
	done := make(chan struct{})
	var publishErr error
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				publishErr = fmt.Errorf("publish panicked: %v", r)
			}
		}()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := h.gateway.Publish(context.Background(), "ch-1", domain.Message{
				Kind: domain.MessageAlert,
				Text: "incoming",
			}); err != nil {
				publishErr = err
				return
			}
		}
	}()

	// Connections that drop while the broadcaster is busy must never
	// take the publishing goroutine down with them.
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "?channelId=ch-1&userId=u1&name=Alice"
	for i := 0; i < 200; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		_ = conn.Close()
	}

	select {
	case <-done:
		t.Fatalf("publisher stopped: %v", publishErr)
	default:
	}
	close(stop)
	<-done
	if publishErr != nil {
		t.Fatalf("publish failed: %v", publishErr)
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(Health))
	defer server.Close()

	resp, err := nethttp.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("expected ok body, got %q", body)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{50*time.Hour + 15*time.Minute, "2d 2h 15m"},
		{7 * 24 * time.Hour, "7d"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Fatalf("formatDuration(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
