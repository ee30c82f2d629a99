package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/siemachinol/naruto-quiz-bot/internal/app"
	"github.com/siemachinol/naruto-quiz-bot/internal/domain"
)

// Gateway is the in-process chat gateway: it fans published messages
// out to WebSocket subscribers per channel and routes inbound answer
// and lifeline interactions into the engine. It implements
// app.Publisher, so the round service and scheduler publish through it
// without knowing about WebSockets.
type Gateway struct {
	rounds    *app.RoundService
	lifelines *app.LifelineService
	upgrader  websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]map[*client]struct{}
}

// NewGateway builds an unbound hub. The gateway is handed to the
// services as their Publisher before the services exist from its point
// of view, so interaction routing is attached afterwards with Bind.
func NewGateway() *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		channels: make(map[string]map[*client]struct{}),
	}
}

// Bind attaches the services that inbound interactions are routed to.
// Must be called before ServeWS accepts connections.
func (g *Gateway) Bind(rounds *app.RoundService, lifelines *app.LifelineService) {
	g.rounds = rounds
	g.lifelines = lifelines
}

type client struct {
	send chan outboundMessage[any]
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type publishedPayload struct {
	MessageID string         `json:"messageId"`
	ChannelID string         `json:"channelId"`
	Message   domain.Message `json:"message"`
}

type answerPayload struct {
	Label string `json:"label"`
}

type answerResult struct {
	RoundID  string `json:"roundId,omitempty"`
	Label    string `json:"label,omitempty"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type lifelinePayload struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

type lifelineResult struct {
	Kind    string `json:"kind"`
	Ok      bool   `json:"ok"`
	Message string `json:"message,omitempty"`

	Remaining   []domain.Label            `json:"remaining,omitempty"`
	Percentages map[domain.Label]int      `json:"percentages,omitempty"`
	Friend      *domain.PhoneFriendResult `json:"friend,omitempty"`
}

type standingsPayload struct {
	Window string `json:"window"`
}

// Publish broadcasts the message to every subscriber of the channel
// and returns the generated message id.
func (g *Gateway) Publish(_ context.Context, channelID string, msg domain.Message) (string, error) {
	id := uuid.NewString()
	g.broadcast(channelID, outboundMessage[any]{
		Type:    string(msg.Kind),
		Payload: publishedPayload{MessageID: id, ChannelID: channelID, Message: msg},
	})
	return id, nil
}

// EditMessage rebroadcasts updated content under the original id.
func (g *Gateway) EditMessage(_ context.Context, channelID, messageID string, msg domain.Message) error {
	g.broadcast(channelID, outboundMessage[any]{
		Type:    "edit",
		Payload: publishedPayload{MessageID: messageID, ChannelID: channelID, Message: msg},
	})
	return nil
}

func (g *Gateway) broadcast(channelID string, msg outboundMessage[any]) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.channels[channelID] {
		select {
		case c.send <- msg:
		default:
			// Drop the oldest pending message so a slow client never
			// blocks the broadcast. If the buffer refills in between,
			// the client loses this message instead of wedging the hub.
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

func (g *Gateway) subscribe(channelID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	subs, ok := g.channels[channelID]
	if !ok {
		subs = make(map[*client]struct{})
		g.channels[channelID] = subs
	}
	subs[c] = struct{}{}
}

func (g *Gateway) unsubscribe(channelID string, c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if subs, ok := g.channels[channelID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(g.channels, channelID)
		}
	}
}

// ServeWS upgrades the connection and wires it into the engine. Query
// params: channelId, userId, name.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channelId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if channelID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing channelId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	c := &client{send: make(chan outboundMessage[any], 16)}
	g.subscribe(channelID, c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	participant := domain.Participant{ID: userID, DisplayName: displayName}
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		g.handle(r.Context(), c, channelID, participant, inbound)
	}

	// The client must be unreachable to broadcasts before its send
	// channel closes, or a concurrent Publish panics on the closed
	// channel.
	g.unsubscribe(channelID, c)
	close(c.send)
	<-writerDone
}

func (g *Gateway) handle(ctx context.Context, c *client, channelID string, participant domain.Participant, inbound inboundMessage) {
	switch inbound.Type {
	case "answer":
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
			return
		}
		c.send <- g.recordAnswer(ctx, channelID, participant, payload)
	case "lifeline":
		var payload lifelinePayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid lifeline payload"}}
			return
		}
		c.send <- g.invokeLifeline(ctx, channelID, participant, payload)
	case "cooldowns":
		statuses, err := g.lifelines.CooldownStatus(ctx, participant.ID)
		if err != nil {
			c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "could not read cooldowns, try again"}}
			return
		}
		c.send <- outboundMessage[any]{Type: "cooldowns", Payload: statuses}
	case "standings":
		var payload standingsPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid standings payload"}}
			return
		}
		standings, err := g.rounds.Standings(ctx, domain.StandingsWindow(payload.Window))
		if err != nil {
			c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "could not load standings, try again"}}
			return
		}
		c.send <- outboundMessage[any]{Type: "standings", Payload: standings}
	default:
		c.send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}

func (g *Gateway) recordAnswer(ctx context.Context, channelID string, participant domain.Participant, payload answerPayload) outboundMessage[any] {
	label := domain.Label(strings.ToUpper(payload.Label))

	round, ok := g.rounds.ActiveRound(channelID)
	if !ok {
		return outboundMessage[any]{Type: "answerResult", Payload: answerResult{
			Accepted: false, Message: "this quiz has already finished",
		}}
	}

	err := g.rounds.RecordAnswer(ctx, round.ID(), participant, label)
	result := answerResult{RoundID: round.ID(), Label: string(label), Accepted: err == nil}
	switch {
	case err == nil:
		result.Message = "answer recorded"
	case errors.Is(err, domain.ErrAlreadyAnswered):
		result.Message = "you already answered this question, the first answer stands"
	case errors.Is(err, domain.ErrRoundExpired):
		result.Message = "time to answer has run out"
	case errors.Is(err, domain.ErrRoundNotFound):
		result.Message = "this quiz has already finished"
	case errors.Is(err, domain.ErrInvalidLabel):
		result.Message = "pick one of A, B, C or D"
	default:
		log.Printf("record answer on %s failed: %v", channelID, err)
		result.Message = "something went wrong, try again"
	}
	return outboundMessage[any]{Type: "answerResult", Payload: result}
}

func (g *Gateway) invokeLifeline(ctx context.Context, channelID string, participant domain.Participant, payload lifelinePayload) outboundMessage[any] {
	result := lifelineResult{Kind: payload.Kind}

	var err error
	switch domain.LifelineKind(payload.Kind) {
	case domain.LifelineFiftyFifty:
		var r domain.FiftyFiftyResult
		if r, err = g.lifelines.FiftyFifty(ctx, channelID, participant.ID); err == nil {
			result.Ok = true
			result.Remaining = r.Remaining
			result.Message = fmt.Sprintf("two wrong answers removed, %s or %s remain", r.Remaining[0], r.Remaining[1])
		}
	case domain.LifelineAudience:
		var r domain.AudienceResult
		if r, err = g.lifelines.Audience(ctx, channelID, participant.ID); err == nil {
			result.Ok = true
			result.Percentages = r.Percentages
			result.Message = "the audience has voted"
		}
	case domain.LifelinePhoneFriend:
		var r domain.PhoneFriendResult
		if r, err = g.lifelines.PhoneFriend(ctx, channelID, participant.ID, payload.Target); err == nil {
			result.Friend = &r
			if r.Available {
				result.Ok = true
				result.Message = fmt.Sprintf("your friend went with %s", r.Label)
			} else {
				result.Message = "your friend has not answered yet, this call was free"
			}
		}
	default:
		result.Message = "unknown lifeline"
		return outboundMessage[any]{Type: "lifelineResult", Payload: result}
	}

	if err != nil {
		result.Message = lifelineErrorMessage(err)
		var cd *domain.CooldownError
		if !errors.As(err, &cd) && !isInformational(err) {
			log.Printf("lifeline %s on %s failed: %v", payload.Kind, channelID, err)
		}
	}
	return outboundMessage[any]{Type: "lifelineResult", Payload: result}
}

func lifelineErrorMessage(err error) string {
	var cd *domain.CooldownError
	switch {
	case errors.As(err, &cd):
		return fmt.Sprintf("this lifeline will be available again in %s", formatDuration(cd.Remaining))
	case errors.Is(err, domain.ErrNoActiveRound):
		return "no active question on this channel"
	case errors.Is(err, domain.ErrRoundExpired):
		return "time to answer has run out"
	case errors.Is(err, domain.ErrLifelineUsed):
		return "you already used this lifeline on this question"
	default:
		return "something went wrong, try again"
	}
}

func isInformational(err error) bool {
	return errors.Is(err, domain.ErrNoActiveRound) ||
		errors.Is(err, domain.ErrRoundExpired) ||
		errors.Is(err, domain.ErrLifelineUsed)
}

// formatDuration renders a remaining cooldown as "2d 3h 15m" style
// text, omitting seconds once days are involved.
func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		return "0s"
	}
	days := secs / 86400
	secs %= 86400
	hours := secs / 3600
	secs %= 3600
	minutes := secs / 60
	secs %= 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if secs > 0 && days == 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}
