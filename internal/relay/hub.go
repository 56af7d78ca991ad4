package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Patryk-Bura/discord-clone/internal/core/domain"
	"github.com/Patryk-Bura/discord-clone/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the fronting proxy
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsConn pairs a websocket connection with a write lock; deliveries for one
// connection can originate from many client read loops concurrently.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// HubConfig carries the transport-level knobs of the hub.
type HubConfig struct {
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

// DefaultHubConfig returns conservative keepalive and limit defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageBytes:   64 * 1024,
		RateLimitEnabled:  true,
		MessagesPerSecond: 50,
		Burst:             100,
	}
}

// ProfileRegistrar records the profile carried by a connection's token so
// the relay can later resolve display names server-side. Optional.
type ProfileRegistrar interface {
	Upsert(ctx context.Context, p domain.UserProfile) error
}

// Hub owns the live signaling connections. It upgrades authenticated HTTP
// requests, runs one read loop per connection and implements Sender for the
// relay service.
type Hub struct {
	cfg      HubConfig
	service  *Service
	profiles ProfileRegistrar

	connections map[domain.ConnectionID]*wsConn
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

func NewHub(cfg HubConfig, profiles ProfileRegistrar, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		cfg:         cfg,
		profiles:    profiles,
		connections: make(map[domain.ConnectionID]*wsConn),
		logger:      logger,
	}
}

// SetService wires the relay service after construction; the hub and the
// service reference each other (hub delivers, service decides).
func (h *Hub) SetService(svc *Service) {
	h.service = svc
}

// Send implements Sender.
func (h *Hub) Send(conn domain.ConnectionID, env Envelope) error {
	h.mu.RLock()
	wc, exists := h.connections[conn]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection %s not registered", conn)
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return wc.conn.WriteJSON(env)
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HandleWebSocket upgrades the request and services the connection until it
// closes. The identity must have been placed in the gin context by the auth
// middleware; unauthenticated upgrades are rejected.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := domain.ConnectionID(uuid.NewString())

	h.mu.Lock()
	h.connections[connID] = &wsConn{conn: conn}
	h.mu.Unlock()

	ctx := context.Background()
	if h.profiles != nil {
		if err := h.profiles.Upsert(ctx, domain.UserProfile{
			ID:       user,
			Username: middleware.UsernameFromContext(c),
		}); err != nil {
			h.logger.Warnw("failed to record profile", "user_id", user, "error", err)
		}
	}
	if err := h.service.Connected(ctx, user, connID); err != nil {
		h.logger.Errorw("failed to register connection", "user_id", user, "error", err)
		h.dropConnection(connID)
		return
	}
	h.logger.Infow("voice client connected", "user_id", user, "connection_id", connID)

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	limiter := middleware.NewMessageLimiter(h.cfg.RateLimitEnabled, h.cfg.MessagesPerSecond, h.cfg.Burst)

	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 16)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
			messageChan <- env
		}
	}()

	identity := user

loop:
	for {
		select {
		case env := <-messageChan:
			if !limiter.Allow() {
				h.logger.Warnw("rate limit exceeded, dropping connection",
					"user_id", identity, "connection_id", connID)
				break loop
			}
			if newIdentity, err := h.dispatch(ctx, identity, connID, env); err != nil {
				h.logger.Warnw("rejected signaling message",
					"user_id", identity, "op", env.Op, "error", err)
			} else {
				identity = newIdentity
			}

		case <-pingTicker.C:
			wc := h.lookup(connID)
			if wc == nil {
				break loop
			}
			wc.mu.Lock()
			wc.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			err := wc.conn.WriteMessage(websocket.PingMessage, nil)
			wc.mu.Unlock()
			if err != nil {
				h.logger.Infow("ping failed", "connection_id", connID, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("read error", "connection_id", connID, "error", err)
			}
			break loop
		}
	}

	h.dropConnection(connID)
	h.service.Disconnected(ctx, identity, connID)
	h.logger.Infow("voice client disconnected", "user_id", identity, "connection_id", connID)
}

func (h *Hub) lookup(conn domain.ConnectionID) *wsConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[conn]
}

func (h *Hub) dropConnection(conn domain.ConnectionID) {
	h.mu.Lock()
	delete(h.connections, conn)
	h.mu.Unlock()
}

// dispatch decodes and routes one client message. It returns the (possibly
// rebound) identity for this connection.
func (h *Hub) dispatch(ctx context.Context, user domain.UserID, conn domain.ConnectionID, env Envelope) (domain.UserID, error) {
	payload, err := DecodeClientPayload(env)
	if err != nil {
		return user, err
	}

	switch p := payload.(type) {
	case SetUserIDPayload:
		if err := h.service.SetUserID(ctx, user, p.UserID, conn); err != nil {
			return user, err
		}
		return p.UserID, nil

	case CallUserPayload:
		// CallerID is always the authenticated sender, whatever the client put
		// in the payload.
		h.service.CallUser(ctx, user, p.TargetID)

	case AcceptCallPayload:
		h.service.AcceptCall(ctx, user, p.CallerID)

	case DeclineCallPayload:
		h.service.DeclineCall(ctx, user, p.CallerID)

	case EndCallPayload:
		h.service.EndCall(ctx, user, p.TargetID)

	case SDPPayload:
		h.service.SendSDP(ctx, user, p.TargetID, p.SDP)

	case ICECandidatePayload:
		h.service.SendICECandidate(ctx, user, p.TargetID, p.Candidate)

	case JoinChannelPayload:
		if err := h.service.JoinVoiceChannel(ctx, user, conn, p.ChannelID, p.DisplayName); err != nil {
			return user, err
		}

	case struct{}: // leave_voice_channel has no payload
		h.service.LeaveVoiceChannel(ctx, user)

	case ChannelOfferPayload:
		h.service.SendChannelOffer(ctx, user, p.TargetID, p.SDP)

	case ChannelAnswerPayload:
		h.service.SendChannelAnswer(ctx, user, p.TargetID, p.SDP)

	case ChannelICECandidatePayload:
		h.service.SendChannelICECandidate(ctx, user, p.TargetID, p.Candidate)

	case UpdateVoiceStatePayload:
		h.service.UpdateVoiceState(ctx, user, p.State)

	default:
		return user, fmt.Errorf("unhandled payload type %T", payload)
	}

	return user, nil
}
