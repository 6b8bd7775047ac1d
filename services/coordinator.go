package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RoundStats is the final scoreboard of a match as reported by the game coordinator.
// Map holds the URL of the demo file.
type RoundStats struct {
	Reservation struct {
		AccountIDs []uint32 `json:"account_ids"`
	} `json:"reservation"`
	Map            string `json:"map"`
	MatchDuration  int    `json:"match_duration"`
	TeamScores     [2]int `json:"team_scores"`
	EnemyKills     []int  `json:"enemy_kills"`
	EnemyHeadshots []int  `json:"enemy_headshots"`
	Assists        []int  `json:"assists"`
	Deaths         []int  `json:"deaths"`
	Scores         []int  `json:"scores"`
	MVPs           []int  `json:"mvps"`
}

// MatchInfo is the coordinator's answer to a full-match-info request.
type MatchInfo struct {
	MatchID   uint64     `json:"matchid"`
	MatchTime int64      `json:"matchtime"`
	Stats     RoundStats `json:"roundstats"`
}

// Coordinator is the stateful session to the game coordinator.
type Coordinator interface {
	RequestFullMatchInfo(ctx context.Context, code DecodedSharecode) error
	// WaitMatchInfo returns nil, nil when no answer arrived within timeout.
	WaitMatchInfo(ctx context.Context, matchID uint64, timeout time.Duration) (*MatchInfo, error)
}

type coordinatorMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	msgRequestFullMatchInfo = "request_full_match_info"
	msgFullMatchInfo        = "full_match_info"

	coordinatorWriteWait = 10 * time.Second
	coordinatorPongWait  = 60 * time.Second
	coordinatorMaxMsg    = 1 << 20
)

// WSCoordinator talks to a game-coordinator bridge over a websocket. The
// connection is dialed on first use and redialed after a read failure.
type WSCoordinator struct {
	URL    string
	Dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	waiters map[uint64]chan *MatchInfo
}

func NewWSCoordinator(url string) *WSCoordinator {
	return &WSCoordinator{
		URL:     url,
		Dialer:  websocket.DefaultDialer,
		waiters: make(map[uint64]chan *MatchInfo),
	}
}

func (c *WSCoordinator) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	log.Printf("🔌 [COORDINATOR] Connecting to %s", c.URL)
	conn, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, &ClientError{Op: "dial game coordinator", Err: err}
	}
	conn.SetReadLimit(coordinatorMaxMsg)
	c.conn = conn
	go c.readPump(conn)
	log.Println("✅ [COORDINATOR] Game coordinator is ready")
	return conn, nil
}

func (c *WSCoordinator) waiter(matchID uint64) chan *MatchInfo {
	ch, ok := c.waiters[matchID]
	if !ok {
		ch = make(chan *MatchInfo, 1)
		c.waiters[matchID] = ch
	}
	return ch
}

func (c *WSCoordinator) RequestFullMatchInfo(ctx context.Context, code DecodedSharecode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(coordinatorMessage{Type: msgRequestFullMatchInfo, Payload: payload})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	// register before sending so an early answer is not lost
	c.waiter(code.MatchID)

	conn.SetWriteDeadline(time.Now().Add(coordinatorWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.dropLocked(conn)
		return &ClientError{Op: "request full match info", Err: err}
	}
	return nil
}

func (c *WSCoordinator) WaitMatchInfo(ctx context.Context, matchID uint64, timeout time.Duration) (*MatchInfo, error) {
	c.mu.Lock()
	ch := c.waiter(matchID)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case info := <-ch:
		c.mu.Lock()
		delete(c.waiters, matchID)
		c.mu.Unlock()
		return info, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiters, matchID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (c *WSCoordinator) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.dropLocked(conn)
		c.mu.Unlock()
	}()
	conn.SetReadDeadline(time.Now().Add(coordinatorPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(coordinatorPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️ [COORDINATOR] Connection lost: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(coordinatorPongWait))

		var msg coordinatorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("⚠️ [COORDINATOR] Dropping malformed message: %v", err)
			continue
		}
		if msg.Type != msgFullMatchInfo {
			continue
		}
		var info MatchInfo
		if err := json.Unmarshal(msg.Payload, &info); err != nil {
			log.Printf("⚠️ [COORDINATOR] Dropping malformed match info: %v", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.waiters[info.MatchID]
		c.mu.Unlock()
		if !ok {
			log.Printf("[COORDINATOR] Dropping unrequested match info %d", info.MatchID)
			continue
		}
		select {
		case ch <- &info:
		default: // an answer is already pending
		}
	}
}

func (c *WSCoordinator) dropLocked(conn *websocket.Conn) {
	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
}

// Close terminates the connection, if any.
func (c *WSCoordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(coordinatorWriteWait))
	return conn.Close()
}

// ErrCoordinatorDisabled is returned by DisabledCoordinator.
var ErrCoordinatorDisabled = errors.New("game coordinator API is disabled")

// DisabledCoordinator refuses every request.
type DisabledCoordinator struct{}

func (DisabledCoordinator) RequestFullMatchInfo(ctx context.Context, code DecodedSharecode) error {
	log.Println("⚠️ [COORDINATOR] CSGO API is disabled")
	return &ClientError{Op: "request full match info", Err: ErrCoordinatorDisabled}
}

func (DisabledCoordinator) WaitMatchInfo(ctx context.Context, matchID uint64, timeout time.Duration) (*MatchInfo, error) {
	return nil, &ClientError{Op: "wait for match info", Err: ErrCoordinatorDisabled}
}

// ResolveSharecode requests the match info for code and waits for the answer,
// re-sending the request after every timeout until an answer arrives or ctx ends.
func ResolveSharecode(ctx context.Context, gc Coordinator, code string, timeout time.Duration) (*MatchInfo, error) {
	decoded, err := DecodeSharecode(code)
	if err != nil {
		return nil, err
	}
	for {
		if err := gc.RequestFullMatchInfo(ctx, decoded); err != nil {
			return nil, err
		}
		info, err := gc.WaitMatchInfo(ctx, decoded.MatchID, timeout)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
		log.Printf("⏳ [COORDINATOR] Waiting for match data of %s timed out, retrying", code)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", code, err)
		}
	}
}
