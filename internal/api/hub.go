package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"servercheck/internal/logger"
	"servercheck/internal/model"
	"servercheck/internal/monitor"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(r.Host), strings.TrimSpace(u.Host))
	},
}

// RoundMessage 每轮检测结束后推送给客户端的快照
type RoundMessage struct {
	Type        string        `json:"type"` // snapshot | round
	Seq         uint64        `json:"seq,omitempty"`
	Trigger     string        `json:"trigger,omitempty"`
	LastChecked string        `json:"last_checked"`
	Up          int           `json:"up"`
	Down        int           `json:"down"`
	Discarded   int           `json:"discarded"`
	Groups      []model.Group `json:"groups"`
}

// Hub 管理 websocket 客户端并广播检测快照
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	closed  bool
}

// NewHub 创建推送中心
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan []byte)}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast 向所有客户端推送消息，发送缓冲已满的客户端跳过本条
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("[API] 序列化推送消息失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- data:
		default:
			logger.Warnf("[API] 客户端 %s 推送积压，丢弃一条消息", conn.RemoteAddr())
		}
	}
}

// Close 断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, send := range h.clients {
		close(send)
		delete(h.clients, conn)
	}
}

func (h *Hub) register(conn *websocket.Conn) (chan []byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	send := make(chan []byte, wsSendBuffer)
	h.clients[conn] = send
	return send, true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
}

// serve 写循环，读协程只用于感知客户端断开
func (h *Hub) serve(conn *websocket.Conn, initial interface{}) {
	defer conn.Close()

	send, ok := h.register(conn)
	if !ok {
		return
	}
	defer h.unregister(conn)

	if err := writeMessage(conn, initial); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, payload interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}

// handleWS 建立 websocket 连接，先推送当前快照，之后每轮结束推送一次
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.serve(conn, s.snapshotMessage())
}

func (s *Server) snapshotMessage() RoundMessage {
	state := s.scheduler.State()
	return RoundMessage{
		Type:        "snapshot",
		LastChecked: state.LastCheckedText(),
		Groups:      state.Snapshot(),
	}
}

func (s *Server) broadcastRound(report *monitor.RoundReport) {
	msg := s.snapshotMessage()
	msg.Type = "round"
	msg.Seq = report.Seq
	msg.Trigger = report.Trigger
	msg.Up = report.Up
	msg.Down = report.Down
	msg.Discarded = report.Discarded
	s.hub.Broadcast(msg)
}
