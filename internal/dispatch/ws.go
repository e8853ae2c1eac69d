package dispatch

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JackieWYB/majiang-sub001/internal/jwts"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 90 * time.Second
	maxMsgSize = 16 << 10
)

// ConnSessions 连接生命周期对应的会话操作
type ConnSessions interface {
	Connect(userID string) (*store.SessionInfo, error)
	Disconnect(sessionID string)
}

// wsConn gorilla 连接的出站包装；mu 串行化 Sender 写协程与跨节点转发的写入
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WSServer websocket 接入层
type WSServer struct {
	upgrader   websocket.Upgrader
	dispatcher *Dispatcher
	sender     *Sender
	sessions   ConnSessions
	bridge     *NatsBridge
	jwtSecret  string
}

// NewWSServer 创建接入层
func NewWSServer(dispatcher *Dispatcher, sender *Sender, sessions ConnSessions, bridge *NatsBridge, jwtSecret string) *WSServer {
	return &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dispatcher: dispatcher,
		sender:     sender,
		sessions:   sessions,
		bridge:     bridge,
		jwtSecret:  jwtSecret,
	}
}

// ServeHTTP 升级连接：鉴权、登记会话、进入读循环
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := jwts.ParseToken(token, s.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket 升级失败: %v", err)
		return
	}

	info, err := s.sessions.Connect(userID)
	if err != nil {
		log.Warn("玩家 %s 会话登记失败: %v", userID, err)
		_ = raw.Close()
		return
	}

	conn := &wsConn{conn: raw}
	s.sender.Attach(userID, conn)

	// 本节点持有该用户，顺带接管跨节点转发
	var sub interface{ Unsubscribe() error }
	if s.bridge != nil {
		if natsSub, err := s.bridge.SubscribeLocal(userID, func(payload []byte) {
			_ = conn.Send(payload)
		}); err == nil {
			sub = natsSub
		}
	}

	log.Info("玩家 %s 上线, session=%s", userID, info.SessionID)
	s.readLoop(userID, info.SessionID, raw)

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	s.sender.Detach(userID)
	s.sessions.Disconnect(info.SessionID)
	log.Info("玩家 %s 下线, session=%s", userID, info.SessionID)
}

func (s *WSServer) readLoop(userID, sessionID string, conn *websocket.Conn) {
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("玩家 %s 连接异常关闭: %v", userID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatcher.HandleRaw(userID, sessionID, raw)
	}
}
