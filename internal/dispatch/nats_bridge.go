package dispatch

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/JackieWYB/majiang-sub001/internal/log"
)

// 跨节点推送主题：接入节点按自己持有的用户订阅
const userPushSubject = "majiang.push.user.%s"

// NatsBridge 跨接入节点的出站桥
// 玩家连在别的节点时，消息发布到该玩家的推送主题，由持有连接的节点转发
type NatsBridge struct {
	conn *nats.Conn
}

// NewNatsBridge 连接 NATS
func NewNatsBridge(url string) (*NatsBridge, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS 断开: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS 重连成功")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NatsBridge{conn: conn}, nil
}

// Forward 把出站字节转发给远端节点；发布成功即返回 true，不检查是否有人订阅
func (b *NatsBridge) Forward(userID string, payload []byte) bool {
	if b == nil || b.conn == nil {
		return false
	}
	subject := fmt.Sprintf(userPushSubject, userID)
	if err := b.conn.Publish(subject, payload); err != nil {
		log.Warn("NATS 推送失败 user=%s: %v", userID, err)
		return false
	}
	return true
}

// SubscribeLocal 本节点为自己持有的用户订阅推送主题
// deliver 回调接收远端节点发来的消息字节
func (b *NatsBridge) SubscribeLocal(userID string, deliver func(payload []byte)) (*nats.Subscription, error) {
	subject := fmt.Sprintf(userPushSubject, userID)
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
}

// Close 释放连接
func (b *NatsBridge) Close() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}
