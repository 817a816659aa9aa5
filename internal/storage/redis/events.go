package redis

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
)

// EncodeEvent 序列化新邮件事件
func EncodeEvent(evt domain.NewMailEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// DecodeEvent 反序列化新邮件事件
func DecodeEvent(payload []byte) (domain.NewMailEvent, error) {
	var evt domain.NewMailEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return evt, fmt.Errorf("decode new mail event: %w", err)
	}
	return evt, nil
}

// PublishNewMail 将新邮件事件发布到共享频道，其他副本的 websocket 连接据此推送
func (c *Client) PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error {
	data, err := EncodeEvent(evt)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, c.channel, data).Err()
}

// SubscribeNewMail 订阅新邮件频道，直到 ctx 结束；handler 在订阅协程中串行调用
func (c *Client) SubscribeNewMail(ctx context.Context, handler func(domain.NewMailEvent)) error {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evt, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				c.log.Warn("dropping malformed new mail event", zap.Error(err))
				continue
			}
			handler(evt)
		}
	}
}
