// Package notify announces settled quarters to interested listeners.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type QuarterSettled struct {
	GameID    string    `json:"game_id"`
	Quarter   int       `json:"quarter"`
	Teams     int       `json:"teams"`
	SettledAt time.Time `json:"settled_at"`
}

type Publisher interface {
	QuarterSettled(ctx context.Context, ev QuarterSettled) error
}

// Channel is the Redis channel carrying a game's settlement events.
func Channel(gameID string) string {
	return fmt.Sprintf("bizsim:game:%s:settled", gameID)
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) QuarterSettled(ctx context.Context, ev QuarterSettled) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, Channel(ev.GameID), data).Err()
}

// Nop drops every event.
type Nop struct{}

func (Nop) QuarterSettled(context.Context, QuarterSettled) error { return nil }
