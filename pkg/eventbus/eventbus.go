package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Event struct {
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

type PipelineEvent struct {
	PipelineID string `json:"pipeline_id"`
	Name       string `json:"name,omitempty"`
	StageCount int    `json:"stage_count"`
}

type DealEvent struct {
	DealID        string `json:"deal_id"`
	StageID       string `json:"stage_id"`
	PreviousStage string `json:"previous_stage_id,omitempty"`
	Title         string `json:"title,omitempty"`
}

const (
	ChannelPipeline = "dealflow:events:pipeline"
	ChannelDeal     = "dealflow:events:deal"
)

// TenantChannel narrows a channel to one tenant so that subscribers never see
// other tenants' events.
func TenantChannel(channel, tenantID string) string {
	return channel + ":" + tenantID
}

type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func NewEvent(eventType, tenantID string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, TenantChannel(channel, event.TenantID), payload).Err()
}

func (b *Bus) Subscribe(ctx context.Context, channels ...string) <-chan *Event {
	sub := b.client.Subscribe(ctx, channels...)
	ch := make(chan *Event, 100)

	go func() {
		defer close(ch)
		for msg := range sub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case ch <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	return ch
}
