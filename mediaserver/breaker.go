package mediaserver

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerClient guards the read path used by pollers with a circuit
// breaker, so a dead media server sheds scrapes instead of stacking them.
// Mutations stay on the plain Client where every call must be attempted.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

func NewBreakerClient(client *Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        "mediaserver",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Msgf("%s breaker: %s -> %s", name, from, to)
		},
	}
	return &BreakerClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// Client returns the wrapped plain client for mutations.
func (b *BreakerClient) Client() *Client { return b.client }

func (b *BreakerClient) ListBroadcasts(ctx context.Context, offset, size int, filter ListFilter) ([]Broadcast, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.ListBroadcasts(ctx, offset, size, filter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Broadcast), nil
}

func (b *BreakerClient) CountBroadcasts(ctx context.Context) (int64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.CountBroadcasts(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *BreakerClient) CountVoDs(ctx context.Context) (int64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.CountVoDs(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (b *BreakerClient) GetBroadcastStatistics(ctx context.Context, id string) (*BroadcastStatistics, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.GetBroadcastStatistics(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*BroadcastStatistics), nil
}
