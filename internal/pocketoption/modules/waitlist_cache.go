package modules

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisstore "github.com/dkowalczyk/pocketoption-engine/internal/cache/redis"
	"github.com/dkowalczyk/pocketoption-engine/internal/engine/domain"
)

// dealStream is the Redis stream multiple engine instances trading the
// same account publish their closed deals onto, so each instance's Deals
// waitlist can resolve a trade another instance actually placed.
const dealStream = "poengine:deals:closed"

// streamMaxLen bounds the stream's length via XADD MAXLEN ~ (approximate
// trimming).
const streamMaxLen int64 = 10000

type mirroredDeal struct {
	TradeID     string  `json:"tradeId"`
	RequestID   string  `json:"requestId"`
	Asset       string  `json:"asset"`
	Amount      float64 `json:"amount"`
	Direction   string  `json:"direction"`
	OpenTimeMS  int64   `json:"openTimeMs"`
	CloseTimeMS int64   `json:"closeTimeMs"`
	Result      string  `json:"result"`
	Profit      float64 `json:"profit"`
}

// DealMirror publishes and tails the cross-instance closed-deal stream, so
// a multi-instance deployment sharing one PocketOption account can resolve
// CheckResult calls regardless of which instance placed the trade.
type DealMirror struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

// NewDealMirror builds a DealMirror over an already-connected client.
func NewDealMirror(c *redisstore.Client, logger *slog.Logger) *DealMirror {
	return &DealMirror{rdb: c.Underlying(), logger: logger.With(slog.String("component", "deal-mirror"))}
}

// Publish appends a just-closed deal to the shared stream for other
// instances to pick up.
func (m *DealMirror) Publish(ctx context.Context, deal domain.Deal) {
	wire := mirroredDeal{
		TradeID:     deal.TradeID,
		RequestID:   deal.RequestID,
		Asset:       deal.Asset,
		Amount:      deal.Amount,
		Direction:   string(deal.Direction),
		OpenTimeMS:  deal.OpenTimestamp.UnixMilli(),
		CloseTimeMS: deal.CloseTime.UnixMilli(),
		Result:      string(deal.Result),
		Profit:      deal.Profit,
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		m.logger.ErrorContext(ctx, "marshal mirrored deal", slog.String("error", err.Error()))
		return
	}

	args := &goredis.XAddArgs{
		Stream: dealStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := m.rdb.XAdd(ctx, args).Err(); err != nil {
		m.logger.ErrorContext(ctx, "publish mirrored deal", slog.String("error", err.Error()))
	}
}

// Tail starts a background goroutine reading new entries from the shared
// stream (blocking XREAD from "$", i.e. only entries appended after Tail
// started) and emits each as a domain.Deal on the returned channel, closed
// when ctx is cancelled.
func (m *DealMirror) Tail(ctx context.Context) <-chan domain.Deal {
	out := make(chan domain.Deal, 32)
	go func() {
		defer close(out)
		lastID := "$"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			args := &goredis.XReadArgs{
				Streams: []string{dealStream, lastID},
				Block:   5 * time.Second,
				Count:   64,
			}
			results, err := m.rdb.XRead(ctx, args).Result()
			if err != nil {
				if err == goredis.Nil || ctx.Err() != nil {
					continue
				}
				m.logger.ErrorContext(ctx, "tail deal stream", slog.String("error", err.Error()))
				continue
			}

			for _, s := range results {
				for _, msg := range s.Messages {
					lastID = msg.ID
					deal, ok := decodeMirroredDeal(msg.Values)
					if !ok {
						continue
					}
					select {
					case out <- deal:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}

func decodeMirroredDeal(values map[string]interface{}) (domain.Deal, bool) {
	raw, ok := values["payload"]
	if !ok {
		return domain.Deal{}, false
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return domain.Deal{}, false
	}

	var wire mirroredDeal
	if err := json.Unmarshal(data, &wire); err != nil {
		return domain.Deal{}, false
	}

	return domain.Deal{
		TradeID:       wire.TradeID,
		RequestID:     wire.RequestID,
		Asset:         wire.Asset,
		Amount:        wire.Amount,
		Direction:     domain.Direction(wire.Direction),
		OpenTimestamp: time.UnixMilli(wire.OpenTimeMS),
		CloseTime:     time.UnixMilli(wire.CloseTimeMS),
		Result:        domain.Result(wire.Result),
		Profit:        wire.Profit,
	}, true
}

