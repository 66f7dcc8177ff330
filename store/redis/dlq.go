package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/dlq"
	"github.com/joe10832/TickerQ/id"
)

// PushDLQ adds a permanently failed entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	data, err := encodeDLQ(entry)
	if err != nil {
		return err
	}

	eID := entry.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dlqKey(eID), data, 0)
	pipe.ZAdd(ctx, dlqIDsKey, goredis.Z{
		Score:  float64(timeToMillis(entry.FailedAt)),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest
// failures first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: list dlq ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, eID := range ids {
		keys[i] = dlqKey(eID)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: fetch dlq entries: %w", err)
	}

	var entries []*dlq.Entry
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		e, decErr := decodeDLQ([]byte(str))
		if decErr != nil {
			return nil, decErr
		}
		if opts.Function != "" && e.Function != opts.Function {
			continue
		}
		entries = append(entries, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	data, err := s.client.Get(ctx, dlqKey(entryID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tickerq.ErrDLQNotFound
		}
		return nil, fmt.Errorf("tickerq/redis: get dlq: %w", err)
	}
	return decodeDLQ(data)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.ReplayedAt = &now

	data, err := encodeDLQ(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, dlqKey(entryID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("tickerq/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + fmt.Sprint(timeToMillis(before))
	ids, err := s.client.ZRangeByScore(ctx, dlqIDsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("tickerq/redis: purge dlq index: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, dlqKey(eID))
	}
	pipe.ZRemRangeByScore(ctx, dlqIDsKey, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("tickerq/redis: purge dlq: %w", err)
	}
	return int64(len(ids)), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("tickerq/redis: count dlq: %w", err)
	}
	return n, nil
}
