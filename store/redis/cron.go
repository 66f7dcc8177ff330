package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	tickerq "github.com/joe10832/TickerQ"
	"github.com/joe10832/TickerQ/cron"
	"github.com/joe10832/TickerQ/id"
	"github.com/joe10832/TickerQ/job"
)

// CreateDefinition persists a new definition. The names hash enforces
// name uniqueness.
func (s *Store) CreateDefinition(ctx context.Context, d *cron.Definition) error {
	dID := d.ID.String()
	ok, err := s.client.HSetNX(ctx, defNamesKey, d.Name, dID).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: reserve definition name: %w", err)
	}
	if !ok {
		return tickerq.ErrDuplicateDefinition
	}

	data, err := encodeDefinition(d)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, defKey(dID), data, 0)
	pipe.SAdd(ctx, defIDsKey, dID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: create definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by ID.
func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*cron.Definition, error) {
	data, err := s.client.Get(ctx, defKey(defID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tickerq.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("tickerq/redis: get definition: %w", err)
	}
	return decodeDefinition(data)
}

// ListDefinitions returns all definitions ordered by name.
func (s *Store) ListDefinitions(ctx context.Context, activeOnly bool) ([]*cron.Definition, error) {
	ids, err := s.client.SMembers(ctx, defIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: list definition ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, dID := range ids {
		keys[i] = defKey(dID)
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: fetch definitions: %w", err)
	}

	var defs []*cron.Definition
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		d, decErr := decodeDefinition([]byte(str))
		if decErr != nil {
			return nil, decErr
		}
		if activeOnly && !d.Active {
			continue
		}
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, k int) bool { return defs[i].Name < defs[k].Name })
	return defs, nil
}

// UpdateDefinition updates a definition, moving its name reservation if
// the name changed.
func (s *Store) UpdateDefinition(ctx context.Context, d *cron.Definition) error {
	current, err := s.GetDefinition(ctx, d.ID)
	if err != nil {
		return err
	}

	if current.Name != d.Name {
		ok, nameErr := s.client.HSetNX(ctx, defNamesKey, d.Name, d.ID.String()).Result()
		if nameErr != nil {
			return fmt.Errorf("tickerq/redis: reserve definition name: %w", nameErr)
		}
		if !ok {
			return tickerq.ErrDuplicateDefinition
		}
		if delErr := s.client.HDel(ctx, defNamesKey, current.Name).Err(); delErr != nil {
			return fmt.Errorf("tickerq/redis: release definition name: %w", delErr)
		}
	}

	data, err := encodeDefinition(d)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, defKey(d.ID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("tickerq/redis: update definition: %w", err)
	}
	return nil
}

// DeleteDefinition removes a definition by ID. Its occurrences are
// retained as history.
func (s *Store) DeleteDefinition(ctx context.Context, defID id.DefinitionID) error {
	current, err := s.GetDefinition(ctx, defID)
	if err != nil {
		return err
	}

	dID := defID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, defKey(dID))
	pipe.SRem(ctx, defIDsKey, dID)
	pipe.HDel(ctx, defNamesKey, current.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: delete definition: %w", err)
	}
	return nil
}

// CreateOccurrence persists a new occurrence. The slots hash enforces
// the one-occurrence-per-slot invariant.
func (s *Store) CreateOccurrence(ctx context.Context, o *cron.Occurrence) error {
	oID := o.ID.String()
	dID := o.DefinitionID.String()
	slotMillis := timeToMillis(o.SlotAt)

	ok, err := s.client.HSetNX(ctx, occSlotsKey, slotField(dID, slotMillis), oID).Result()
	if err != nil {
		return fmt.Errorf("tickerq/redis: reserve occurrence slot: %w", err)
	}
	if !ok {
		return tickerq.ErrDuplicateOccurrence
	}

	data, err := encodeOccurrence(o)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, occKey(oID), data, 0)
	pipe.SAdd(ctx, occIDsKey, oID)
	pipe.ZAdd(ctx, occByDefKey(dID), goredis.Z{Score: float64(slotMillis), Member: oID})
	if !o.Status.Terminal() {
		pipe.ZAdd(ctx, occDueKey, goredis.Z{
			Score:  float64(timeToMillis(o.DueAt)),
			Member: oID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("tickerq/redis: create occurrence: %w", err)
	}
	return nil
}

// GetOccurrence retrieves an occurrence by ID.
func (s *Store) GetOccurrence(ctx context.Context, occID id.OccurrenceID) (*cron.Occurrence, error) {
	data, err := s.client.Get(ctx, occKey(occID.String())).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, tickerq.ErrOccurrenceNotFound
		}
		return nil, fmt.Errorf("tickerq/redis: get occurrence: %w", err)
	}
	return decodeOccurrence(data)
}

// ListOccurrences returns all occurrences for a definition ordered by
// DueAt ascending.
func (s *Store) ListOccurrences(ctx context.Context, defID id.DefinitionID) ([]*cron.Occurrence, error) {
	ids, err := s.client.ZRange(ctx, occByDefKey(defID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: list occurrence ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	occs, err := s.fetchOccurrences(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(occs, func(i, k int) bool {
		if !occs[i].DueAt.Equal(occs[k].DueAt) {
			return occs[i].DueAt.Before(occs[k].DueAt)
		}
		return occs[i].ID.String() < occs[k].ID.String()
	})
	return occs, nil
}

// LatestOccurrenceFor returns the latest SlotAt materialized for a
// definition, or nil if none exists.
func (s *Store) LatestOccurrenceFor(ctx context.Context, defID id.DefinitionID) (*time.Time, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, occByDefKey(defID.String()), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: latest occurrence: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	t := millisToTime(int64(zs[0].Score))
	return &t, nil
}

// DueOccurrences returns up to limit claimable occurrences ordered DueAt
// ascending, priority descending, id ascending.
func (s *Store) DueOccurrences(ctx context.Context, now time.Time, limit int) ([]*cron.Occurrence, error) {
	ids, err := s.client.ZRangeByScore(ctx, occDueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(timeToMillis(now), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: due occurrences index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	occs, err := s.fetchOccurrences(ctx, ids)
	if err != nil {
		return nil, err
	}

	var due []*cron.Occurrence
	for _, o := range occs {
		if o.Claimable(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].DueAt.Equal(due[k].DueAt) {
			return due[i].DueAt.Before(due[k].DueAt)
		}
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].ID.String() < due[k].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ClaimOccurrence atomically transitions a claimable occurrence to
// InProgress under a lease via a server-side script.
func (s *Store) ClaimOccurrence(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := claimOccScript.Run(ctx, s.client,
		[]string{occKey(occID.String())},
		owner.String(), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: claim occurrence: %w", err)
	}
	return res == 1, nil
}

// RenewOccurrenceLease extends the lease expiry while owner still holds
// the occurrence.
func (s *Store) RenewOccurrenceLease(ctx context.Context, occID id.OccurrenceID, owner id.NodeID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := renewLeaseScript.Run(ctx, s.client,
		[]string{occKey(occID.String())},
		owner.String(), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: renew occurrence lease: %w", err)
	}
	return res == 1, nil
}

// UpdateOccurrenceOwned persists changes only while owner still holds an
// unexpired lease on the stored blob.
func (s *Store) UpdateOccurrenceOwned(ctx context.Context, o *cron.Occurrence, owner id.NodeID) (bool, error) {
	data, err := encodeOccurrence(o)
	if err != nil {
		return false, err
	}

	terminal := "0"
	if o.Status.Terminal() {
		terminal = "1"
	}

	res, err := ownedUpdateScript.Run(ctx, s.client,
		[]string{occKey(o.ID.String()), occDueKey},
		owner.String(), time.Now().UTC().UnixMilli(), data,
		timeToMillis(o.DueAt), terminal, o.ID.String(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("tickerq/redis: update occurrence owned: %w", err)
	}
	return res == 1, nil
}

// EarliestOccurrenceDue returns the earliest DueAt among unclaimed
// claimable occurrences due after now, or nil when there is none.
func (s *Store) EarliestOccurrenceDue(ctx context.Context, now time.Time) (*time.Time, error) {
	const batch = 64
	min := "(" + strconv.FormatInt(timeToMillis(now), 10)

	for offset := int64(0); ; offset += batch {
		ids, err := s.client.ZRangeByScore(ctx, occDueKey, &goredis.ZRangeBy{
			Min:    min,
			Max:    "+inf",
			Offset: offset,
			Count:  batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("tickerq/redis: earliest occurrence due: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}

		occs, err := s.fetchOccurrences(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, o := range occs {
			if o.Status != job.StatusIdle && o.Status != job.StatusQueued {
				continue
			}
			if o.Lease.Held(now) {
				continue
			}
			at := o.DueAt
			return &at, nil
		}
	}
}

// CountOccurrences returns the number of occurrences with the given
// status. Empty status counts all.
func (s *Store) CountOccurrences(ctx context.Context, status job.Status) (int64, error) {
	ids, err := s.client.SMembers(ctx, occIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("tickerq/redis: list occurrence ids: %w", err)
	}
	if status == "" {
		return int64(len(ids)), nil
	}
	if len(ids) == 0 {
		return 0, nil
	}

	occs, err := s.fetchOccurrences(ctx, ids)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, o := range occs {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

// fetchOccurrences resolves occurrence IDs to decoded occurrences,
// skipping blobs deleted since the index was read.
func (s *Store) fetchOccurrences(ctx context.Context, ids []string) ([]*cron.Occurrence, error) {
	keys := make([]string, len(ids))
	for i, oID := range ids {
		keys[i] = occKey(oID)
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("tickerq/redis: fetch occurrences: %w", err)
	}

	occs := make([]*cron.Occurrence, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		o, decErr := decodeOccurrence([]byte(str))
		if decErr != nil {
			return nil, decErr
		}
		occs = append(occs, o)
	}
	return occs, nil
}
