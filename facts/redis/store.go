// Package redis provides the durable facts.Store implementation backed by
// Redis.
//
// Keyspace, per session id:
//
//	class:<id>:meta            hash   session metadata (JSON blob)
//	class:<id>:progress        hash   status, last_stage_summary_ts, last_utterance_ts
//	class:<id>:utterances      zset   utterance JSON scored by timestamp
//	class:<id>:stage_summaries zset   stage summary JSON scored by timestamp
//	class:<id>:final_report    string final report JSON, written once (SETNX)
//
// Sorted sets give time-ordered reads with an exclusive lower bound
// ("(min" range queries), which is what makes scheduler replays idempotent:
// re-reading from the same cursor never returns already-summarized facts.
// Members sharing a score order lexicographically by payload; the embedded
// sequence number keeps same-timestamp facts distinct (see facts.Utterance).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lectern-ai/lectern/facts"
)

// Store implements facts.Store on a Redis client.
type Store struct {
	rdb *goredis.Client
}

// New builds a Store using the provided Redis client.
func New(rdb *goredis.Client) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{rdb: rdb}, nil
}

func keyMeta(id string) string           { return "class:" + id + ":meta" }
func keyProgress(id string) string       { return "class:" + id + ":progress" }
func keyUtterances(id string) string     { return "class:" + id + ":utterances" }
func keyStageSummaries(id string) string { return "class:" + id + ":stage_summaries" }
func keyFinalReport(id string) string    { return "class:" + id + ":final_report" }

// InitSession implements facts.Store.
func (s *Store) InitSession(ctx context.Context, sessionID string, meta facts.SessionMeta) error {
	exists, err := s.rdb.Exists(ctx, keyMeta(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists > 0 {
		return facts.ErrExists
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, keyMeta(sessionID), "meta", string(raw))
	pipe.HSet(ctx, keyProgress(sessionID), map[string]any{
		"status":                facts.StatusRunning,
		"last_stage_summary_ts": "0",
		"last_utterance_ts":     "0",
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis init session: %w", err)
	}
	return nil
}

// SetStatus implements facts.Store.
func (s *Store) SetStatus(ctx context.Context, sessionID, status string) error {
	if err := s.rdb.HSet(ctx, keyProgress(sessionID), "status", status).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

// GetProgress implements facts.Store.
func (s *Store) GetProgress(ctx context.Context, sessionID string) (facts.Progress, error) {
	m, err := s.rdb.HGetAll(ctx, keyProgress(sessionID)).Result()
	if err != nil {
		return facts.Progress{}, fmt.Errorf("redis get progress: %w", err)
	}
	if len(m) == 0 {
		return facts.Progress{}, facts.ErrNotFound
	}
	return facts.Progress{
		Status:             m["status"],
		LastStageSummaryTS: parseFloat(m["last_stage_summary_ts"]),
		LastUtteranceTS:    parseFloat(m["last_utterance_ts"]),
	}, nil
}

// ListRunning implements facts.Store. It scans progress keys and filters by
// recorded status.
func (s *Store) ListRunning(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, "class:*:progress", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimSuffix(strings.TrimPrefix(key, "class:"), ":progress")
		if id == key || id == "" {
			continue
		}
		status, err := s.rdb.HGet(ctx, key, "status").Result()
		if err != nil {
			continue
		}
		if status == facts.StatusRunning {
			out = append(out, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan progress: %w", err)
	}
	return out, nil
}

// AppendUtterance implements facts.Store. The zset insert and the cursor
// update ship in one pipeline.
func (s *Store) AppendUtterance(ctx context.Context, sessionID string, u facts.Utterance) error {
	exists, err := s.rdb.Exists(ctx, keyProgress(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return facts.ErrNotFound
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode utterance: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, keyUtterances(sessionID), goredis.Z{Score: u.Timestamp, Member: string(raw)})
	pipe.HSet(ctx, keyProgress(sessionID), "last_utterance_ts", formatFloat(u.Timestamp))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append utterance: %w", err)
	}
	return nil
}

// ListUtterances implements facts.Store.
func (s *Store) ListUtterances(ctx context.Context, sessionID string, sinceExclusive, untilInclusive float64, limit int) ([]facts.Utterance, error) {
	items, err := s.rdb.ZRangeByScore(ctx, keyUtterances(sessionID), &goredis.ZRangeBy{
		Min:    "(" + formatFloat(sinceExclusive),
		Max:    formatFloat(untilInclusive),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list utterances: %w", err)
	}
	out := make([]facts.Utterance, 0, len(items))
	for _, raw := range items {
		var u facts.Utterance
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// AppendStageSummary implements facts.Store. The cursor only moves forward:
// a summary older than the recorded cursor is retained in the zset without
// rewinding last_stage_summary_ts.
func (s *Store) AppendStageSummary(ctx context.Context, sessionID string, sum facts.StageSummary) error {
	prog, err := s.GetProgress(ctx, sessionID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode stage summary: %w", err)
	}
	cursor := prog.LastStageSummaryTS
	if sum.Timestamp > cursor {
		cursor = sum.Timestamp
	}
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, keyStageSummaries(sessionID), goredis.Z{Score: sum.Timestamp, Member: string(raw)})
	pipe.HSet(ctx, keyProgress(sessionID), "last_stage_summary_ts", formatFloat(cursor))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append stage summary: %w", err)
	}
	return nil
}

// ListStageSummaries implements facts.Store.
func (s *Store) ListStageSummaries(ctx context.Context, sessionID string, limit int) ([]facts.StageSummary, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	items, err := s.rdb.ZRange(ctx, keyStageSummaries(sessionID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list stage summaries: %w", err)
	}
	out := make([]facts.StageSummary, 0, len(items))
	for _, raw := range items {
		var sum facts.StageSummary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

// SetFinalReport implements facts.Store. SETNX makes the slot write-once: a
// second end-of-session trigger leaves the first report intact.
func (s *Store) SetFinalReport(ctx context.Context, sessionID string, report facts.FinalReport) (bool, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return false, fmt.Errorf("encode final report: %w", err)
	}
	stored, err := s.rdb.SetNX(ctx, keyFinalReport(sessionID), string(raw), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis set final report: %w", err)
	}
	return stored, nil
}

// GetFinalReport implements facts.Store.
func (s *Store) GetFinalReport(ctx context.Context, sessionID string) (*facts.FinalReport, error) {
	raw, err := s.rdb.Get(ctx, keyFinalReport(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get final report: %w", err)
	}
	var report facts.FinalReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return nil, fmt.Errorf("decode final report: %w", err)
	}
	return &report, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
