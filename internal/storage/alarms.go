package storage

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"btcwatch/internal/alarm"
)

const alarmsKey = "alarms"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AlarmStore keeps the ordered alarm list under a single key.
type AlarmStore struct {
	kv KV
}

// NewAlarmStore wraps kv.
func NewAlarmStore(kv KV) *AlarmStore {
	return &AlarmStore{kv: kv}
}

// List returns the stored alarms in insertion order.
func (s *AlarmStore) List(ctx context.Context) ([]alarm.Alarm, error) {
	raw, err := s.kv.Get(ctx, alarmsKey)
	if errors.Is(err, ErrNotFound) {
		return []alarm.Alarm{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAlarms(raw)
}

// Add validates a and appends it to the list.
func (s *AlarmStore) Add(ctx context.Context, a alarm.Alarm) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return s.Update(ctx, func(current []alarm.Alarm) ([]alarm.Alarm, error) {
		return append(current, a), nil
	})
}

// Delete removes every alarm with id. It returns ErrNotFound when none matched.
func (s *AlarmStore) Delete(ctx context.Context, id string) error {
	return s.Update(ctx, func(current []alarm.Alarm) ([]alarm.Alarm, error) {
		kept := make([]alarm.Alarm, 0, len(current))
		for _, a := range current {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		if len(kept) == len(current) {
			return nil, fmt.Errorf("alarm %s: %w", id, ErrNotFound)
		}
		return kept, nil
	})
}

// Update reads the full list, applies fn and writes the result in one atomic
// step. fn may return ErrNoChange to skip the write.
func (s *AlarmStore) Update(ctx context.Context, fn func([]alarm.Alarm) ([]alarm.Alarm, error)) error {
	return s.kv.Update(ctx, alarmsKey, func(raw []byte, found bool) ([]byte, error) {
		current := []alarm.Alarm{}
		if found {
			decoded, err := decodeAlarms(raw)
			if err != nil {
				return nil, err
			}
			current = decoded
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []alarm.Alarm{}
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode alarms: %w", err)
		}
		return encoded, nil
	})
}

func decodeAlarms(raw []byte) ([]alarm.Alarm, error) {
	alarms := []alarm.Alarm{}
	if len(raw) == 0 {
		return alarms, nil
	}
	if err := json.Unmarshal(raw, &alarms); err != nil {
		return nil, fmt.Errorf("decode alarms: %w", err)
	}
	return alarms, nil
}
