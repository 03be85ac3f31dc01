package store

import (
	"context"
	"time"
)

type noopStore struct{}

// NewNoop returns a Store that discards writes and answers every query with
// an empty result.
func NewNoop() Store {
	return noopStore{}
}

func (noopStore) Append(Batch)                {}
func (noopStore) Flush(context.Context) error { return nil }
func (noopStore) Stats() Stats                { return Stats{} }
func (noopStore) Close() error                { return nil }
func (noopStore) LatestTrend(context.Context) (TrendRecord, bool, error) {
	return TrendRecord{}, false, nil
}

func (noopStore) GPUHistory(context.Context, time.Time) ([]GPURecord, error) {
	return []GPURecord{}, nil
}

func (noopStore) EnvironmentHistory(context.Context, time.Time) ([]EnvironmentRecord, error) {
	return []EnvironmentRecord{}, nil
}

func (noopStore) FanHistory(context.Context, time.Time) ([]FanRecord, error) {
	return []FanRecord{}, nil
}

func (noopStore) ActuatorHistory(context.Context, time.Time) ([]ActuatorRecord, error) {
	return []ActuatorRecord{}, nil
}

func (noopStore) TrendHistory(context.Context, time.Time) ([]TrendRecord, error) {
	return []TrendRecord{}, nil
}

func (noopStore) AlertHistory(context.Context, time.Time) ([]AlertRecord, error) {
	return []AlertRecord{}, nil
}

func (noopStore) Actions(context.Context, int) ([]ActionRecord, error) {
	return []ActionRecord{}, nil
}
