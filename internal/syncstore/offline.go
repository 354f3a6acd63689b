package syncstore

import (
	"context"
	"errors"
)

var ErrOffline = errors.New("remote tables not configured")

// Offline is a RemoteTables that is never reachable. With it a Store keeps
// everything in the device backlog until a real remote is configured.
type Offline struct{}

func (Offline) Insert(context.Context, string, Record) (Record, error) { return nil, ErrOffline }
func (Offline) Upsert(context.Context, string, Record) (Record, error) { return nil, ErrOffline }
func (Offline) Select(context.Context, string, Query) ([]Record, error) {
	return nil, ErrOffline
}
