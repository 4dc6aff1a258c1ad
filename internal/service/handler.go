package service

import "csync/pkg/types"

// StoreEventKind distinguishes notifications sent to handlers.
type StoreEventKind string

const (
	EventPut    StoreEventKind = "put"
	EventDelete StoreEventKind = "delete"
)

// StoreEvent describes one committed mutation of the store.
type StoreEvent struct {
	Kind StoreEventKind `json:"kind"`
	Item types.Metadata `json:"item"`
}

// StoreEventHandler is implemented by components that need to be
// notified when entries are added to or removed from the store.
type StoreEventHandler interface {
	HandleStoreEvent(ev StoreEvent)
}
