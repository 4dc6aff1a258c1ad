package types

import "time"

// Event is a clipboard-change event handed to the ingest pipeline,
// either from the local watcher or from a remote delivery channel.
type Event struct {
	Payload   []byte
	Type      BlobType
	FileName  string // required for file events
	FileMode  uint32
	Source    string // originating device, informational
	Timestamp time.Time
}

// Metadata is the listing projection served to external readers.
// Field names are wire contract: csynctl prints this verbatim and
// the launcher plugin indexes into it.
type Metadata struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary"`
	BlobType BlobType `json:"blob_type"`
	Size     int64    `json:"size"`
	Pinned   bool     `json:"pin"`
	Created  int64    `json:"create_time"`
}

// MetadataList is the top-level document returned by the metadata API.
type MetadataList struct {
	Items []Metadata `json:"items"`
}

// State is a cheap summary readers can poll instead of listing.
// Revision grows on every mutation of the store.
type State struct {
	Revision uint64 `json:"rev"`
	Entries  int    `json:"entries"`
	Blobs    int    `json:"blobs"`
}
