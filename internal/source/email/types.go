package email

import "time"

// FetchedMessage holds one message as returned by a UID FETCH.
type FetchedMessage struct {
	UIDValidity  uint32
	UID          uint32
	Flags        []string // \Seen, \Flagged, \Answered, ...
	InternalDate time.Time
	Size         int64
	Raw          []byte
}

// SearchResult holds the UIDs matched in a selected mailbox.
type SearchResult struct {
	UIDValidity uint32
	UIDs        []uint32
}
