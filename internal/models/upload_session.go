package models

import (
	"sort"
	"time"
)

// UploadSession tracks one chunked upload until it is assembled, cancelled or swept.
type UploadSession struct {
	ID                  string        `json:"id"`
	TeamID              string        `json:"team_id"`
	OwnerID             string        `json:"owner_id"`
	Filename            string        `json:"filename"`
	MimeType            string        `json:"mime_type,omitempty"`
	DeclaredTotalChunks int           `json:"declared_total_chunks"`
	DeclaredTotalSize   int64         `json:"declared_total_size"`
	ReceivedChunks      []int         `json:"received_chunks"`
	ChunkSizes          map[int]int64 `json:"chunk_sizes,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
}

// ReceivedCount returns how many distinct chunk indices were recorded.
func (s *UploadSession) ReceivedCount() int {
	return len(s.ReceivedChunks)
}

// HasChunk reports whether index was already recorded.
func (s *UploadSession) HasChunk(index int) bool {
	i := sort.SearchInts(s.ReceivedChunks, index)
	return i < len(s.ReceivedChunks) && s.ReceivedChunks[i] == index
}

// AddChunk records index keeping ReceivedChunks sorted and unique. It returns
// false when the index was already present.
func (s *UploadSession) AddChunk(index int, size int64) bool {
	i := sort.SearchInts(s.ReceivedChunks, index)
	if i < len(s.ReceivedChunks) && s.ReceivedChunks[i] == index {
		return false
	}
	s.ReceivedChunks = append(s.ReceivedChunks, 0)
	copy(s.ReceivedChunks[i+1:], s.ReceivedChunks[i:])
	s.ReceivedChunks[i] = index
	if s.ChunkSizes == nil {
		s.ChunkSizes = make(map[int]int64)
	}
	s.ChunkSizes[index] = size
	return true
}

// ReceivedBytes sums the sizes of recorded chunks.
func (s *UploadSession) ReceivedBytes() int64 {
	var total int64
	for _, size := range s.ChunkSizes {
		total += size
	}
	return total
}

// IsComplete reports whether every declared chunk was recorded.
func (s *UploadSession) IsComplete() bool {
	return s.ReceivedCount() == s.DeclaredTotalChunks
}

// Percent returns upload progress in the range [0, 100].
func (s *UploadSession) Percent() float64 {
	if s.DeclaredTotalChunks <= 0 {
		return 0
	}
	return float64(s.ReceivedCount()) * 100 / float64(s.DeclaredTotalChunks)
}

// Expired reports whether the session TTL has elapsed at now.
func (s *UploadSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UploadStatus is the progress view of a session.
type UploadStatus struct {
	UploadID        string  `json:"upload_id"`
	UploadedChunks  int     `json:"uploaded_chunks"`
	TotalChunks     int     `json:"total_chunks"`
	ProgressPercent float64 `json:"progress_percent"`
	Complete        bool    `json:"complete"`
}

// AssembledUpload describes the durable object produced by completing a session.
type AssembledUpload struct {
	StorageKey string `json:"path"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size"`
}
