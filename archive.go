package borgmon

import (
	"time"
)

// Archive is a snapshot record of one repository archive, as reported by
// the client's borg/borgmatic metadata push. Identity key is Name.
// Sizes are raw bytes; humanized strings are produced at the API edge.
type Archive struct {
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	OriginalSize     int64     `json:"original_size"`
	CompressedSize   int64     `json:"compressed_size"`
	DeduplicatedSize int64     `json:"deduplicated_size"`
}

// RepositoryTotals are the aggregate repository statistics reported
// alongside an archive list (borg cache stats).
type RepositoryTotals struct {
	TotalSize           int64  `json:"total_size"`
	TotalCompressedSize int64  `json:"total_csize"`
	UniqueSize          int64  `json:"unique_size"`
	Location            string `json:"location,omitempty"`
}

// ArchiveSortField selects the ordering of an archive listing.
type ArchiveSortField string

const (
	ArchiveSortDate             ArchiveSortField = "date"
	ArchiveSortName             ArchiveSortField = "name"
	ArchiveSortOriginalSize     ArchiveSortField = "originalSize"
	ArchiveSortCompressedSize   ArchiveSortField = "compressedSize"
	ArchiveSortDeduplicatedSize ArchiveSortField = "deduplicatedSize"
)

// KnownArchiveSortField reports whether f is a valid sort field.
func KnownArchiveSortField(f ArchiveSortField) bool {
	switch f {
	case ArchiveSortDate, ArchiveSortName, ArchiveSortOriginalSize, ArchiveSortCompressedSize, ArchiveSortDeduplicatedSize:
		return true
	}
	return false
}
