package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SortKey selects the ordering field.
type SortKey string

const (
	SortByName      SortKey = "name"
	SortByCreatedAt SortKey = "created_at"
)

// Direction is ascending or descending.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseSort parses a key and direction, defaulting to created_at descending.
func ParseSort(key, dir string) (SortKey, Direction, error) {
	k := SortByCreatedAt
	switch strings.ToLower(key) {
	case "":
	case string(SortByName):
		k = SortByName
	case string(SortByCreatedAt), "created", "date":
		k = SortByCreatedAt
	default:
		return "", "", fmt.Errorf("unknown sort key %q", key)
	}

	d := Descending
	switch strings.ToLower(dir) {
	case "":
	case string(Ascending), "ascending":
		d = Ascending
	case string(Descending), "descending":
		d = Descending
	default:
		return "", "", fmt.Errorf("unknown sort direction %q", dir)
	}
	return k, d, nil
}

// Sortable is implemented by TemplateView and ProposalView.
type Sortable interface {
	sortName() string
	sortCreatedAt() time.Time
	sortID() string
}

// Sort returns a new slice ordered by key. Names compare case-insensitively;
// ties fall back to the id so that descending is the exact reverse of
// ascending.
func Sort[T Sortable](items []T, key SortKey, dir Direction) []T {
	out := make([]T, len(items))
	copy(out, items)

	less := func(a, b T) bool {
		switch key {
		case SortByName:
			an, bn := strings.ToLower(a.sortName()), strings.ToLower(b.sortName())
			if an != bn {
				return an < bn
			}
		default:
			at, bt := a.sortCreatedAt(), b.sortCreatedAt()
			if !at.Equal(bt) {
				return at.Before(bt)
			}
		}
		return a.sortID() < b.sortID()
	}

	sort.SliceStable(out, func(i, j int) bool {
		if dir == Descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}
