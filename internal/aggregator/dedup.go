package aggregator

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"calagg/internal/models"
)

// DedupTolerance is the largest start difference under which two events
// with the same normalized title are the same real-world event.
const DedupTolerance = 5 * time.Minute

// Priority is a total order over source tags used to pick which copy of a
// duplicate survives. Sources missing from the list rank after listed ones,
// alphabetically among themselves.
type Priority []models.Source

func (p Priority) compare(a, b models.Source) int {
	ra, rb := p.rank(a), p.rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if ra == len(p) {
		return strings.Compare(string(a), string(b))
	}
	return 0
}

func (p Priority) rank(s models.Source) int {
	if i := slices.Index(p, s); i >= 0 {
		return i
	}
	return len(p)
}

// NormalizeTitle folds case and collapses whitespace.
func NormalizeTitle(title string) string {
	return cases.Fold().String(strings.Join(strings.Fields(title), " "))
}

// Merge deduplicates events and returns them in display order. Events are
// first ordered by (start, priority, id); scanning left to right, an event
// is dropped when it duplicates the last kept event carrying the same
// normalized title. The anchor is tracked per title, so kept events with
// other titles in between never reset it. Merge is idempotent.
func Merge(events []models.Event, priority Priority) []models.Event {
	work := slices.Clone(events)
	slices.SortFunc(work, func(a, b models.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := priority.compare(a.Source, b.Source); c != 0 {
			return c
		}
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return displayOrder(a, b)
	})

	kept := make([]models.Event, 0, len(work))
	lastKept := make(map[string]time.Time, len(work))
	for _, e := range work {
		key := NormalizeTitle(e.Title)
		if start, ok := lastKept[key]; ok && e.Start.Sub(start) <= DedupTolerance {
			continue
		}
		lastKept[key] = e.Start
		kept = append(kept, e)
	}

	slices.SortFunc(kept, displayOrder)
	return kept
}

// displayOrder sorts by start, then title, id and source.
func displayOrder(a, b models.Event) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return strings.Compare(string(a.Source), string(b.Source))
}
