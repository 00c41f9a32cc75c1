package feed

import (
	"sync"

	"github.com/ptgott/one-calendar/storage"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// keyOrdering compares storage keys the way feeds are presented to users.
// A collate.Collator keeps scratch buffers, so a keyOrdering must not be used
// from more than one goroutine at a time.
type keyOrdering struct {
	col *collate.Collator
}

func newKeyOrdering(tag language.Tag) *keyOrdering {
	return &keyOrdering{col: collate.New(tag)}
}

// compare returns -1, 0 or 1. Shorter keys come first. Keys of equal length
// are compared segment by segment and the first difference wins.
func (o *keyOrdering) compare(a, b storage.Key) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	for i := range a {
		if c := o.col.CompareString(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

var orderingPool = sync.Pool{
	New: func() interface{} {
		return newKeyOrdering(language.Und)
	},
}

// CompareKeys orders a and b using the root collation. It's safe for
// concurrent use.
func CompareKeys(a, b storage.Key) int {
	o := orderingPool.Get().(*keyOrdering)
	defer orderingPool.Put(o)
	return o.compare(a, b)
}
