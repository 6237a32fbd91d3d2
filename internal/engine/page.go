package engine

import (
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/planner"
	"dcsa-query/internal/request"
)

// Page is one page of results with the cursor tokens linking to its neighbours.
// An empty token means there is no such page.
type Page[T any] struct {
	Items []T
	// Current re-requests this page.
	Current string
	First   string
	Prev    string
	Next    string
	// Total is set when a count was requested.
	Total *int64
}

func buildPage[T any](opts request.Options, st *request.State, plan *planner.Plan, f *fetched[T], total *int64) (*Page[T], error) {
	items, keys := f.items, f.keys
	if plan.Backward {
		reverse(items)
		reverse(keys)
	}

	base := st.CursorTemplate()
	base.Total = total

	links := pageLinks{}
	current := base
	current.Offset = st.Offset()
	current.Backward = st.Backward()
	current.Values = cursor.EncodeValues(st.Position())
	links.current = &current

	first := base
	links.first = &first

	if st.Mode() == cursor.ModeOffset {
		if f.hasMore {
			next := base
			next.Offset = st.Offset() + st.PageSize()
			links.next = &next
		}
		if st.Offset() > 0 {
			prev := base
			prev.Offset = max(0, st.Offset()-st.PageSize())
			links.prev = &prev
		}
	} else {
		hasPosition := len(st.Position()) > 0
		// A backward page ran in reverse, so the extra row lies before it.
		moreAfter := f.hasMore
		moreBefore := hasPosition
		if st.Backward() {
			moreAfter, moreBefore = hasPosition, f.hasMore
		}
		if moreAfter && len(items) > 0 {
			next := base
			next.Values = cursor.EncodeValues(keys[len(keys)-1])
			links.next = &next
		}
		if moreBefore && len(items) > 0 {
			prev := base
			prev.Backward = true
			prev.Values = cursor.EncodeValues(keys[0])
			links.prev = &prev
		}
	}

	page := &Page[T]{Items: items, Total: total}
	if page.Items == nil {
		page.Items = []T{}
	}
	var err error
	if page.Current, err = encode(opts.Codec, links.current); err != nil {
		return nil, err
	}
	if page.First, err = encode(opts.Codec, links.first); err != nil {
		return nil, err
	}
	if page.Prev, err = encode(opts.Codec, links.prev); err != nil {
		return nil, err
	}
	if page.Next, err = encode(opts.Codec, links.next); err != nil {
		return nil, err
	}
	return page, nil
}

type pageLinks struct {
	current, first, prev, next *cursor.Cursor
}

func encode(codec *cursor.Codec, c *cursor.Cursor) (string, error) {
	if c == nil {
		return "", nil
	}
	return codec.Encode(*c)
}

func reverse[S ~[]E, E any](s S) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
