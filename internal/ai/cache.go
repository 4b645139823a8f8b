package ai

// MaxCacheMarkers is the provider's hard limit on cache breakpoints per
// request.
const MaxCacheMarkers = 4

// ApplyCacheBudget marks the newest content block of history as cache
// eligible and then strips markers from the oldest blocks until at most
// MaxCacheMarkers remain. It mutates history in place and is idempotent.
func ApplyCacheBudget(history []Message) {
	if len(history) == 0 {
		return
	}

	last := &history[len(history)-1]
	switch last.Content.Kind {
	case ContentPlain:
		last.CacheMarked = true
	case ContentParts:
		if n := len(last.Content.Parts); n > 0 {
			last.Content.Parts[n-1].CacheMarked = true
		}
	}

	excess := CountCacheMarkers(history) - MaxCacheMarkers
	if excess <= 0 {
		return
	}
	for i := range history {
		if excess == 0 {
			return
		}
		m := &history[i]
		if m.CacheMarked {
			m.CacheMarked = false
			excess--
			if excess == 0 {
				return
			}
		}
		if m.Content.Kind != ContentParts {
			continue
		}
		for j := range m.Content.Parts {
			if excess == 0 {
				return
			}
			if m.Content.Parts[j].CacheMarked {
				m.Content.Parts[j].CacheMarked = false
				excess--
			}
		}
	}
}

// CountCacheMarkers counts message-level and part-level markers.
func CountCacheMarkers(history []Message) int {
	n := 0
	for _, m := range history {
		if m.CacheMarked {
			n++
		}
		if m.Content.Kind != ContentParts {
			continue
		}
		for _, p := range m.Content.Parts {
			if p.CacheMarked {
				n++
			}
		}
	}
	return n
}
