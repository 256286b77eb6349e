package slots

// Set is a set of "HH:MM" slot times or "2006-01-02" dates.
type Set map[string]struct{}

// NewSet normalizes time-of-day members to "HH:MM" so "19:00:00" and "19:00" collide.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func (s Set) Add(item string) {
	if norm, err := NormalizeClock(item); err == nil {
		item = norm
	}
	s[item] = struct{}{}
}

func (s Set) Has(item string) bool {
	if len(s) == 0 {
		return false
	}
	if norm, err := NormalizeClock(item); err == nil {
		item = norm
	}
	_, ok := s[item]
	return ok
}
