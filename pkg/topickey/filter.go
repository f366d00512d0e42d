package topickey

import "strings"

// Filter builds a subscription filter for key. Empty EntityID, Subject or SourceID
// become the single-level wildcard; the base path is used verbatim.
func Filter(key Key) string {
	wild := func(s string) string {
		if s == "" {
			return SingleLevelWildcard
		}
		return s
	}
	return Key{
		BasePath: key.BasePath,
		EntityID: wild(key.EntityID),
		Subject:  wild(key.Subject),
		SourceID: wild(key.SourceID),
	}.String()
}

// Match reports whether topic is selected by an MQTT-style filter. "+" matches exactly
// one level and a trailing "#" matches any remaining levels, including none. Topics
// beginning with "$" are not matched by a leading wildcard.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	f := strings.Split(filter, Separator)
	t := strings.Split(topic, Separator)

	if strings.HasPrefix(topic, "$") && (f[0] == SingleLevelWildcard || f[0] == MultiLevelWildcard) {
		return false
	}

	for i, level := range f {
		if level == MultiLevelWildcard {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != SingleLevelWildcard && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// ValidFilter reports whether filter is well formed: wildcards occupy whole levels and
// "#" appears only as the last level.
func ValidFilter(filter string) bool {
	if filter == "" || strings.ContainsRune(filter, 0) {
		return false
	}
	levels := strings.Split(filter, Separator)
	for i, level := range levels {
		switch {
		case level == MultiLevelWildcard:
			if i != len(levels)-1 {
				return false
			}
		case level == SingleLevelWildcard:
		case strings.ContainsAny(level, SingleLevelWildcard+MultiLevelWildcard):
			return false
		}
	}
	return true
}

// ValidTopic reports whether topic can be published to: non-empty and free of
// wildcards and NUL.
func ValidTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, reservedChars)
}

// MatchesBelow reports whether filter selects at least one topic below prefix, that is
// a topic of the form prefix/<one or more levels>.
func MatchesBelow(filter, prefix string) bool {
	if filter == "" || prefix == "" {
		return false
	}
	f := strings.Split(filter, Separator)
	p := strings.Split(prefix, Separator)

	if strings.HasPrefix(prefix, "$") && (f[0] == SingleLevelWildcard || f[0] == MultiLevelWildcard) {
		return false
	}

	for i, level := range p {
		if i >= len(f) {
			return false
		}
		if f[i] == MultiLevelWildcard {
			return true
		}
		if f[i] != SingleLevelWildcard && f[i] != level {
			return false
		}
	}
	return len(f) > len(p)
}
