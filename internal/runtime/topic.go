package runtime

import (
	"slices"
	"strings"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	bus "github.com/drblury/protorelay/transport"
)

// TopicSeparator joins topic segments in the canonical form. It is the
// transport separator, so prefix subscriptions line up with segments.
const TopicSeparator = bus.Separator

// Topic is a hierarchical channel address made of ordered segments. Its
// canonical form joins the segments with ":" and upper-cases the result;
// that string is both the bus channel name and the equality key.
type Topic struct {
	segments []string
}

// NewTopic splits path on ":". The empty string has no segments and is rejected.
func NewTopic(path string) (Topic, error) {
	if path == "" {
		return Topic{}, &errspkg.InvalidTopicError{Input: path, Reason: "topic has no segments"}
	}
	return Topic{segments: strings.Split(path, TopicSeparator)}, nil
}

// TopicFromSegments builds a topic from already split segments. Like
// NewTopic, it rejects segments whose canonical form is empty.
func TopicFromSegments(segments []string) (Topic, error) {
	if len(segments) == 0 || strings.Join(segments, TopicSeparator) == "" {
		return Topic{}, &errspkg.InvalidTopicError{Input: segments, Reason: "topic has no segments"}
	}
	return Topic{segments: slices.Clone(segments)}, nil
}

// ParseTopic accepts a string, a []string, or a Topic.
func ParseTopic(v any) (Topic, error) {
	switch t := v.(type) {
	case string:
		return NewTopic(t)
	case []string:
		return TopicFromSegments(t)
	case Topic:
		if t.IsZero() || t.String() == "" {
			return Topic{}, &errspkg.InvalidTopicError{Input: v, Reason: "topic has no segments"}
		}
		return t, nil
	default:
		return Topic{}, &errspkg.InvalidTopicError{Input: v, Reason: "expected a string or a sequence of strings"}
	}
}

// MustTopic is NewTopic for static endpoint definitions; it panics on error.
func MustTopic(path string) Topic {
	t, err := NewTopic(path)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical form.
func (t Topic) String() string {
	return strings.ToUpper(strings.Join(t.segments, TopicSeparator))
}

// Segments returns a copy of the raw segments.
func (t Topic) Segments() []string {
	return slices.Clone(t.segments)
}

func (t Topic) Len() int { return len(t.segments) }

func (t Topic) IsZero() bool { return len(t.segments) == 0 }

// Segment returns the i-th raw segment, or false when i is out of range.
func (t Topic) Segment(i int) (string, bool) {
	if i < 0 || i >= len(t.segments) {
		return "", false
	}
	return t.segments[i], true
}

// Head returns the topic made of the first segment only.
func (t Topic) Head() Topic {
	if t.IsZero() {
		return Topic{}
	}
	return Topic{segments: t.segments[:1:1]}
}

// Equal compares canonical forms, so it is case-insensitive.
func (t Topic) Equal(other Topic) bool {
	return !t.IsZero() && t.String() == other.String()
}

// EqualString compares against the canonicalised string.
func (t Topic) EqualString(s string) bool {
	return !t.IsZero() && t.String() == strings.ToUpper(s)
}

// EqualSegments compares the raw segments element-wise.
func (t Topic) EqualSegments(segments []string) bool {
	return !t.IsZero() && slices.Equal(t.segments, segments)
}

// Matches compares against a string, a segment sequence, or another Topic.
// Any other value never matches.
func (t Topic) Matches(v any) bool {
	switch o := v.(type) {
	case string:
		return t.EqualString(o)
	case []string:
		return t.EqualSegments(o)
	case Topic:
		return t.Equal(o)
	default:
		return false
	}
}
