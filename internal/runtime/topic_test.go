package runtime

import (
	"errors"
	"strings"
	"testing"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
)

func TestTopicCanonicalRoundTrip(t *testing.T) {
	for _, path := range []string{"IDENTIFY", "cluster_3", "verifyall:123", "a:b:c", "A::B"} {
		topic, err := NewTopic(path)
		if err != nil {
			t.Fatalf("NewTopic(%q): %v", path, err)
		}
		again, err := NewTopic(topic.String())
		if err != nil {
			t.Fatalf("NewTopic(canonical %q): %v", topic.String(), err)
		}
		if again.String() != topic.String() {
			t.Fatalf("canonical form not stable: %q vs %q", again.String(), topic.String())
		}
	}
}

func TestTopicStringUpperCasesAndJoins(t *testing.T) {
	topic, err := TopicFromSegments([]string{"reply", "01hx"})
	if err != nil {
		t.Fatalf("TopicFromSegments: %v", err)
	}
	if got := topic.String(); got != "REPLY:01HX" {
		t.Fatalf("String() = %q, want REPLY:01HX", got)
	}
	if topic.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", topic.Len())
	}
}

func TestTopicEmptyIsRejected(t *testing.T) {
	var invalid *errspkg.InvalidTopicError

	if _, err := NewTopic(""); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError for empty string, got %v", err)
	}
	if _, err := TopicFromSegments(nil); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError for no segments, got %v", err)
	}
	if _, err := ParseTopic(Topic{}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError for zero Topic, got %v", err)
	}
	if _, err := TopicFromSegments([]string{""}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError for a single empty segment, got %v", err)
	}
	if _, err := ParseTopic([]string{""}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTopicError from ParseTopic for a single empty segment, got %v", err)
	}
}

func TestTopicFromSegmentsMatchesNewTopic(t *testing.T) {
	for _, path := range []string{"a", "a:b", ":", "a:"} {
		fromPath, err := NewTopic(path)
		if err != nil {
			t.Fatalf("NewTopic(%q): %v", path, err)
		}
		fromSegments, err := TopicFromSegments(strings.Split(path, TopicSeparator))
		if err != nil {
			t.Fatalf("TopicFromSegments(%q): %v", path, err)
		}
		if !fromPath.Equal(fromSegments) {
			t.Fatalf("%q: %q != %q", path, fromPath, fromSegments)
		}
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{"string", "identify", "IDENTIFY", false},
		{"segments", []string{"cache", "lookup"}, "CACHE:LOOKUP", false},
		{"topic", MustTopic("x:y"), "X:Y", false},
		{"int", 42, "", true},
		{"nil", nil, "", true},
		{"any slice", []any{"a"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopic(tt.input)
			if tt.wantErr {
				var invalid *errspkg.InvalidTopicError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidTopicError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("String() = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestTopicEqualityIsCaseInsensitive(t *testing.T) {
	a := MustTopic("cluster_1")
	b := MustTopic("CLUSTER_1")

	if !a.Equal(b) || !b.Equal(a) {
		t.Fatal("expected case-insensitive topic equality")
	}
	if !a.EqualString("Cluster_1") {
		t.Fatal("expected EqualString to canonicalise its argument")
	}
	if a.EqualString("cluster_2") {
		t.Fatal("different topics must not be equal")
	}
}

func TestTopicEqualSegmentsIsElementWise(t *testing.T) {
	topic := MustTopic("verifyall:123")

	if !topic.EqualSegments([]string{"verifyall", "123"}) {
		t.Fatal("expected identical segments to match")
	}
	if topic.EqualSegments([]string{"verifyall"}) {
		t.Fatal("expected shorter sequence not to match")
	}
}

func TestTopicMatches(t *testing.T) {
	topic := MustTopic("identify")

	if !topic.Matches("IDENTIFY") {
		t.Fatal("expected string match")
	}
	if !topic.Matches([]string{"identify"}) {
		t.Fatal("expected sequence match")
	}
	if !topic.Matches(MustTopic("Identify")) {
		t.Fatal("expected topic match")
	}
	for _, other := range []any{42, nil, 3.5, struct{}{}} {
		if topic.Matches(other) {
			t.Fatalf("expected %#v not to match", other)
		}
	}
}

func TestTopicSegment(t *testing.T) {
	topic := MustTopic("a:b")

	if s, ok := topic.Segment(1); !ok || s != "b" {
		t.Fatalf("Segment(1) = %q, %v", s, ok)
	}
	if _, ok := topic.Segment(2); ok {
		t.Fatal("expected out-of-range segment to report false")
	}
	if _, ok := topic.Segment(-1); ok {
		t.Fatal("expected negative index to report false")
	}
	if head := topic.Head(); head.String() != "A" {
		t.Fatalf("Head() = %q, want A", head.String())
	}
}

func TestTopicSegmentsAreCopied(t *testing.T) {
	segments := []string{"a", "b"}
	topic, _ := TopicFromSegments(segments)
	segments[0] = "z"

	got := topic.Segments()
	got[1] = "y"

	if topic.String() != "A:B" {
		t.Fatalf("topic mutated through shared slice: %q", topic.String())
	}
}

func TestMustTopicPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty topic")
		}
	}()
	MustTopic("")
}
