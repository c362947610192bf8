package model

import "testing"

func TestTagValues(t *testing.T) {
	ev := &Event{Tags: [][]string{{"p", "bob"}, {"e", "x"}, {"p", "carol", "wss://r"}, {"p"}}}
	got := ev.TagValues("p")
	if len(got) != 2 || got[0] != "bob" || got[1] != "carol" {
		t.Fatalf("TagValues(p) = %v", got)
	}
	if got := ev.TagValues("t"); got != nil {
		t.Errorf("TagValues(t) = %v, want nil", got)
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"id":"a","pubkey":"alice","kind":3,"created_at":9,"content":""}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Author != "alice" || ev.Kind != 3 || ev.Tags == nil {
		t.Errorf("event = %+v", ev)
	}
	if _, err := ParseEvent([]byte(`{"id":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestIsMetadataKind(t *testing.T) {
	for kind, want := range map[int]bool{KindProfile: true, KindNote: false, KindContacts: true, 7: false} {
		if got := IsMetadataKind(kind); got != want {
			t.Errorf("IsMetadataKind(%d) = %v, want %v", kind, got, want)
		}
	}
}

func TestComputeID(t *testing.T) {
	ev := &Event{
		Author:    "alice",
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{{"p", "bob"}},
		Content:   "hi <there> & bye",
	}
	const want = "757de35921c5f3d831a1f89810f12c92bf0e893df1c44a5b018566c076151be5"
	if got := ev.ComputeID(); got != want {
		t.Fatalf("ComputeID = %s, want %s", got, want)
	}

	// ID and Sig are not part of the preimage.
	ev.ID, ev.Sig = "ignored", "ignored"
	if got := ev.ComputeID(); got != want {
		t.Errorf("ComputeID changed with id/sig: %s", got)
	}

	ev.Content = "changed"
	if ev.ComputeID() == want {
		t.Error("ComputeID should change with content")
	}
}
