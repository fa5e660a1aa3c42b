package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{KeyMessageID: "1", KeyReplyTo: "2"}
	clone := original.Clone()
	clone[KeyMessageID] = "changed"

	if original[KeyMessageID] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original[KeyMessageID])
	}

	var empty Metadata
	if empty.Clone() == nil {
		t.Fatal("expected non-nil clone of nil metadata")
	}
}

func TestWithSkipsEmptyValues(t *testing.T) {
	base := New(KeySender, "app://./a")
	enriched := base.With(KeyTraceID, "abc").With(KeyReplyTo, "")

	if _, ok := base[KeyTraceID]; ok {
		t.Fatal("expected base map to remain unchanged")
	}
	if enriched[KeyTraceID] != "abc" {
		t.Fatalf("expected trace id to be set, got %q", enriched[KeyTraceID])
	}
	if _, ok := enriched[KeyReplyTo]; ok {
		t.Fatal("expected empty value to be skipped")
	}
}

func TestNewIgnoresDanglingKey(t *testing.T) {
	md := New("a", "1", "dangling")
	if len(md) != 1 || md["a"] != "1" {
		t.Fatalf("unexpected metadata %#v", md)
	}
}

func TestBoolHeaders(t *testing.T) {
	md := Metadata{}
	md.SetBool(KeyOneWay, true)
	if !md.Bool(KeyOneWay) {
		t.Fatal("expected one-way header")
	}
	md.SetBool(KeyOneWay, false)
	if _, ok := md[KeyOneWay]; ok {
		t.Fatal("expected false to remove the header")
	}
	if (Metadata{KeyOneWay: "garbage"}).Bool(KeyOneWay) {
		t.Fatal("expected unparsable header to read as false")
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{KeyContentType: "orders.get"}
	wm := ToWatermill(md)
	wm[KeyContentType] = "mutation"
	if md[KeyContentType] != "orders.get" {
		t.Fatal("expected original metadata to be isolated from watermill changes")
	}

	back := FromWatermill(message.Metadata{KeyMessageID: "01J"})
	if back[KeyMessageID] != "01J" {
		t.Fatal("expected watermill metadata to convert back")
	}
	if FromWatermill(nil) == nil {
		t.Fatal("expected non-nil map")
	}
}
