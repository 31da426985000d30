package protocol

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRecord_DecodeSkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = appendString(b, fieldRoomID, "room")
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = appendString(b, fieldContent, "hi")

	var rec Record
	if err := rec.Decode(b); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.RoomID != "room" || rec.Content != "hi" {
		t.Errorf("Decode() = %+v, want room/hi", rec)
	}
}

func TestRecord_DecodeIgnoresWrongWireType(t *testing.T) {
	var b []byte
	b = appendString(b, fieldRoomID, "room")
	b = protowire.AppendTag(b, fieldSenderID, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)

	var rec Record
	if err := rec.Decode(b); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.SenderID != "" {
		t.Errorf("SenderID = %q, want empty", rec.SenderID)
	}
}

func TestAppendString_OmitsEmpty(t *testing.T) {
	if got := appendString(nil, fieldID, ""); len(got) != 0 {
		t.Errorf("appendString() = %v, want empty", got)
	}
}
