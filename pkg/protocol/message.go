// Package protocol defines the binary record used to store chat messages in
// key-value and stream backends.
//
// The encoding is protobuf wire format, written directly with protowire:
//
//	message Record {
//	  string id           = 1;
//	  string room_id      = 2;
//	  string sender_id    = 3;
//	  string content      = 4;
//	  string message_type = 5;
//	  int64  sent_at_nano = 6;
//	  bool   is_read      = 7;
//	}
package protocol

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldID protowire.Number = iota + 1
	fieldRoomID
	fieldSenderID
	fieldContent
	fieldType
	fieldSentAt
	fieldIsRead
)

// ErrMalformed is returned by Decode for data that is not a Record.
var ErrMalformed = errors.New("malformed record")

// Record is a persisted chat message.
type Record struct {
	ID       string
	RoomID   string
	SenderID string
	Content  string
	Type     string
	SentAt   time.Time
	IsRead   bool
}

// Encode encodes the record into bytes
func (r *Record) Encode() ([]byte, error) {
	if r.RoomID == "" {
		return nil, fmt.Errorf("failed to encode record: %w: empty room id", ErrMalformed)
	}
	b := make([]byte, 0, 64+len(r.Content))
	b = appendString(b, fieldID, r.ID)
	b = appendString(b, fieldRoomID, r.RoomID)
	b = appendString(b, fieldSenderID, r.SenderID)
	b = appendString(b, fieldContent, r.Content)
	b = appendString(b, fieldType, r.Type)
	if !r.SentAt.IsZero() {
		b = protowire.AppendTag(b, fieldSentAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.SentAt.UnixNano()))
	}
	if r.IsRead {
		b = protowire.AppendTag(b, fieldIsRead, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b, nil
}

// Decode decodes bytes into the record. Unknown fields are skipped.
func (r *Record) Decode(data []byte) error {
	*r = Record{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return decodeErr(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			r.ID, n = protowire.ConsumeString(data)
		case num == fieldRoomID && typ == protowire.BytesType:
			r.RoomID, n = protowire.ConsumeString(data)
		case num == fieldSenderID && typ == protowire.BytesType:
			r.SenderID, n = protowire.ConsumeString(data)
		case num == fieldContent && typ == protowire.BytesType:
			r.Content, n = protowire.ConsumeString(data)
		case num == fieldType && typ == protowire.BytesType:
			r.Type, n = protowire.ConsumeString(data)
		case num == fieldSentAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			r.SentAt = time.Unix(0, int64(v)).UTC()
		case num == fieldIsRead && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			r.IsRead = protowire.DecodeBool(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return decodeErr(protowire.ParseError(n))
		}
		data = data[n:]
	}
	if r.RoomID == "" {
		return fmt.Errorf("failed to decode record: %w: missing room id", ErrMalformed)
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func decodeErr(err error) error {
	return fmt.Errorf("failed to decode record: %w: %w", ErrMalformed, err)
}
