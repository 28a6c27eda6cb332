package sagent

import (
	"encoding/binary"

	"adbcast/sdriver"
)

// Replies to control requests share the binary channel with media.
// Annex B video starts with 00 00 00 01, so replies start with
// 00 00 00 02 followed by a reply kind.
var replyPrefix = []byte{0x00, 0x00, 0x00, 0x02}

const (
	ReplyGetClipboard byte = 0x00
	ReplySetClipboard byte = 0x01
)

// FeedbackMessage frames the reply to a clipboard request for a
// websocket client. Other events have no reply and yield nil.
func FeedbackMessage(ev sdriver.Event, r sdriver.Reply) []byte {
	switch ev.Type() {
	case sdriver.EventGetClipboard:
		msg := append(append([]byte{}, replyPrefix...), ReplyGetClipboard)
		return append(msg, r.Clipboard...)
	case sdriver.EventSetClipboard:
		msg := append(append([]byte{}, replyPrefix...), ReplySetClipboard)
		return binary.BigEndian.AppendUint64(msg, r.Sequence)
	}
	return nil
}
