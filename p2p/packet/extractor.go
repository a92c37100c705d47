package packet

import (
	"encoding/base64"
	"encoding/json"
)

const (
	headByte = '<'
	tailByte = '>'
)

// Extractor is a streaming byte-level state machine that reconstructs
// complete PacketContent values out of arbitrarily chunked TCP reads.
//
// A single read may contain zero, one, or many complete frames, and at most
// one partial frame straddling the end of the chunk; Extractor keeps that
// partial state between Feed calls. It scans raw bytes rather than decoded
// UTF-8 runes, so a frame boundary split across a multi-byte character in a
// neighboring frame (the original protocol's from_utf8_lossy hazard) can
// never desynchronize the delimiter scan.
type Extractor struct {
	body []byte
	open bool // true from '<' until the matching '>' closes the frame
}

// NewExtractor returns an empty extractor ready to consume a fresh stream.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed consumes a chunk of raw bytes and returns every complete PacketContent
// found, in order. A frame whose body fails to base64-decode or parse as
// PacketContent JSON is silently dropped; callers see one fewer result, not
// an error, so one corrupt frame never interrupts the stream.
//
// Seeing a new '<' always resynchronizes: any partial frame already open is
// discarded, matching the "a fresh head always wins" recovery behavior
// required when a peer reconnects mid-frame or a prior frame was truncated.
func (e *Extractor) Feed(chunk []byte) []PacketContent {
	var out []PacketContent
	for _, b := range chunk {
		switch b {
		case headByte:
			e.body = e.body[:0]
			e.open = true
		case tailByte:
			if !e.open {
				continue // stray '>' with no preceding '<'; ignore
			}
			if pc, ok := decodeFrameBody(e.body); ok {
				out = append(out, pc)
			}
			e.body = e.body[:0]
			e.open = false
		default:
			if e.open {
				e.body = append(e.body, b)
			}
			// bytes outside any '<'...'>' span are inter-frame noise
		}
	}
	return out
}

func decodeFrameBody(body []byte) (PacketContent, bool) {
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(decoded, body)
	if err != nil {
		return PacketContent{}, false
	}
	var pc PacketContent
	if err := json.Unmarshal(decoded[:n], &pc); err != nil {
		return PacketContent{}, false
	}
	return pc, true
}
