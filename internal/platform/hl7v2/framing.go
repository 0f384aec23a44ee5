package hl7v2

import (
	"bytes"
)

const (
	// MLLPStartBlock is the MLLP start-of-message byte (VT / vertical tab).
	MLLPStartBlock = 0x0B

	// MLLPEndBlock is the MLLP end-of-message byte (FS / file separator).
	MLLPEndBlock = 0x1C

	// MLLPCarriageReturn is the trailing CR after the end block.
	MLLPCarriageReturn = 0x0D
)

// FrameMessage wraps raw HL7v2 bytes in MLLP framing:
//
//	<0x0B> + message + <0x1C><0x0D>
func FrameMessage(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, MLLPStartBlock)
	frame = append(frame, data...)
	frame = append(frame, MLLPEndBlock, MLLPCarriageReturn)
	return frame
}

// UnframeMessage extracts HL7v2 bytes from an MLLP frame. It returns the
// extracted message, any remaining bytes after the frame, and whether a
// complete frame was found.
func UnframeMessage(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, MLLPStartBlock)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{MLLPEndBlock, MLLPCarriageReturn}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// SplitMessages splits the contents of a message file into individual
// messages. Files captured from an MLLP feed keep their frames; plain files
// hold one message after another, each starting with an MSH segment.
func SplitMessages(data []byte) [][]byte {
	if bytes.IndexByte(data, MLLPStartBlock) >= 0 {
		var out [][]byte
		for {
			msg, rest, ok := UnframeMessage(data)
			if !ok {
				return out
			}
			out = append(out, msg)
			data = rest
		}
	}

	var (
		out []byte
		all [][]byte
	)
	for _, line := range bytes.FieldsFunc(data, func(r rune) bool { return r == '\r' || r == '\n' }) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("MSH")) && len(out) > 0 {
			all = append(all, out)
			out = nil
		}
		if len(out) > 0 {
			out = append(out, '\r')
		}
		out = append(out, line...)
	}
	if len(out) > 0 {
		all = append(all, out)
	}
	return all
}
