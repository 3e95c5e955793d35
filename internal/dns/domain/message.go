package domain

import "fmt"

// Flags is the decoded form of the DNS header flags word.
type Flags struct {
	Response           bool
	Opcode             uint8
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	RCode              RCode
}

// Word packs the flags into the 16-bit header representation.
func (f Flags) Word() uint16 {
	var w uint16
	if f.Response {
		w |= 0x8000
	}
	w |= uint16(f.Opcode&0x0F) << 11
	if f.Authoritative {
		w |= 0x0400
	}
	if f.Truncated {
		w |= 0x0200
	}
	if f.RecursionDesired {
		w |= 0x0100
	}
	if f.RecursionAvailable {
		w |= 0x0080
	}
	w |= uint16(f.RCode) & 0x000F
	return w
}

// FlagsFromWord unpacks the 16-bit header flags word.
func FlagsFromWord(w uint16) Flags {
	return Flags{
		Response:           w&0x8000 != 0,
		Opcode:             uint8(w >> 11 & 0x0F),
		Authoritative:      w&0x0400 != 0,
		Truncated:          w&0x0200 != 0,
		RecursionDesired:   w&0x0100 != 0,
		RecursionAvailable: w&0x0080 != 0,
		RCode:              RCode(w & 0x000F),
	}
}

// Message represents a complete DNS message: header plus the four sections.
// The section count fields of the wire header are derived from the slice
// lengths on encode; the codec rejects messages whose header counts disagree
// with the bytes that follow on decode.
type Message struct {
	ID         uint16
	Flags      Flags
	Questions  []Question
	Answers    []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// NewQueryMessage builds a recursion-desired query for the given questions.
func NewQueryMessage(id uint16, questions ...Question) Message {
	return Message{
		ID:        id,
		Flags:     Flags{RecursionDesired: true},
		Questions: questions,
	}
}

// NewResponseMessage builds a response to the given message, echoing its
// questions and recursion-desired bit.
func NewResponseMessage(req Message, rcode RCode, answers []ResourceRecord) Message {
	return Message{
		ID: req.ID,
		Flags: Flags{
			Response:           true,
			Authoritative:      rcode == NOERROR || rcode == NXDOMAIN,
			RecursionDesired:   req.Flags.RecursionDesired,
			RecursionAvailable: true,
			RCode:              rcode,
		},
		Questions: req.Questions,
		Answers:   answers,
	}
}

// Validate performs structural checks on the message.
func (m Message) Validate() error {
	for _, q := range m.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("invalid question: %w", err)
		}
	}
	for _, sec := range [][]ResourceRecord{m.Answers, m.Authority, m.Additional} {
		for _, rr := range sec {
			if err := rr.Validate(); err != nil {
				return fmt.Errorf("invalid record: %w", err)
			}
		}
	}
	return nil
}
