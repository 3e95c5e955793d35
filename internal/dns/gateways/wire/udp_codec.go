// Package wire provides encoding and decoding of DNS messages for UDP
// transport. It handles the DNS wire format as specified in RFC 1035,
// including name compression on both paths.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/rrdata"
	"github.com/nanodns/nanodns/internal/dns/common/utils"
	"github.com/nanodns/nanodns/internal/dns/domain"
)

const (
	headerLen = 12
	// maxNameLen bounds a decoded name; RFC 1035 limits names to 255 octets.
	maxNameLen = 255
	// maxPointerJumps bounds compression indirection independently of the
	// strictly-backwards rule, as defense in depth.
	maxPointerJumps = 16
)

// udpCodec implements Codec for standard DNS over UDP messages.
type udpCodec struct{}

// NewUDPCodec creates and returns a new instance of udpCodec.
func NewUDPCodec() Codec {
	return &udpCodec{}
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrFormat, fmt.Sprintf(format, args...))
}

// Decode parses a full DNS message from data.
func (c *udpCodec) Decode(data []byte, now time.Time) (domain.Message, error) {
	if len(data) < headerLen {
		return domain.Message{}, formatErr("message too short: %d bytes", len(data))
	}

	msg := domain.Message{
		ID:    binary.BigEndian.Uint16(data[0:2]),
		Flags: domain.FlagsFromWord(binary.BigEndian.Uint16(data[2:4])),
	}
	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])
	nsCount := binary.BigEndian.Uint16(data[8:10])
	arCount := binary.BigEndian.Uint16(data[10:12])

	offset := headerLen
	for i := 0; i < int(qdCount); i++ {
		name, next, err := decodeName(data, offset)
		if err != nil {
			return domain.Message{}, err
		}
		offset = next
		if offset+4 > len(data) {
			return domain.Message{}, formatErr("truncated question %d", i)
		}
		q := domain.Question{
			Name:  name,
			Type:  domain.RRType(binary.BigEndian.Uint16(data[offset : offset+2])),
			Class: domain.RRClass(binary.BigEndian.Uint16(data[offset+2 : offset+4])),
		}
		offset += 4
		msg.Questions = append(msg.Questions, q)
	}

	var err error
	if msg.Answers, offset, err = decodeRecordSection(data, offset, int(anCount), "answer", now); err != nil {
		return domain.Message{}, err
	}
	if msg.Authority, offset, err = decodeRecordSection(data, offset, int(nsCount), "authority", now); err != nil {
		return domain.Message{}, err
	}
	if msg.Additional, _, err = decodeRecordSection(data, offset, int(arCount), "additional", now); err != nil {
		return domain.Message{}, err
	}

	return msg, nil
}

// decodeRecordSection parses count records starting at offset.
func decodeRecordSection(data []byte, offset, count int, section string, now time.Time) ([]domain.ResourceRecord, int, error) {
	var records []domain.ResourceRecord
	for i := 0; i < count; i++ {
		rr, next, keep, err := decodeResourceRecord(data, offset, now)
		if err != nil {
			return nil, 0, fmt.Errorf("%s record %d: %w", section, i, err)
		}
		if keep {
			records = append(records, rr)
		}
		offset = next
	}
	return records, offset, nil
}

// decodeResourceRecord extracts a single resource record. Types without an
// rdata codec (HTTPS, SVCB, ...) are carried with their raw wire bytes per
// RFC 3597 so forwarded answers survive re-encoding intact. Pseudo-records
// (OPT) and empty unknown records are parsed past and dropped; keep reports
// whether the record survived.
func decodeResourceRecord(data []byte, offset int, now time.Time) (domain.ResourceRecord, int, bool, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.ResourceRecord{}, 0, false, err
	}

	if offset+10 > len(data) {
		return domain.ResourceRecord{}, 0, false, formatErr("truncated record header after name %q", name)
	}

	typ := domain.RRType(binary.BigEndian.Uint16(data[offset : offset+2]))
	class := domain.RRClass(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
	ttl := binary.BigEndian.Uint32(data[offset+4 : offset+8])
	rdLen := int(binary.BigEndian.Uint16(data[offset+8 : offset+10]))
	offset += 10

	if offset+rdLen > len(data) {
		return domain.ResourceRecord{}, 0, false, formatErr("rdata length %d exceeds remaining buffer", rdLen)
	}
	rdata2 := make([]byte, rdLen)
	copy(rdata2, data[offset:offset+rdLen])
	offset += rdLen

	if typ == 0 || typ == domain.RRTypeOPT || typ == domain.RRTypeANY {
		return domain.ResourceRecord{}, offset, false, nil
	}
	if !typ.IsValid() && rdLen == 0 {
		return domain.ResourceRecord{}, offset, false, nil
	}

	// Best-effort presentation form; Data alone suffices for re-encoding.
	text, _ := rrdata.Decode(typ, rdata2)

	rr, err := domain.NewExpiringResourceRecord(name, typ, class, ttl, rdata2, text, now)
	if err != nil {
		return domain.ResourceRecord{}, 0, false, formatErr("invalid resource record: %v", err)
	}
	return rr, offset, true, nil
}

// decodeName decodes a domain name at offset, following RFC 1035 label
// compression. Pointers must point strictly backwards; forward or cyclic
// pointers and overlong names are format errors.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	nameLen := 0
	jumps := 0
	next := -1 // offset just past the name in the original stream

	for {
		if offset >= len(data) {
			return "", 0, formatErr("name offset out of bounds")
		}
		length := int(data[offset])
		switch {
		case length == 0:
			if next < 0 {
				next = offset + 1
			}
			return strings.Join(labels, "."), next, nil
		case length&0xC0 == 0xC0:
			if offset+1 >= len(data) {
				return "", 0, formatErr("compression pointer out of bounds")
			}
			ptr := int(binary.BigEndian.Uint16(data[offset:offset+2]) & 0x3FFF)
			if ptr >= offset {
				// forward pointers enable cycles; a valid encoder only
				// points at already-emitted names
				return "", 0, formatErr("compression pointer %d not strictly backwards from %d", ptr, offset)
			}
			jumps++
			if jumps > maxPointerJumps {
				return "", 0, formatErr("too many compression pointer jumps")
			}
			if next < 0 {
				next = offset + 2
			}
			offset = ptr
		case length&0xC0 != 0:
			return "", 0, formatErr("reserved label type %02x", length&0xC0)
		default:
			if offset+1+length > len(data) {
				return "", 0, formatErr("label length %d out of bounds", length)
			}
			nameLen += length + 1
			if nameLen > maxNameLen {
				return "", 0, formatErr("name exceeds %d octets", maxNameLen)
			}
			labels = append(labels, string(data[offset+1:offset+1+length]))
			offset += 1 + length
		}
	}
}

// Encode serializes a DNS message into wire format. Owner names that were
// already written are emitted as compression pointers. If the result would
// exceed MaxDatagramSize the answer section is cut short and the TC flag set
// instead of producing an oversized datagram.
func (c *udpCodec) Encode(msg domain.Message, now time.Time) ([]byte, error) {
	encoded, err := c.encodeWithLimit(msg, now, len(msg.Answers))
	if err != nil {
		return nil, err
	}
	if len(encoded) <= MaxDatagramSize {
		return encoded, nil
	}

	// Too big: drop authority/additional, then shed answers from the tail
	// until the datagram fits, and mark it truncated.
	truncated := msg
	truncated.Flags.Truncated = true
	truncated.Authority = nil
	truncated.Additional = nil
	for keep := len(msg.Answers); keep >= 0; keep-- {
		truncated.Answers = msg.Answers[:keep]
		encoded, err = c.encodeWithLimit(truncated, now, keep)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= MaxDatagramSize {
			return encoded, nil
		}
	}
	return nil, formatErr("question section alone exceeds %d bytes", MaxDatagramSize)
}

// encodeWithLimit writes the message with at most maxAnswers answer records.
func (c *udpCodec) encodeWithLimit(msg domain.Message, now time.Time, maxAnswers int) ([]byte, error) {
	if maxAnswers > len(msg.Answers) {
		maxAnswers = len(msg.Answers)
	}
	answers := msg.Answers[:maxAnswers]

	var buf bytes.Buffer
	offsets := make(map[string]int)

	_ = binary.Write(&buf, binary.BigEndian, msg.ID)
	_ = binary.Write(&buf, binary.BigEndian, msg.Flags.Word())
	for _, n := range []int{len(msg.Questions), len(answers), len(msg.Authority), len(msg.Additional)} {
		if n > 65535 {
			return nil, formatErr("section too large: %d entries", n)
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(n))
	}

	for _, q := range msg.Questions {
		if err := writeName(&buf, q.Name, offsets); err != nil {
			return nil, err
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(q.Type))
		_ = binary.Write(&buf, binary.BigEndian, uint16(q.Class))
	}

	for _, section := range [][]domain.ResourceRecord{answers, msg.Authority, msg.Additional} {
		for _, rr := range section {
			if err := writeRecord(&buf, rr, now, offsets); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// writeRecord appends one resource record to buf.
func writeRecord(buf *bytes.Buffer, rr domain.ResourceRecord, now time.Time, offsets map[string]int) error {
	if err := writeName(buf, rr.Name, offsets); err != nil {
		return err
	}
	data := rr.Data
	if len(data) == 0 && rr.Text != "" {
		encoded, err := rrdata.Encode(rr.Type, rr.Text)
		if err != nil {
			return formatErr("cannot encode %s rdata: %v", rr.Type, err)
		}
		data = encoded
	}
	if len(data) > 65535 {
		return formatErr("rdata too large: %d bytes", len(data))
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(rr.Type))
	_ = binary.Write(buf, binary.BigEndian, uint16(rr.Class))
	_ = binary.Write(buf, binary.BigEndian, rr.TTL(now))
	_ = binary.Write(buf, binary.BigEndian, uint16(len(data)))
	buf.Write(data)
	return nil
}

// writeName emits a domain name, compressing whole names already present in
// the message. Per-suffix compression is deliberately left out: whole-name
// pointers cover the dominant case of answers repeating the question name.
func writeName(buf *bytes.Buffer, name string, offsets map[string]int) error {
	key := utils.CanonicalDNSName(name)
	if pos, ok := offsets[key]; ok && pos <= 0x3FFF {
		buf.Write([]byte{0xC0 | byte(pos>>8), byte(pos & 0xFF)})
		return nil
	}
	if buf.Len() <= 0x3FFF && key != "" {
		offsets[key] = buf.Len()
	}

	trimmed := strings.TrimSuffix(name, ".")
	if trimmed != "" {
		for _, label := range strings.Split(trimmed, ".") {
			if len(label) == 0 {
				return formatErr("empty label in name %q", name)
			}
			if len(label) > 63 {
				return formatErr("label too long: %s", label)
			}
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
		}
	}
	buf.WriteByte(0)
	return nil
}
