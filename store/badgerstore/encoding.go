package badgerstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/physical"
)

// Key layout:
//
//	documents: d 0x00 <_id>
//	slots:     s 0x00 <slot> 0x00 <key> 0x00 <_id>
//
// Keys and identities are escaped so 0x00 only appears as a separator,
// which keeps byte order equal to the order of the encoded strings.
const (
	keySeparator byte = 0x00
	docMarker    byte = 'd'
	slotMarker   byte = 's'
)

func docPrefix() []byte {
	return []byte{docMarker, keySeparator}
}

func docKey(id string) []byte {
	return append(docPrefix(), escapeBytes([]byte(id))...)
}

func slotPrefix(slot index.Slot) []byte {
	var buf bytes.Buffer
	buf.WriteByte(slotMarker)
	buf.WriteByte(keySeparator)
	buf.WriteString(string(slot))
	buf.WriteByte(keySeparator)
	return buf.Bytes()
}

// rangePrefix returns the prefix of every slot entry inside r.
func rangePrefix(r rangeSpec) []byte {
	p := append(slotPrefix(r.slot), escapeBytes([]byte(r.prefix))...)
	if r.exact {
		p = append(p, keySeparator)
	}
	return p
}

type rangeSpec struct {
	slot   index.Slot
	prefix string
	exact  bool
}

func slotKey(slot index.Slot, key, id string) []byte {
	p := append(slotPrefix(slot), escapeBytes([]byte(key))...)
	p = append(p, keySeparator)
	return append(p, escapeBytes([]byte(id))...)
}

// idFromSlotKey returns the identity stored at the end of a slot entry.
func idFromSlotKey(k []byte) (string, error) {
	i := bytes.LastIndexByte(k, keySeparator)
	if i < 0 || k[0] != slotMarker {
		return "", fmt.Errorf("malformed slot entry %q", k)
	}
	return string(unescapeBytes(k[i+1:])), nil
}

// escapeBytes escapes null bytes (0x00) in the input to preserve separator integrity.
// Uses 0x01 0x01 for literal 0x00, and 0x01 0x02 for literal 0x01.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// unescapeBytes reverses the escaping done by escapeBytes.
func unescapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < len(b); i++ {
		if b[i] == 0x01 && i+1 < len(b) {
			switch b[i+1] {
			case 0x01:
				buf.WriteByte(0x00)
				i++
				continue
			case 0x02:
				buf.WriteByte(0x01)
				i++
				continue
			}
		}
		buf.WriteByte(b[i])
	}
	return buf.Bytes()
}

// Values are msgpack documents behind a one byte header.
const (
	valuePlain      byte = 'm'
	valueCompressed byte = 'z'
)

type codec struct {
	compress bool
}

func (c codec) encode(doc physical.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	raw := buf.Bytes()
	if !c.compress {
		return append([]byte{valuePlain}, raw...), nil
	}

	out := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(raw)))
	out[0] = valueCompressed
	h := 1 + binary.PutUvarint(out[1:], uint64(len(raw)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(raw, out[h:], hashTable[:])
	if err != nil {
		return nil, fmt.Errorf("compress document: %w", err)
	}
	if n == 0 {
		// Incompressible.
		return append([]byte{valuePlain}, raw...), nil
	}
	return out[:h+n], nil
}

func (c codec) decode(val []byte) (physical.Document, error) {
	if len(val) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	raw := val[1:]
	switch val[0] {
	case valuePlain:
	case valueCompressed:
		size, h := binary.Uvarint(raw)
		if h <= 0 {
			return nil, fmt.Errorf("bad compressed value header")
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(raw[h:], dst)
		if err != nil {
			return nil, fmt.Errorf("decompress document: %w", err)
		}
		raw = dst[:n]
	default:
		return nil, fmt.Errorf("unknown value header %q", val[0])
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return physical.Document(normalize(m).(map[string]any)), nil
}

// normalize widens decoded integers to int64 so documents compare the same
// whichever width the encoder picked.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	case uint64:
		if x <= 1<<63-1 {
			return int64(x)
		}
	}
	return v
}
