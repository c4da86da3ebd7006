// Package snapshot encodes graph snapshots for a collaborator to store.
// The core never persists anything itself.
//
// Wire format, big endian:
//
//	[magic:4][format:1][id:16][graphVersion:8][createdAt:8][len:4][snappy(json):len][crc32:4]
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

const formatVersion = 1

var magic = [4]byte{'R', 'C', 'S', 'N'}

var (
	ErrBadMagic    = errors.New("not a graph snapshot")
	ErrBadFormat   = errors.New("unsupported snapshot format")
	ErrBadChecksum = errors.New("snapshot checksum mismatch")
)

// Document is the portable form of a graph.
type Document struct {
	ID           uuid.UUID            `json:"id"`
	GraphVersion uint64               `json:"graph_version"`
	CreatedAt    time.Time            `json:"created_at"`
	Nodes        []railgraph.Node     `json:"nodes"`
	Edges        []railgraph.RailEdge `json:"edges"`
	Blocked      []string             `json:"blocked,omitempty"`
}

// Capture copies s into a new document with a fresh id.
func Capture(s railgraph.Snapshot, now time.Time) Document {
	doc := Document{
		ID:           uuid.New(),
		GraphVersion: s.Version,
		CreatedAt:    now.UTC(),
		Nodes:        s.Graph.Nodes(),
		Edges:        s.Graph.Edges(),
	}
	for _, e := range doc.Edges {
		if s.Graph.IsBlocked(e.ID) {
			doc.Blocked = append(doc.Blocked, e.ID.String())
		}
	}
	return doc
}

// Graph rebuilds an immutable graph from the document.
func (d Document) Graph() (*railgraph.Graph, error) {
	b := railgraph.NewBuilder()
	for _, n := range d.Nodes {
		if err := b.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Edges {
		if err := b.AddEdge(e); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Blocked {
		id, err := railgraph.ParseEdgeID(s)
		if err != nil {
			return nil, err
		}
		if err := b.Block(id); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// Encode writes d to w.
func Encode(w io.Writer, d Document) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	compressed := snappy.Encode(nil, payload)

	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(formatVersion)
	buf.Write(d.ID[:])
	binary.Write(&buf, binary.BigEndian, d.GraphVersion)
	binary.Write(&buf, binary.BigEndian, d.CreatedAt.UnixNano())
	binary.Write(&buf, binary.BigEndian, uint32(len(compressed)))
	buf.Write(compressed)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(compressed))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Decode reads one document from r and checks its header against the
// payload.
func Decode(r io.Reader) (Document, error) {
	var hdr struct {
		Magic        [4]byte
		Format       uint8
		ID           [16]byte
		GraphVersion uint64
		CreatedAt    int64
		Len          uint32
	}
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return Document{}, fmt.Errorf("read snapshot header: %w", err)
	}
	if hdr.Magic != magic {
		return Document{}, ErrBadMagic
	}
	if hdr.Format != formatVersion {
		return Document{}, fmt.Errorf("%w: %d", ErrBadFormat, hdr.Format)
	}

	compressed := make([]byte, hdr.Len)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return Document{}, fmt.Errorf("read snapshot payload: %w", err)
	}
	var sum uint32
	if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
		return Document{}, fmt.Errorf("read snapshot checksum: %w", err)
	}
	if crc32.ChecksumIEEE(compressed) != sum {
		return Document{}, ErrBadChecksum
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Document{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var d Document
	if err := json.Unmarshal(payload, &d); err != nil {
		return Document{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if d.ID != uuid.UUID(hdr.ID) || d.GraphVersion != hdr.GraphVersion {
		return Document{}, fmt.Errorf("%w: header does not match payload", ErrBadChecksum)
	}
	return d, nil
}

// Marshal is Encode into a byte slice.
func Marshal(d Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal is Decode from a byte slice.
func Unmarshal(data []byte) (Document, error) {
	return Decode(bytes.NewReader(data))
}
