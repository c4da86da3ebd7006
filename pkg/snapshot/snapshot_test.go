package snapshot

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

func network(t *testing.T) railgraph.RailGraph {
	t.Helper()
	b := railgraph.NewBuilder()
	require.NoError(t, b.AddNode(railgraph.Node{ID: "A", Type: railgraph.NodeTypeStation, Position: &railgraph.Coordinate{X: 1, Y: 64, Z: -3}}))
	require.NoError(t, b.AddNode(railgraph.Node{ID: "S", Type: railgraph.NodeTypeSwitcher}))
	require.NoError(t, b.AddNode(railgraph.Node{ID: "B", Type: railgraph.NodeTypeDepot}))
	require.NoError(t, b.Connect("A", "S", 7, railgraph.WithSpeedLimit(3), railgraph.WithAttribute("line", "red")))
	require.NoError(t, b.Connect("S", "B", 2, railgraph.OneWay()))
	require.NoError(t, b.Block(railgraph.EdgeKey("S", "B")))
	return b.Build()
}

func TestRoundTrip(t *testing.T) {
	snaps := railgraph.NewSnapshots(network(t))
	at := time.Date(2026, 7, 4, 10, 30, 0, 0, time.UTC)

	doc := Capture(snaps.Snapshot(), at)
	require.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, uint64(1), doc.GraphVersion)
	assert.Equal(t, []string{"B|S"}, doc.Blocked)

	data, err := Marshal(doc)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.True(t, at.Equal(got.CreatedAt))

	g, err := got.Graph()
	require.NoError(t, err)
	orig := snaps.Current()
	assert.Equal(t, orig.Nodes(), g.Nodes())
	assert.Equal(t, orig.Edges(), g.Edges())
	assert.True(t, g.IsBlocked(railgraph.EdgeKey("B", "S")))

	e, ok := g.Edge(railgraph.EdgeKey("S", "B"))
	require.True(t, ok)
	assert.True(t, e.Allows("S", "B"))
	assert.False(t, e.Allows("B", "S"))
}

func TestCaptureOverlay(t *testing.T) {
	o, err := railgraph.NewOverlay(network(t)).WithSpeed(railgraph.EdgeKey("A", "S"), 1.5)
	require.NoError(t, err)
	o = o.WithOpened(railgraph.EdgeKey("S", "B"))

	doc := Capture(railgraph.NewSnapshots(o).Snapshot(), time.Now())
	assert.Empty(t, doc.Blocked)
	g, err := doc.Graph()
	require.NoError(t, err)
	e, _ := g.Edge(railgraph.EdgeKey("A", "S"))
	assert.Equal(t, 1.5, e.Speed(0))
}

func TestDecodeErrors(t *testing.T) {
	doc := Capture(railgraph.NewSnapshots(network(t)).Snapshot(), time.Now())
	data, err := Marshal(doc)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"future format", func(b []byte) []byte { b[4] = 9; return b }, ErrBadFormat},
		{"flipped payload byte", func(b []byte) []byte { b[len(b)-6] ^= 0xff; return b }, ErrBadChecksum},
		{"header version mismatch", func(b []byte) []byte { b[21+7]++; return b }, ErrBadChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.mutate(bytes.Clone(data)))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	_, err = Unmarshal(data[:10])
	assert.Error(t, err)
	_, err = Unmarshal(data[:len(data)-2])
	assert.Error(t, err)
}
