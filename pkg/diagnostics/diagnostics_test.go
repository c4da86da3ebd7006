package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dispatch/pkg/config"
	"github.com/dd0wney/cluso-dispatch/pkg/dispatch"
	"github.com/dd0wney/cluso-dispatch/pkg/occupancy"
	"github.com/dd0wney/cluso-dispatch/pkg/railgraph"
)

// busyLine runs two trains up P - X - Y - Z, one corridor. T2 may share the
// corridor but waits for the node T1 stands on. It returns the corridor.
func busyLine(t *testing.T) (*dispatch.Core, occupancy.Resource) {
	t.Helper()
	b := railgraph.NewBuilder()
	for _, id := range []railgraph.NodeID{"P", "X", "Y", "Z"} {
		require.NoError(t, b.AddNode(railgraph.Node{ID: id, Type: railgraph.NodeTypeStation}))
	}
	require.NoError(t, b.Connect("P", "X", 4))
	require.NoError(t, b.Connect("X", "Y", 4))
	require.NoError(t, b.Connect("Y", "Z", 4))
	g := b.Build()
	key, ok := g.ConflictKey(railgraph.EdgeKey("X", "Y"))
	require.True(t, ok)

	cfg := config.Default()
	cfg.Occupancy.LookaheadEdges = 1
	cfg.Occupancy.ExpectedHold = 0
	c, err := dispatch.New(dispatch.Options{Config: cfg, Graph: g})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	r1, err := occupancy.NewRoute("r1", "X", "Y", "Z")
	require.NoError(t, err)
	r2, err := occupancy.NewRoute("r2", "P", "X", "Y")
	require.NoError(t, err)
	_, err = c.SetRoute("T1", r1, 0)
	require.NoError(t, err)
	_, err = c.SetRoute("T2", r2, 1)
	require.NoError(t, err)
	return c, occupancy.ConflictResource(key)
}

func TestCollect(t *testing.T) {
	c, corridor := busyLine(t)
	rep := Collect(c)

	require.NotEmpty(t, rep.Claims)
	headings := map[string]string{}
	for _, cv := range rep.Claims {
		assert.Equal(t, "T1", cv.TrainID)
		assert.Equal(t, "r1", cv.RouteID)
		headings[cv.Resource] = cv.Heading
	}
	assert.Equal(t, "up", headings[corridor.String()])
	assert.Empty(t, headings[occupancy.NodeResource("X").String()], "node claims are exclusive")
	assert.Equal(t, []QueueView{{Resource: occupancy.NodeResource("X").String(), Waiters: []string{"T2"}}}, rep.Queues)
	assert.Equal(t, []SignalView{{"T1", "proceed"}, {"T2", "stop"}}, rep.Signals)
	assert.Empty(t, rep.Locks)

	require.Len(t, rep.Trains, 2)
	assert.Equal(t, TrainView{ID: "T2", Route: "r2", At: "P", Priority: 1, Signal: "stop"}, rep.Trains[1])
	assert.Equal(t, 4, rep.Graph.Nodes)
	assert.Equal(t, 3, rep.Graph.Edges)
	assert.Empty(t, rep.Graph.Blocked)

	c.BlockEdge(railgraph.EdgeKey("Y", "Z"))
	assert.Equal(t, []string{"Y|Z"}, Graph(c).Blocked)
}

func TestSchema_Queries(t *testing.T) {
	c, _ := busyLine(t)
	schema, err := NewSchema(c)
	require.NoError(t, err)

	res := Execute(context.Background(), schema, `{
		summary { claims waiting locks trains graphVersion }
		queues { resource waiters }
		signal(train: "T2")
		trains { id at finished }
	}`, nil)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]any)
	summary := data["summary"].(map[string]any)
	assert.Equal(t, c.Manager().Len(), summary["claims"])
	assert.Equal(t, 1, summary["waiting"])
	assert.Equal(t, 0, summary["locks"])
	assert.Equal(t, 2, summary["trains"])
	assert.Equal(t, 1, summary["graphVersion"])

	queues := data["queues"].([]any)
	require.Len(t, queues, 1)
	assert.Equal(t, occupancy.NodeResource("X").String(), queues[0].(map[string]any)["resource"])
	assert.Equal(t, "stop", data["signal"])
	assert.Len(t, data["trains"], 2)
}

func TestSchema_ClaimsForTrain(t *testing.T) {
	c, _ := busyLine(t)
	schema, err := NewSchema(c)
	require.NoError(t, err)

	res := Execute(context.Background(), schema, `query($t: String) { claims(train: $t) { train kind } }`,
		map[string]any{"t": "T2"})
	require.Empty(t, res.Errors)
	assert.Empty(t, res.Data.(map[string]any)["claims"])

	res = Execute(context.Background(), schema, `{ claims(train: "T1") { train kind headwayMs heading } }`, nil)
	require.Empty(t, res.Errors)
	claims := res.Data.(map[string]any)["claims"].([]any)
	assert.Len(t, claims, len(c.Manager().ClaimsOf("T1")))
	var headed int
	for _, cl := range claims {
		if cl.(map[string]any)["heading"] == "up" {
			headed++
		}
	}
	assert.Equal(t, 1, headed, "only the corridor is held by heading")
}

func TestNeighbours(t *testing.T) {
	c, _ := busyLine(t)

	got, err := Neighbours(c, "X", 2, false)
	require.NoError(t, err)
	assert.Equal(t, []NeighbourView{{"P", 1}, {"Y", 1}, {"Z", 2}}, got)

	c.BlockEdge(railgraph.EdgeKey("Y", "Z"))
	got, err = Neighbours(c, "X", 2, false)
	require.NoError(t, err)
	assert.Equal(t, []NeighbourView{{"P", 1}, {"Y", 1}}, got)

	got, err = Neighbours(c, "nowhere", 1, false)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Neighbours(c, "X", 0, false)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	c, _ := busyLine(t)
	schema, err := NewSchema(c)
	require.NoError(t, err)
	h := NewHandler(schema)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"post", httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ summary { trains } }"}`)), http.StatusOK},
		{"get", httptest.NewRequest(http.MethodGet, "/graphql?query="+url.QueryEscape("{ summary { trains } }"), nil), http.StatusOK},
		{"bad body", httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{`)), http.StatusBadRequest},
		{"missing query", httptest.NewRequest(http.MethodGet, "/graphql", nil), http.StatusBadRequest},
		{"wrong method", httptest.NewRequest(http.MethodDelete, "/graphql", nil), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Empty(t, resp.Errors)
			summary := resp.Data.(map[string]any)["summary"].(map[string]any)
			assert.Equal(t, float64(2), summary["trains"])
		})
	}
}
