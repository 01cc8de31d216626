package telaio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validGraph() *GraphSpec {
	return &GraphSpec{
		Name: "g",
		Nodes: []NodeSpec{
			{Name: "a", Addon: "src", Group: "g1"},
			{Name: "b", Addon: "mid", Group: "g1"},
			{Name: "c", Addon: "sink", Group: "g2"},
		},
		Connections: []ConnectionSpec{
			{Source: "a", Kind: "data", Name: "sample", Dests: []string{"b", "c"}},
			{Source: "b", Kind: "cmd", Dests: []string{"c"}},
		},
	}
}

func TestGraphSpec_Validate(t *testing.T) {
	require.NoError(t, validGraph().validate())

	t.Run("no name", func(t *testing.T) {
		g := validGraph()
		g.Name = ""
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("no nodes", func(t *testing.T) {
		g := &GraphSpec{Name: "g"}
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("duplicate node", func(t *testing.T) {
		g := validGraph()
		g.Nodes = append(g.Nodes, NodeSpec{Name: "a", Addon: "src", Group: "g1"})
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("node without group", func(t *testing.T) {
		g := validGraph()
		g.Nodes[0].Group = ""
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("unknown source", func(t *testing.T) {
		g := validGraph()
		g.Connections[0].Source = "ghost"
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("unknown destination", func(t *testing.T) {
		g := validGraph()
		g.Connections[0].Dests = []string{"ghost"}
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("no destinations", func(t *testing.T) {
		g := validGraph()
		g.Connections[0].Dests = nil
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})

	t.Run("cmd_result is not routable", func(t *testing.T) {
		g := validGraph()
		g.Connections[0].Kind = "cmd_result"
		require.ErrorIs(t, g.validate(), ErrInvalidGraph)
	})
}

func TestGraphSpec_Groups(t *testing.T) {
	order, byGroup := validGraph().groups()
	require.Equal(t, []string{"g1", "g2"}, order, "groups keep first-appearance order")
	require.Len(t, byGroup["g1"], 2)
	require.Len(t, byGroup["g2"], 1)
	require.Equal(t, "c", byGroup["g2"][0].Name)
}

func TestGraphSpec_YAML(t *testing.T) {
	src := `
name: yaml-graph
nodes:
  - name: mic
    addon: capture
    group: io
  - name: asr
    addon: transcriber
    group: compute
connections:
  - source: mic
    kind: audio_frame
    dests: [asr]
`
	var g GraphSpec
	require.NoError(t, yaml.Unmarshal([]byte(src), &g))
	require.NoError(t, g.validate())
	require.Equal(t, "yaml-graph", g.Name)
	require.Equal(t, "audio_frame", g.Connections[0].Kind)
	require.Equal(t, []string{"asr"}, g.Connections[0].Dests)
}
