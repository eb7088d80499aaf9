package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeusData/callgraph-mcp/internal/docstore"
	"github.com/DeusData/callgraph-mcp/internal/fact"
	"github.com/DeusData/callgraph-mcp/internal/query"
	"github.com/DeusData/callgraph-mcp/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.UpsertNodes([]*fact.Node{
		{FQN: "app.Order.save()", Kind: fact.KindMethod, Line: 10, URI: "file:///src/Order.java"},
		{FQN: "app.Order", Kind: fact.KindClass, URI: "file:///src/Order.java"},
	}, false))
	require.NoError(t, st.AddEdges([]*fact.Edge{
		{Type: fact.EdgeCall, Kind: "invokevirtual", From: "app.Order.save()", To: "app.Repo.persist()"},
		{Type: fact.EdgeCall, Kind: "invokevirtual", From: "app.Api.post()", To: "app.Order.save()"},
	}, true))

	docs, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })
	usages := []fact.Usage{
		{UsageType: "java_method_call", CallerSymbol: "post", CalleeSymbol: "save", CallerURI: "file:///src/Api.java", CallerLine: 12, Module: "app-web"},
		{UsageType: "java_method_call", CallerSymbol: "run", CalleeSymbol: "save", CallerURI: "file:///src/Job.java", CallerLine: 3, Module: "app-jobs"},
		{UsageType: "java_declaration", CalleeSymbol: "save", CalleeURI: "file:///src/Order.java", Module: "app-core"},
	}
	var recs []docstore.Record
	for i, u := range usages {
		recs = append(recs, docstore.Record{ID: string(rune('a' + i)), Text: u.Text(), Attrs: u.Attrs()})
	}
	require.NoError(t, docs.AddBatch(recs))

	return NewServer(Config{Store: st, Docs: query.New(query.Documents{Backend: docs}, query.DocumentOptions()), Version: "test"})
}

func call(t *testing.T, handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error), args string) (*mcp.CallToolResult, string) {
	t.Helper()
	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: json.RawMessage(args)}}
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &m))
	return m
}

func TestFindUsagesTool(t *testing.T) {
	s := newTestServer(t)
	res, text := call(t, s.handleFindUsages, `{"symbol": "save", "usage_type": "java_method_call", "limit": 1}`)
	require.False(t, res.IsError, text)

	page := decode(t, text)
	assert.Equal(t, float64(2), page["total"])
	assert.Equal(t, true, page["hasMore"])
	assert.Equal(t, float64(1), page["nextOffset"])
	results := page["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "post", results[0].(map[string]any)["callerSymbol"])
}

func TestFindUsagesToolRequiresSymbol(t *testing.T) {
	s := newTestServer(t)
	res, text := call(t, s.handleFindUsages, `{}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "symbol is required", text)
}

func TestGraphSource(t *testing.T) {
	s := newTestServer(t)

	_, text := call(t, s.handleFindCallees, `{"symbol": "app.Order.save()", "source": "graph"}`)
	page := decode(t, text)
	assert.Equal(t, float64(1), page["total"])

	_, text = call(t, s.handleFindCallers, `{"symbol": "app.Order.save()", "source": "graph"}`)
	page = decode(t, text)
	assert.Equal(t, float64(1), page["total"])

	res, text := call(t, s.handleFindCallers, `{"symbol": "x", "source": "weaviate"}`)
	assert.True(t, res.IsError)
	assert.Contains(t, text, "unknown source")
}

func TestGetDefinitionTool(t *testing.T) {
	s := newTestServer(t)
	_, text := call(t, s.handleGetDefinition, `{"symbol": "save"}`)
	page := decode(t, text)
	results := page["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "file:///src/Order.java", results[0].(map[string]any)["calleeUri"])
}

func TestSearchByFileTool(t *testing.T) {
	s := newTestServer(t)
	_, text := call(t, s.handleSearchByFile, `{"path": "Job.java"}`)
	page := decode(t, text)
	assert.Equal(t, float64(1), page["total"])

	res, _ := call(t, s.handleSearchByFile, `{"symbol": "Job.java"}`)
	assert.True(t, res.IsError)
}

func TestImpactAnalysisTool(t *testing.T) {
	s := newTestServer(t)
	_, text := call(t, s.handleImpactAnalysis, `{"symbol": "save", "depth": 1}`)
	out := decode(t, text)
	tree := out["tree"].(map[string]any)
	assert.Equal(t, float64(2), tree["direct_callers"])
	assert.Len(t, tree["callers"].([]any), 2)
}

func TestStatsTools(t *testing.T) {
	s := newTestServer(t)
	_, text := call(t, s.handleGetStats, `{}`)
	st := decode(t, text)
	assert.Equal(t, float64(3), st["total"])

	_, text = call(t, s.handleGraphStats, `{}`)
	gs := decode(t, text)
	assert.Equal(t, float64(2), gs["edges"])
	assert.Equal(t, float64(2), gs["stubs"])
}

func TestMalformedArguments(t *testing.T) {
	s := newTestServer(t)
	res, text := call(t, s.handleGetStats, `[1, 2]`)
	assert.True(t, res.IsError)
	assert.Contains(t, text, "invalid arguments")
}

func TestFindUsagesToolExcludesGeneratedByDefault(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	docs, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	usages := []fact.Usage{
		{UsageType: "java_method_call", CallerSymbol: "post", CalleeSymbol: "save", CallerURI: "file:///src/Api.java", Module: "app-web"},
		{UsageType: "java_method_call", CallerSymbol: "fill", CalleeSymbol: "save", CallerURI: "file:///proj/build/src-gen/java/OrderBase.java", Module: "app-core"},
	}
	var recs []docstore.Record
	for i, u := range usages {
		recs = append(recs, docstore.Record{ID: string(rune('a' + i)), Text: u.Text(), Attrs: u.Attrs()})
	}
	require.NoError(t, docs.AddBatch(recs))
	s := NewServer(Config{Store: st, Docs: query.New(query.Documents{Backend: docs}, query.DocumentOptions()), Version: "test"})

	_, text := call(t, s.handleFindUsages, `{"symbol": "save"}`)
	page := decode(t, text)
	assert.Equal(t, float64(1), page["total"])
	results := page["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "post", results[0].(map[string]any)["callerSymbol"])

	_, text = call(t, s.handleFindUsages, `{"symbol": "save", "exclude_generated": false}`)
	assert.Equal(t, float64(2), decode(t, text)["total"])
}

func TestFindUsagesToolNegativeOffset(t *testing.T) {
	s := newTestServer(t)
	var text string
	require.NotPanics(t, func() {
		_, text = call(t, s.handleFindUsages, `{"symbol": "save", "offset": -1}`)
	})
	page := decode(t, text)
	assert.Equal(t, float64(0), page["offset"])
	assert.Len(t, page["results"].([]any), 3)
}
