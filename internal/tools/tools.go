package tools

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/callgraph-mcp/internal/query"
	"github.com/DeusData/callgraph-mcp/internal/store"
)

// Server wraps the MCP server with the call graph query tools.
type Server struct {
	mcp   *mcp.Server
	docs  *query.Engine
	graph *query.Engine
	store *store.Store
}

// Config selects what the tools query. Docs may be nil, in which case every
// tool answers from the graph store.
type Config struct {
	Store   *store.Store
	Docs    *query.Engine
	Version string
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	srv := &Server{
		store: cfg.Store,
		docs:  cfg.Docs,
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "callgraph-mcp",
				Version: version,
			},
			nil,
		),
	}
	if cfg.Store != nil {
		srv.graph = query.New(cfg.Store, query.GraphOptions())
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

const sourceProp = `"source": {
					"type": "string",
					"description": "Where to answer from: 'documents' (analyzer usage records, default when available) or 'graph' (node/edge store)",
					"enum": ["documents", "graph"]
				}`

const pageProps = `"offset": {
					"type": "integer",
					"description": "Number of results to skip (default 0)"
				},
				"limit": {
					"type": "integer",
					"description": "Page size"
				}`

func (s *Server) registerTools() {
	// 1. find_usages
	s.mcp.AddTool(&mcp.Tool{
		Name:        "find_usages",
		Description: "Find where a symbol is used. Returns a paginated list of usage records (caller, location, usage type). With depth > 0 or -1, each result also carries the usages of its caller in _children, paginated independently per level; a symbol is expanded at most once per tree.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {
					"type": "string",
					"description": "Callee symbol to look up (e.g. 'validate' or 'com.acme.Order.validate()')"
				},
				"usage_type": {
					"type": "string",
					"description": "Restrict to one usage type (e.g. 'java_method_call')"
				},
				"module": {
					"type": "string",
					"description": "Restrict to usages from one module"
				},
				"exclude_generated": {
					"type": "boolean",
					"description": "Drop usages located in generated sources and framework code (default true)"
				},
				"depth": {
					"type": "integer",
					"description": "Recursion depth: 0 none (default), n levels, -1 until max_depth"
				},
				"max_children_per_level": {
					"type": "integer",
					"description": "Children shown per recursed result (default 10)"
				},
				"max_depth": {
					"type": "integer",
					"description": "Hard recursion cap"
				},
				` + pageProps + `,
				` + sourceProp + `
			},
			"required": ["symbol"]
		}`),
	}, s.handleFindUsages)

	// 2. get_definition
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_definition",
		Description: "Return the declarations of a symbol. Overloads yield several results.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {
					"type": "string",
					"description": "Symbol to look up"
				},
				` + sourceProp + `
			},
			"required": ["symbol"]
		}`),
	}, s.handleGetDefinition)

	// 3. find_callers
	s.mcp.AddTool(&mcp.Tool{
		Name:        "find_callers",
		Description: "Return the call sites of a method, excluding generated sources.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {
					"type": "string",
					"description": "Called method"
				},
				` + pageProps + `,
				` + sourceProp + `
			},
			"required": ["symbol"]
		}`),
	}, s.handleFindCallers)

	// 4. find_callees
	s.mcp.AddTool(&mcp.Tool{
		Name:        "find_callees",
		Description: "Return the calls made by a method.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {
					"type": "string",
					"description": "Calling method"
				},
				` + pageProps + `,
				` + sourceProp + `
			},
			"required": ["symbol"]
		}`),
	}, s.handleFindCallees)

	// 5. impact_analysis
	s.mcp.AddTool(&mcp.Tool{
		Name:        "impact_analysis",
		Description: "Build the tree of transitive callers of a symbol to estimate what a change affects. Each node recurses into at most a fixed number of callers; offset/limit page the root's callers.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {
					"type": "string",
					"description": "Symbol being changed"
				},
				"depth": {
					"type": "integer",
					"description": "Caller levels to follow (default 2)"
				},
				"only_custom": {
					"type": "boolean",
					"description": "Keep only callers from project modules"
				},
				` + pageProps + `,
				` + sourceProp + `
			},
			"required": ["symbol"]
		}`),
	}, s.handleImpactAnalysis)

	// 6. search_by_file
	s.mcp.AddTool(&mcp.Tool{
		Name:        "search_by_file",
		Description: "List the usages located in files whose path contains the given string, ordered by line.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {
					"type": "string",
					"description": "File path or fragment (e.g. 'OrderService.java')"
				},
				` + pageProps + `,
				` + sourceProp + `
			},
			"required": ["path"]
		}`),
	}, s.handleSearchByFile)

	// 7. get_stats
	s.mcp.AddTool(&mcp.Tool{
		Name:        "get_stats",
		Description: "Count usage records by usage type, source and module.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"module": {
					"type": "string",
					"description": "Restrict to one module"
				},
				` + sourceProp + `
			}
		}`),
	}, s.handleGetStats)

	// 8. graph_stats
	s.mcp.AddTool(&mcp.Tool{
		Name:        "graph_stats",
		Description: "Return node and edge counts of the graph store by kind, edge type and package, plus the number of stub nodes.",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, s.handleGraphStats)
}

// engine picks the query engine for the requested source.
func (s *Server) engine(args map[string]any) (*query.Engine, error) {
	switch src := getStringArg(args, "source"); src {
	case "graph":
		if s.graph == nil {
			return nil, fmt.Errorf("graph store not configured")
		}
		return s.graph, nil
	case "", "documents":
		if s.docs != nil {
			return s.docs, nil
		}
		if src == "" && s.graph != nil {
			return s.graph, nil
		}
		return nil, fmt.Errorf("document store not configured")
	default:
		return nil, fmt.Errorf("unknown source %q", src)
	}
}

// jsonResult marshals data to JSON and returns as tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if req.Params.Arguments == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	f, ok := v.(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	return getBoolArgDefault(args, key, false)
}

// getBoolArgDefault extracts a boolean argument, returning def when absent or mistyped.
func getBoolArgDefault(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}
