package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/callgraph-mcp/internal/query"
)

// symbolCall parses args, picks the engine and requires a non-empty key.
func (s *Server) symbolCall(req *mcp.CallToolRequest, key string) (map[string]any, *query.Engine, string, *mcp.CallToolResult) {
	args, err := parseArgs(req)
	if err != nil {
		return nil, nil, "", errResult(err.Error())
	}
	value := getStringArg(args, key)
	if value == "" {
		return nil, nil, "", errResult(key + " is required")
	}
	eng, err := s.engine(args)
	if err != nil {
		return nil, nil, "", errResult(err.Error())
	}
	return args, eng, value, nil
}

func (s *Server) handleFindUsages(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, eng, symbol, toolErr := s.symbolCall(req, "symbol")
	if toolErr != nil {
		return toolErr, nil
	}
	page := eng.FindUsages(query.UsageQuery{
		Symbol:              symbol,
		UsageType:           getStringArg(args, "usage_type"),
		Module:              getStringArg(args, "module"),
		ExcludeGenerated:    getBoolArgDefault(args, "exclude_generated", true),
		Offset:              getIntArg(args, "offset", 0),
		Limit:               getIntArg(args, "limit", 20),
		Depth:               getIntArg(args, "depth", 0),
		MaxChildrenPerLevel: getIntArg(args, "max_children_per_level", 10),
		MaxDepth:            getIntArg(args, "max_depth", 0),
	})
	return jsonResult(page), nil
}

func (s *Server) handleGetDefinition(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, eng, symbol, toolErr := s.symbolCall(req, "symbol")
	if toolErr != nil {
		return toolErr, nil
	}
	return jsonResult(eng.GetDefinition(symbol)), nil
}

func (s *Server) handleFindCallers(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, eng, symbol, toolErr := s.symbolCall(req, "symbol")
	if toolErr != nil {
		return toolErr, nil
	}
	return jsonResult(eng.FindCallers(symbol, getIntArg(args, "offset", 0), getIntArg(args, "limit", 20))), nil
}

func (s *Server) handleFindCallees(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, eng, symbol, toolErr := s.symbolCall(req, "symbol")
	if toolErr != nil {
		return toolErr, nil
	}
	return jsonResult(eng.FindCallees(symbol, getIntArg(args, "offset", 0), getIntArg(args, "limit", 20))), nil
}

func (s *Server) handleSearchByFile(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, eng, path, toolErr := s.symbolCall(req, "path")
	if toolErr != nil {
		return toolErr, nil
	}
	return jsonResult(eng.SearchByFile(path, getIntArg(args, "offset", 0), getIntArg(args, "limit", 50))), nil
}

func (s *Server) handleImpactAnalysis(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, eng, symbol, toolErr := s.symbolCall(req, "symbol")
	if toolErr != nil {
		return toolErr, nil
	}
	tree := eng.ImpactAnalysis(
		symbol,
		getIntArg(args, "depth", 2),
		getBoolArg(args, "only_custom"),
		getIntArg(args, "offset", 0),
		getIntArg(args, "limit", 50),
	)
	return jsonResult(map[string]any{"symbol": symbol, "tree": tree}), nil
}
