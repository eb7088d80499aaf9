package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleGetStats(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	eng, err := s.engine(args)
	if err != nil {
		return errResult(err.Error()), nil
	}
	return jsonResult(eng.Stats(getStringArg(args, "module"))), nil
}

func (s *Server) handleGraphStats(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return errResult("graph store not configured"), nil
	}
	st, err := s.store.Stats()
	if err != nil {
		return errResult(fmt.Sprintf("graph stats: %v", err)), nil
	}
	return jsonResult(st), nil
}
