package mcp

import (
	"context"
	"fmt"

	"github.com/kaz/mysqlquery/internal/history"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/kaz/mysqlquery/internal/tool"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultHistoryLimit = 20

// toResult converts an adapter result; tool failures are reported in-band
// with IsError so the client model can read them
func toResult(r tool.Result) *mcp.CallToolResult {
	res := mcp.NewToolResultText(r.Text)
	res.IsError = r.IsError
	return res
}

func (s *Server) handleQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toResult(s.deps.Tool.Invoke(ctx, request.Params.Arguments)), nil
}

func (s *Server) handleListDatabases(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.deps.Tool.Connection(request.Params.Arguments)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}

	names, err := s.deps.Catalog.ListDatabases(ctx, conn)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}
	return toResult(tool.Success(databaseList{Databases: names, Count: len(names)})), nil
}

func (s *Server) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.deps.Tool.Connection(request.Params.Arguments)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}

	database := firstString(request.Params.Arguments, "database")
	if database == "" {
		database = conn.Database
	}
	names, err := s.deps.Catalog.ListTables(ctx, conn, database)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}
	return toResult(tool.Success(tableList{Database: database, Tables: names, Count: len(names)})), nil
}

func (s *Server) handleDescribeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conn, err := s.deps.Tool.Connection(request.Params.Arguments)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}

	table := firstString(request.Params.Arguments, "table")
	cols, err := s.deps.Catalog.DescribeTable(ctx, conn, conn.Database, table)
	if err != nil {
		return toResult(tool.Failure(err)), nil
	}
	return toResult(tool.Success(tableDescription{Database: conn.Database, Table: table, Columns: cols, Count: len(cols)})), nil
}

func (s *Server) handleConnectionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toResult(tool.Success(s.deps.Profiles.List())), nil
}

func (s *Server) handleConnectionRegister(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	port, err := pool.ParsePort(args["port"])
	if err != nil {
		return toResult(tool.Failure(&query.Error{Kind: query.KindValidation, Phase: query.PhaseValidate, Message: "port must be an integer", Err: err})), nil
	}

	p := profile.Profile{
		Name:     firstString(args, "name"),
		Host:     firstString(args, "host"),
		Port:     port,
		User:     firstString(args, "user"),
		Password: firstString(args, "password"),
		Database: firstString(args, "database"),
	}
	if err := s.deps.Profiles.Register(p); err != nil {
		return toResult(tool.Failure(&query.Error{Kind: query.KindValidation, Phase: query.PhaseValidate, Message: err.Error()})), nil
	}

	s.log.Info().Str("name", p.Name).Msg("connection profile registered over mcp")
	return toResult(tool.Success(map[string]string{
		"status": "registered",
		"name":   p.Name,
	})), nil
}

func (s *Server) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultHistoryLimit
	if v, ok := request.Params.Arguments["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	entries, err := s.deps.History.List(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return toResult(tool.Success(entries)), nil
}

func (s *Server) handleDigest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	top := history.DefaultTopPatterns
	if v, ok := request.Params.Arguments["top"].(float64); ok && v > 0 {
		top = int(v)
	}

	d, err := s.deps.History.Digest(top)
	if err != nil {
		return nil, fmt.Errorf("failed to digest history: %w", err)
	}
	return toResult(tool.Success(d)), nil
}

func (s *Server) handlePoolStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toResult(tool.Success(s.deps.Pools.Stats())), nil
}

func firstString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
