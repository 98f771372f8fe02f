// Package mcp exposes the query tool and its companions to MCP clients over
// SSE or stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kaz/mysqlquery/internal/history"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/kaz/mysqlquery/internal/tool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const connectionsURI = "mysqlquery://connections"

type Server struct {
	mcp  *server.MCPServer
	sse  *server.SSEServer
	deps Deps
	log  zerolog.Logger
}

// NewServer creates an MCP server with every tool registered
func NewServer(name, version string, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithResourceCapabilities(true, true),
			server.WithLogging(),
		),
		deps: deps,
		log:  log.With().Str("component", "mcp").Logger(),
	}
	s.sse = server.NewSSEServer(s.mcp)
	s.registerTools()
	s.registerResources()
	return s
}

func connectionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("connection",
			mcp.Description("Name of a registered connection profile; explicit parameters override its fields"),
		),
		mcp.WithString("host",
			mcp.Description("MySQL host address (required unless connection is given)"),
		),
		mcp.WithNumber("port",
			mcp.Description("MySQL port"),
			mcp.DefaultNumber(3306),
		),
		mcp.WithString("user",
			mcp.Description("MySQL user (required unless connection is given)"),
		),
		mcp.WithString("password",
			mcp.Description("MySQL password"),
		),
		mcp.WithString("database",
			mcp.Description("Database name"),
		),
	}
}

func (s *Server) registerTools() {
	queryTool := mcp.NewTool("mysql_query", append([]mcp.ToolOption{
		mcp.WithDescription(fmt.Sprintf(
			"Executes a read-only SELECT query and returns one page of rows with the total row count. "+
				"Include ORDER BY for stable pages. Queries containing %s are counted with FOUND_ROWS() instead of a wrapping COUNT.",
			query.FoundRowsDirective)),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SELECT statement to execute"),
		),
		mcp.WithNumber("page",
			mcp.Description("1-based page number"),
			mcp.DefaultNumber(query.DefaultPage),
		),
		mcp.WithNumber("pagesize",
			mcp.Description(fmt.Sprintf("Rows per page, at most %d", query.MaxPageSize)),
			mcp.DefaultNumber(query.DefaultPageSize),
		),
	}, connectionOptions()...)...)

	listDatabasesTool := mcp.NewTool("mysql_list_databases", append([]mcp.ToolOption{
		mcp.WithDescription("Retrieves a list of all databases visible to the connection's user"),
	}, connectionOptions()...)...)

	listTablesTool := mcp.NewTool("mysql_list_tables", append([]mcp.ToolOption{
		mcp.WithDescription("Retrieves a list of all tables in the given database, or in the connection's database if none is given"),
	}, connectionOptions()...)...)

	describeTableTool := mcp.NewTool("mysql_describe_table", append([]mcp.ToolOption{
		mcp.WithDescription("Retrieves the column definitions of a table in the connection's database"),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Table name"),
		),
	}, connectionOptions()...)...)

	connectionListTool := mcp.NewTool("mysql_connection_list",
		mcp.WithDescription("Retrieves the registered connection profiles with passwords masked"),
	)

	connectionRegisterTool := mcp.NewTool("mysql_connection_register",
		mcp.WithDescription("Registers a named connection profile for later use with the connection parameter"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the profile (identifier)"),
		),
		mcp.WithString("host",
			mcp.Required(),
			mcp.Description("MySQL host address"),
		),
		mcp.WithNumber("port",
			mcp.Description("MySQL port"),
			mcp.DefaultNumber(3306),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("MySQL user"),
		),
		mcp.WithString("password",
			mcp.Description("MySQL password"),
		),
		mcp.WithString("database",
			mcp.Description("Default database"),
		),
	)

	historyTool := mcp.NewTool("query_history",
		mcp.WithDescription("Reports recent query executions, newest first. Entries carry a fingerprint of the statement, never its literal text"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of entries"),
			mcp.DefaultNumber(defaultHistoryLimit),
		),
	)

	digestTool := mcp.NewTool("query_digest",
		mcp.WithDescription("Groups recorded executions by query fingerprint and reports count, failures, timing and rows per pattern, "+
			"ordered by total time, together with the slowest individual executions"),
		mcp.WithNumber("top",
			mcp.Description("Maximum number of patterns"),
			mcp.DefaultNumber(history.DefaultTopPatterns),
		),
	)

	poolStatsTool := mcp.NewTool("pool_stats",
		mcp.WithDescription("Reports the open pooled sources with their connection counters"),
	)

	s.mcp.AddTool(queryTool, s.handleQuery)
	s.mcp.AddTool(listDatabasesTool, s.handleListDatabases)
	s.mcp.AddTool(listTablesTool, s.handleListTables)
	s.mcp.AddTool(describeTableTool, s.handleDescribeTable)
	s.mcp.AddTool(connectionListTool, s.handleConnectionList)
	s.mcp.AddTool(connectionRegisterTool, s.handleConnectionRegister)
	s.mcp.AddTool(historyTool, s.handleHistory)
	s.mcp.AddTool(digestTool, s.handleDigest)
	s.mcp.AddTool(poolStatsTool, s.handlePoolStats)
}

func (s *Server) registerResources() {
	resource := mcp.NewResource(connectionsURI, "connections")
	s.mcp.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		res := tool.Success(s.deps.Profiles.List())
		if res.IsError {
			return nil, fmt.Errorf("failed to encode profiles: %s", res.Text)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      connectionsURI,
				MIMEType: "application/json",
				Text:     res.Text,
			},
		}, nil
	})
}

// ServeSSE blocks serving the SSE transport on addr
func (s *Server) ServeSSE(addr string) error {
	s.log.Info().Str("addr", addr).Msg("starting mcp server")
	if err := s.sse.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeStdio blocks serving the stdio transport until stdin closes
func (s *Server) ServeStdio() error {
	s.log.Info().Msg("starting mcp server on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.sse.Shutdown(ctx)
}
