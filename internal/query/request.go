package query

import (
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kaz/mysqlquery/internal/pool"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// FoundRowsDirective marks queries that already ask MySQL to track the
// unpaginated row count, enabling the single-pass strategy
const FoundRowsDirective = "SQL_CALC_FOUND_ROWS"

var validate = validator.New()

// Connection carries the parameters needed to reach one database
type Connection struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"min=1,max=65535"`
	User     string `json:"user" validate:"required"`
	Password string `json:"-"`
	Database string `json:"database"`
}

// Identity returns the pool key for c
func (c Connection) Identity() pool.Identity {
	return pool.Identity{
		Host:     strings.TrimSpace(c.Host),
		Port:     c.Port,
		User:     c.User,
		Database: c.Database,
	}
}

// Request is a single paginated query invocation
type Request struct {
	Connection
	Query    string `json:"query" validate:"required"`
	Page     int    `json:"page"`
	PageSize int    `json:"pagesize"`
}

// Clamped returns a copy with pagesize within 1..MaxPageSize and page within
// 1..MaxPage(pagesize). Pages past the last row come back empty.
func (r Request) Clamped() Request {
	r.PageSize = max(1, min(MaxPageSize, r.PageSize))
	r.Page = max(1, min(MaxPage(r.PageSize), r.Page))
	return r
}

// MaxPage is the largest page whose offset fits in an int
func MaxPage(pageSize int) int {
	return math.MaxInt / max(1, pageSize)
}

// Offset is the row offset of the requested page
func (r Request) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// statement returns the query with surrounding whitespace and trailing
// semicolons removed so it can be wrapped and suffixed
func (r Request) statement() string {
	return strings.TrimRight(strings.TrimSpace(r.Query), "; \t\r\n")
}

// usesFoundRows reports whether the query carries the count-tracking directive
func (r Request) usesFoundRows() bool {
	return strings.Contains(strings.ToUpper(r.Query), FoundRowsDirective)
}

// check validates a clamped request before any I/O. The SELECT prefix test is
// a syntactic guard only; it does not parse the statement.
func (r Request) check() *Error {
	if strings.TrimSpace(r.Query) == "" {
		return validationError("query is required")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(r.Query)), "SELECT") {
		return validationError("only SELECT queries are allowed")
	}
	if err := validate.Struct(r); err != nil {
		return &Error{Kind: KindValidation, Phase: PhaseValidate, Message: "invalid connection parameters", Err: err}
	}
	return nil
}
