package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type queryOptions struct {
	connection string
	host       string
	port       int
	user       string
	password   string
	database   string
	page       int
	pageSize   int
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query [flags] SQL",
		Short: "Run one paginated SELECT and print the result as JSON",
		Example: `  mysqlquery query --host 127.0.0.1 --user app --database shop --page 2 "SELECT * FROM items ORDER BY id"
  MYSQL_CONN_PROD_HOST=db.prod MYSQL_CONN_PROD_USER=app mysqlquery query --connection prod "SELECT 1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.adapter.Invoke(cmd.Context(), opts.args(cmd, strings.Join(args, " ")))
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if res.IsError {
				return fmt.Errorf("query failed (%s)", res.Kind)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.connection, "connection", "", "named connection profile")
	f.StringVar(&opts.host, "host", "", "MySQL host")
	f.IntVar(&opts.port, "port", 3306, "MySQL port")
	f.StringVar(&opts.user, "user", "", "MySQL user")
	f.StringVar(&opts.password, "password", "", "MySQL password")
	f.StringVar(&opts.database, "database", "", "database name")
	f.IntVar(&opts.page, "page", 1, "1-based page number")
	f.IntVar(&opts.pageSize, "pagesize", 10, "rows per page")
	return cmd
}

// args only carries connection flags that were set, so a profile's values
// are not overridden by flag defaults.
func (o *queryOptions) args(cmd *cobra.Command, sql string) map[string]any {
	args := map[string]any{
		"query":    sql,
		"page":     o.page,
		"pagesize": o.pageSize,
	}
	set := func(name string, v any) {
		if cmd.Flags().Changed(name) {
			args[name] = v
		}
	}
	set("connection", o.connection)
	set("host", o.host)
	set("port", o.port)
	set("user", o.user)
	set("password", o.password)
	set("database", o.database)
	return args
}
