package querypilotctl

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmesh/querypilot/internal/agenterr"
	"github.com/duckmesh/querypilot/internal/sanitizer"
	"github.com/duckmesh/querypilot/internal/schema"
)

func (s *session) getCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
}

func (s *session) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <connection-id>",
		Short: "Show the introspected schema and join paths of a connection",
		Args:  exactArgs(1, "a connection id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.do(cmd.Context(), http.MethodGet, "/v1/connections/"+url.PathEscape(args[0])+"/schema", nil)
		},
	}
}

// sanitizeCommand runs the SQL safety gate locally without contacting the API.
func (s *session) sanitizeCommand() *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "sanitize <sql>",
		Short: "Check a statement against the read-only SQL gate",
		Args: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(strings.Join(args, " ")) == "" {
				return usageError{err: errors.New("expected a SQL statement")}
			}
			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(dialect) != "" {
				if _, err := schema.ParseDialect(dialect); err != nil {
					return usageError{err: err}
				}
			}
			sanitized, err := sanitizer.Check(strings.Join(args, " "), dialect)
			if err != nil {
				var typed *agenterr.Error
				if errors.As(err, &typed) {
					return fmt.Errorf("rejected: %s", typed.Message)
				}
				return fmt.Errorf("rejected: %w", err)
			}
			_, _ = fmt.Fprintln(s.stdout, sanitized)
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "database dialect (postgres, mysql, mariadb, duckdb)")
	return cmd
}

func (s *session) historyCommand() *cobra.Command {
	group := &cobra.Command{
		Use:   "history",
		Short: "List or remove executed statements",
		Args:  cobra.ArbitraryArgs,
		RunE:  requireSubcommand,
	}

	var listConnection string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "GET /v1/history",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if strings.TrimSpace(listConnection) != "" {
				query.Set("connection_id", strings.TrimSpace(listConnection))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/history"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return s.do(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	list.Flags().StringVar(&listConnection, "connection", "", "only show entries of this connection")
	list.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (1-200)")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "DELETE /v1/history/{id}",
		Args:  exactArgs(1, "a history entry id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.do(cmd.Context(), http.MethodDelete, "/v1/history/"+url.PathEscape(args[0]), nil)
		},
	}

	var clearConnection string
	var confirmed bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "DELETE /v1/history",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return usageError{err: errors.New("refusing to clear history without --yes")}
			}
			path := "/v1/history"
			if strings.TrimSpace(clearConnection) != "" {
				path += "?" + url.Values{"connection_id": {strings.TrimSpace(clearConnection)}}.Encode()
			}
			return s.do(cmd.Context(), http.MethodDelete, path, nil)
		},
	}
	clearCmd.Flags().StringVar(&clearConnection, "connection", "", "only clear entries of this connection")
	clearCmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "confirm the deletion")

	group.AddCommand(list, remove, clearCmd)
	return group
}
