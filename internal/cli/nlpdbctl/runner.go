// Package nlpdbctl is the operator command line for the nlpdb HTTP API.
package nlpdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// errRequest marks failures that happened after the command line parsed.
var errRequest = errors.New("request failed")

type Options struct {
	BaseURL   string
	APIKey    string
	SessionID string
	Timeout   time.Duration
	// ConfigPaths are searched for .nlpdbctl.yaml. Empty skips the lookup.
	ConfigPaths []string
	HTTPClient  *http.Client
	Stdout      io.Writer
	Stderr      io.Writer
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request fails and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, errRequest) {
		_, _ = color.New(color.FgRed).Fprintln(defaults.Stderr, err.Error())
		return 1
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(defaults.Stderr, root.UsageString())
	return 2
}

type client struct {
	v      *viper.Viper
	http   *http.Client
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(defaults Options) *cobra.Command {
	v := viper.New()
	c := &client{v: v, http: defaults.HTTPClient, stdout: defaults.Stdout, stderr: defaults.Stderr}
	var cfgFile string

	root := &cobra.Command{
		Use:           "nlpdbctl",
		Short:         "Ask a database questions in plain language through the nlpdb API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cfgFile, defaults.ConfigPaths); err != nil {
				return err
			}
			if c.http == nil {
				c.http = &http.Client{Timeout: v.GetDuration("timeout")}
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nlpdbctl.yaml)")
	flags.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:5000"), "nlpdb API base URL")
	flags.String("api-key", defaults.APIKey, "API key for authenticated requests")
	flags.String("session", defaults.SessionID, "session id sent as X-Session-ID (ignored when auth is on)")
	flags.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("NLPDBCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		c.simple("health", "Check that the API process is up", http.MethodGet, "/v1/health"),
		c.simple("ready", "Check that the API dependencies are configured", http.MethodGet, "/v1/ready"),
		c.simple("databases", "List the databases on the target server", http.MethodGet, "/v1/databases"),
		c.simple("session", "Show the current session context", http.MethodGet, "/v1/session"),
		c.simple("clear-cache", "Drop the cached schema snapshot", http.MethodDelete, "/v1/schema/cache"),
		c.simple("archives", "List archived history objects", http.MethodGet, "/v1/history/archives"),
		c.askCommand(),
		c.useCommand(),
		c.createCommand(),
		c.dropCommand(),
		c.relationshipsCommand(),
		c.describeCommand(),
		c.refreshCommand(),
		c.historyCommand(),
		c.archiveCommand(),
	)
	return root
}

func loadConfig(v *viper.Viper, cfgFile string, paths []string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if len(paths) == 0 {
			return nil
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".nlpdbctl")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (c *client) simple(use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.do(cmd.Context(), method, path, nil, nil)
			return err
		},
	}
}

func (c *client) askCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "ask <request...>",
		Short: "Translate a request into SQL and run it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{"message": strings.Join(args, " ")}
			if database != "" {
				payload["database"] = database
			}
			body, err := c.send(cmd.Context(), http.MethodPost, "/v1/query", nil, payload)
			if err != nil {
				return err
			}
			var result struct {
				SQL     string `json:"sql"`
				Message string `json:"message"`
			}
			if json.Unmarshal(body, &result) == nil && result.SQL != "" {
				_, _ = color.New(color.FgCyan, color.Bold).Fprintf(c.stdout, "SQL: %s\n", result.SQL)
				_, _ = color.New(color.FgGreen).Fprintln(c.stdout, result.Message)
			}
			c.print(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database to run against (default is the session's)")
	return cmd
}

func (c *client) useCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <database>",
		Short: "Select a database for the session and cache its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.do(cmd.Context(), http.MethodPost, "/v1/databases/select", nil, map[string]any{"database": args[0]})
			return err
		},
	}
}

func (c *client) createCommand() *cobra.Command {
	var useNow bool
	cmd := &cobra.Command{
		Use:   "create <database>",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.do(cmd.Context(), http.MethodPost, "/v1/databases", nil, map[string]any{"database": args[0], "use_now": useNow})
			return err
		},
	}
	cmd.Flags().BoolVar(&useNow, "use", false, "select the new database for the session")
	return cmd
}

func (c *client) dropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <database...>",
		Short: "Delete one or more databases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.do(cmd.Context(), http.MethodPost, "/v1/databases/delete", nil, map[string]any{"databases": args})
			return err
		},
	}
}

func (c *client) relationshipsCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "List foreign-key relationships",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.do(cmd.Context(), http.MethodGet, "/v1/relationships", databaseQuery(database), nil)
			return err
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database to inspect (default is the session's)")
	return cmd
}

func (c *client) describeCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "describe <table>",
		Short: "Show columns, row count and sample rows of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.do(cmd.Context(), http.MethodGet, "/v1/tables/"+url.PathEscape(args[0]), databaseQuery(database), nil)
			return err
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database holding the table (default is the session's)")
	return cmd
}

func (c *client) refreshCommand() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the cached schema snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload map[string]any
			if database != "" {
				payload = map[string]any{"database": database}
			}
			_, err := c.do(cmd.Context(), http.MethodPost, "/v1/schema/refresh", nil, payload)
			return err
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database to rebuild (default is the session's)")
	return cmd
}

func (c *client) historyCommand() *cobra.Command {
	var (
		database  string
		sessionID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := databaseQuery(database)
			if sessionID != "" {
				query.Set("session", sessionID)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			_, err := c.do(cmd.Context(), http.MethodGet, "/v1/history", query, nil)
			return err
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "only entries for this database")
	cmd.Flags().StringVar(&sessionID, "for-session", "", "only entries for this session id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries")
	return cmd
}

func (c *client) archiveCommand() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Move the oldest history entries into a Parquet archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload map[string]any
			if batch > 0 {
				payload = map[string]any{"batch_size": batch}
			}
			_, err := c.do(cmd.Context(), http.MethodPost, "/v1/history/archive", nil, payload)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch-size", 0, "entries per archive object (server default when zero)")
	return cmd
}

// do sends the request and prints the response body.
func (c *client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	body, err := c.send(ctx, method, path, query, payload)
	if err != nil {
		return nil, err
	}
	c.print(body)
	return body, nil
}

func (c *client) send(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := strings.TrimRight(c.v.GetString("base-url"), "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode body: %w", errRequest, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey := strings.TrimSpace(c.v.GetString("api-key")); apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	if sessionID := strings.TrimSpace(c.v.GetString("session")); sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", errRequest, err)
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			SQL string `json:"sql"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.SQL != "" {
			_, _ = color.New(color.FgYellow).Fprintf(c.stderr, "attempted SQL: %s\n", failure.SQL)
		}
		return nil, fmt.Errorf("%w: http %d: %s", errRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *client) print(body []byte) {
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(body))
	}
}

func databaseQuery(database string) url.Values {
	query := url.Values{}
	if database != "" {
		query.Set("database", database)
	}
	return query
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
