package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Token      string
	Timeout    time.Duration
	AskTimeout time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// usageError marks failures caused by how the command was invoked. They exit with 2.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

// Run executes one querypilotctl invocation and returns its exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	failed, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	var usage usageError
	if errors.As(err, &usage) {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		if failed == nil {
			failed = root
		}
		_, _ = fmt.Fprint(stderr, failed.UsageString())
		return 2
	}
	_, _ = fmt.Fprintln(stderr, err)
	return 1
}

type session struct {
	baseURL    string
	apiKey     string
	token      string
	timeout    time.Duration
	askTimeout time.Duration
	httpClient *http.Client
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(defaults Options, stdout, stderr io.Writer) *cobra.Command {
	s := &session{
		httpClient: defaults.HTTPClient,
		askTimeout: durationOr(defaults.AskTimeout, 2*time.Minute),
		stdout:     stdout,
		stderr:     stderr,
	}

	root := &cobra.Command{
		Use:           "querypilotctl",
		Short:         "Ask questions and inspect a QueryPilot API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          requireSubcommand,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&s.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryPilot API base URL")
	flags.StringVar(&s.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.StringVar(&s.token, "token", defaults.Token, "bearer token for authenticated requests")
	flags.DurationVar(&s.timeout, "timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		s.getCommand("health", "GET /v1/health", "/v1/health"),
		s.getCommand("ready", "GET /v1/ready", "/v1/ready"),
		s.getCommand("connections", "GET /v1/connections", "/v1/connections"),
		s.schemaCommand(),
		s.askCommand(),
		s.sanitizeCommand(),
		s.historyCommand(),
	)
	return root
}

// requireSubcommand runs for command groups invoked without a known subcommand.
func requireSubcommand(_ *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usageError{err: errors.New("a command is required")}
	}
	return usageError{err: fmt.Errorf("unknown command %q", args[0])}
}

func exactArgs(n int, names string) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{err: fmt.Errorf("expected %s", names)}
		}
		return nil
	}
}

func (s *session) client(timeout time.Duration) *http.Client {
	if s.httpClient != nil {
		return s.httpClient
	}
	return &http.Client{Timeout: timeout}
}

func (s *session) endpoint(path string) string {
	return strings.TrimRight(s.baseURL, "/") + path
}

func (s *session) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(s.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if token := strings.TrimSpace(s.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (s *session) do(ctx context.Context, method, path string, body any) error {
	return s.doWithTimeout(ctx, s.timeout, method, path, body)
}

func (s *session) doWithTimeout(ctx context.Context, timeout time.Duration, method, path string, body any) error {
	req, err := s.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := s.client(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	s.print(raw)
	return nil
}

func (s *session) print(raw []byte) {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(s.stdout, pretty)
		return
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(s.stdout, string(raw))
	}
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
