package querypilotctl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/duckmesh/querypilot/internal/agent"
	"github.com/duckmesh/querypilot/internal/progress"
)

type askOptions struct {
	connectionID string
	sessionID    string
	strategy     string
	export       bool
	stream       bool
	rawJSON      bool
}

type askBody struct {
	SessionID    string `json:"session_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Question     string `json:"question"`
	Strategy     string `json:"strategy,omitempty"`
	Export       bool   `json:"export,omitempty"`
}

func (s *session) askCommand() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "POST /v1/ask",
		Args: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(strings.Join(args, " ")) == "" {
				return usageError{err: errors.New("expected a question")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout := s.askTimeout
			if cmd.Flags().Changed("timeout") {
				timeout = s.timeout
			}
			body := askBody{
				SessionID:    strings.TrimSpace(opts.sessionID),
				ConnectionID: strings.TrimSpace(opts.connectionID),
				Question:     strings.TrimSpace(strings.Join(args, " ")),
				Strategy:     strings.TrimSpace(opts.strategy),
				Export:       opts.export,
			}
			if opts.stream {
				return s.streamAsk(cmd, timeout, body)
			}
			return s.ask(cmd, timeout, body, opts.rawJSON)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.connectionID, "connection", "c", "", "connection to query (defaults to the only configured one)")
	flags.StringVar(&opts.sessionID, "session", "", "session id used to correlate progress events")
	flags.StringVar(&opts.strategy, "strategy", "", "orchestration strategy (pipeline or toolloop)")
	flags.BoolVar(&opts.export, "export", false, "archive result sets as parquet")
	flags.BoolVar(&opts.stream, "stream", false, "print progress events as they arrive")
	flags.BoolVar(&opts.rawJSON, "json", false, "print the full JSON response")
	return cmd
}

func (s *session) ask(cmd *cobra.Command, timeout time.Duration, body askBody, rawJSON bool) error {
	req, err := s.newRequest(cmd.Context(), http.MethodPost, "/v1/ask", body)
	if err != nil {
		return err
	}

	indicator := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(s.stderr), spinner.WithSuffix(" waiting for answer"))
	indicator.Start()
	resp, err := s.client(timeout).Do(req)
	var raw []byte
	if err == nil {
		raw, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
	}
	indicator.Stop()
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if rawJSON {
		s.print(raw)
		return nil
	}

	var decoded agent.Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode ask response: %w", err)
	}
	_, _ = fmt.Fprintln(s.stdout, decoded.Answer)
	for i, query := range decoded.SQLQueries {
		_, _ = fmt.Fprintf(s.stdout, "\n-- query %d\n%s\n", i+1, query)
	}
	for _, key := range decoded.ArchiveKeys {
		_, _ = fmt.Fprintf(s.stdout, "\narchived: %s\n", key)
	}
	return nil
}

func (s *session) streamAsk(cmd *cobra.Command, timeout time.Duration, body askBody) error {
	req, err := s.newRequest(cmd.Context(), http.MethodPost, "/v1/ask", body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			var event progress.Event
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			if err := s.renderEvent(event); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}

func (s *session) renderEvent(event progress.Event) error {
	payload := event.Payload
	switch event.Type {
	case progress.EventToken:
		_, _ = fmt.Fprint(s.stdout, payload["token"])
	case progress.EventComplete:
		_, _ = fmt.Fprintf(s.stdout, "\n%v\n", payload["answer"])
	case progress.EventError:
		return fmt.Errorf("ask failed: %v", payload["error"])
	case progress.EventThinking:
		_, _ = fmt.Fprintf(s.stdout, "[thinking] %v\n", payload["message"])
	case progress.EventExecutingSQL:
		_, _ = fmt.Fprintf(s.stdout, "[sql] %v\n", payload["sql"])
	case progress.EventRefined:
		_, _ = fmt.Fprintf(s.stdout, "[refined] %v\n", payload["sql"])
	case progress.EventQueryFailed:
		_, _ = fmt.Fprintf(s.stdout, "[failed] %v\n", payload["error"])
	case progress.EventTableData:
		_, _ = fmt.Fprintf(s.stdout, "[rows] %v\n", payload["row_count"])
	case progress.EventStatistic:
		_, _ = fmt.Fprintf(s.stdout, "[stat] %v: %v\n", payload["label"], payload["value"])
	default:
		raw, _ := json.Marshal(payload)
		_, _ = fmt.Fprintf(s.stdout, "[%s] %s\n", event.Type, raw)
	}
	return nil
}
