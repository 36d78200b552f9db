package datasetvizctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	Root       string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method string
	path   string
	query  url.Values
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("datasetvizctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "datasetviz API base URL")
	root := fs.String("root", defaults.Root, "datasets root override (server-side path)")
	split := fs.String("split", "", "split name for schema, count and query")
	limit := fs.Int("limit", 0, "row limit for query and history (0 uses the server default)")
	offset := fs.Int("offset", 0, "row offset for query")
	datasetFilter := fs.String("dataset", "", "dataset filter for history")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	name := strings.TrimSpace(fs.Arg(1))
	needName := func() bool {
		if name != "" {
			return true
		}
		_, _ = fmt.Fprintf(stderr, "command %q requires a dataset name\n\n", fs.Arg(0))
		writeUsage(stderr)
		return false
	}

	rootQuery := url.Values{}
	if strings.TrimSpace(*root) != "" {
		rootQuery.Set("root", strings.TrimSpace(*root))
	}
	splitQuery := cloneValues(rootQuery)
	if strings.TrimSpace(*split) != "" {
		splitQuery.Set("split", strings.TrimSpace(*split))
	}

	var cmd command
	switch strings.TrimSpace(fs.Arg(0)) {
	case "health":
		cmd = command{method: http.MethodGet, path: "/health"}
	case "ready":
		cmd = command{method: http.MethodGet, path: "/ready"}
	case "datasets":
		cmd = command{method: http.MethodGet, path: "/datasets", query: rootQuery}
	case "splits":
		if !needName() {
			return 2
		}
		cmd = command{method: http.MethodGet, path: datasetPath(name, "splits"), query: rootQuery}
	case "schema":
		if !needName() {
			return 2
		}
		cmd = command{method: http.MethodGet, path: datasetPath(name, "schema"), query: splitQuery}
	case "count":
		if !needName() {
			return 2
		}
		cmd = command{method: http.MethodGet, path: datasetPath(name, "count"), query: splitQuery}
	case "query":
		if !needName() {
			return 2
		}
		sqlText := strings.TrimSpace(strings.Join(fs.Args()[2:], " "))
		if sqlText == "" {
			_, _ = fmt.Fprintln(stderr, "command \"query\" requires SQL after the dataset name")
			return 2
		}
		body := map[string]any{"sql": sqlText}
		if strings.TrimSpace(*split) != "" {
			body["split"] = strings.TrimSpace(*split)
		}
		if *limit > 0 {
			body["limit"] = *limit
		}
		if *offset > 0 {
			body["offset"] = *offset
		}
		cmd = command{method: http.MethodPost, path: datasetPath(name, "query"), query: rootQuery, body: body}
	case "history":
		query := url.Values{}
		if strings.TrimSpace(*datasetFilter) != "" {
			query.Set("dataset", strings.TrimSpace(*datasetFilter))
		}
		if *limit > 0 {
			query.Set("limit", strconv.Itoa(*limit))
		}
		cmd = command{method: http.MethodGet, path: "/history", query: query}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	if len(cmd.query) > 0 {
		endpoint += "?" + cmd.query.Encode()
	}
	code, responseBody, err := doRequest(ctx, client, cmd.method, endpoint, cmd.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func datasetPath(name, action string) string {
	return "/datasets/" + url.PathEscape(name) + "/" + action
}

func cloneValues(values url.Values) url.Values {
	out := url.Values{}
	for key, list := range values {
		out[key] = append([]string(nil), list...)
	}
	return out
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

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: datasetvizctl [flags] <command> [dataset] [sql]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                GET /health")
	_, _ = fmt.Fprintln(w, "  ready                 GET /ready")
	_, _ = fmt.Fprintln(w, "  datasets              GET /datasets")
	_, _ = fmt.Fprintln(w, "  splits <name>         GET /datasets/{name}/splits")
	_, _ = fmt.Fprintln(w, "  schema <name>         GET /datasets/{name}/schema")
	_, _ = fmt.Fprintln(w, "  count <name>          GET /datasets/{name}/count")
	_, _ = fmt.Fprintln(w, "  query <name> <sql>    POST /datasets/{name}/query")
	_, _ = fmt.Fprintln(w, "  history               GET /history")
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
