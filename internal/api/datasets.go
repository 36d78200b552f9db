package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/explorer"
	"github.com/datasetviz/datasetviz/internal/history"
	"github.com/datasetviz/datasetviz/internal/query"
)

type queryRequest struct {
	SQL    string `json:"sql"`
	Split  string `json:"split"`
	Limit  *int   `json:"limit"`
	Offset *int   `json:"offset"`
}

type queryResponse struct {
	Columns   []string `json:"columns"`
	Data      [][]any  `json:"data"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	ElapsedMs float64  `json:"elapsed_ms"`
}

type schemaResponse struct {
	Columns    []query.Column `json:"columns"`
	ApproxRows *int64         `json:"approx_rows"`
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExplorer(deps, w, r) {
		return
	}
	names, err := deps.Explorer.ListDatasets(r.Context(), rootParam(r))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": nonNil(names)})
}

func handleListSplits(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExplorer(deps, w, r) {
		return
	}
	splits, err := deps.Explorer.ListSplits(r.Context(), rootParam(r), r.PathValue("name"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"splits": nonNil(splits)})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExplorer(deps, w, r) {
		return
	}
	schema, err := deps.Explorer.Schema(r.Context(), rootParam(r), r.PathValue("name"), r.URL.Query().Get("split"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	columns := schema.Columns
	if columns == nil {
		columns = []query.Column{}
	}
	writeJSON(w, http.StatusOK, schemaResponse{Columns: columns, ApproxRows: schema.ApproxRows})
}

func handleCount(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExplorer(deps, w, r) {
		return
	}
	rows, err := deps.Explorer.Count(r.Context(), rootParam(r), r.PathValue("name"), r.URL.Query().Get("split"))
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireExplorer(deps, w, r) {
		return
	}

	var request queryRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}

	result, err := deps.Explorer.Query(r.Context(), rootParam(r), r.PathValue("name"), explorer.QueryRequest{
		SQL:    request.SQL,
		Split:  request.Split,
		Limit:  request.Limit,
		Offset: request.Offset,
	})
	if err != nil {
		writeDatasetError(w, r, err)
		return
	}

	data := result.Data
	if data == nil {
		data = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   nonNil(result.Columns),
		Data:      data,
		RowCount:  result.RowCount,
		Truncated: result.Truncated,
		ElapsedMs: result.ElapsedMs(),
	})
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}
	filter := history.ListFilter{Dataset: strings.TrimSpace(r.URL.Query().Get("dataset"))}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		filter.Limit = limit
	}
	entries, err := deps.History.List(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to list query history", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func requireExplorer(deps Dependencies, w http.ResponseWriter, r *http.Request) bool {
	if deps.Explorer != nil {
		return true
	}
	writeError(r.Context(), w, http.StatusNotImplemented, "EXPLORER_NOT_CONFIGURED", errExplorerMissing.Error(), false, nil)
	return false
}

// writeDatasetError maps a domain error onto the HTTP error envelope.
// Errors without a known code are reported as 500 without their details.
func writeDatasetError(w http.ResponseWriter, r *http.Request, err error) {
	code := dataset.Code(err)
	status := statusForCode(code)
	if status == http.StatusInternalServerError {
		writeError(r.Context(), w, status, code, "internal error", true, nil)
		return
	}
	extra := map[string]any{}
	if name := r.PathValue("name"); name != "" {
		extra["dataset"] = name
	}
	writeError(r.Context(), w, status, code, err.Error(), false, extra)
}

func statusForCode(code string) int {
	switch code {
	case "ROOT_NOT_FOUND", "DATASET_NOT_FOUND", "SPLIT_NOT_FOUND", "NO_SHARDS_FOUND":
		return http.StatusNotFound
	case "PATH_ESCAPE", "ROOT_NOT_DIRECTORY", "UNSUPPORTED_FORMAT", "INVALID_QUERY",
		"QUERY_EXECUTION_FAILED", "RELATION_BUILD_FAILED", "SCHEMA_EXTRACTION_FAILED":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func rootParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("root"))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
