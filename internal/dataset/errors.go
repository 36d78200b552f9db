package dataset

import "errors"

var (
	ErrRootNotFound      = errors.New("root not found")
	ErrRootNotDirectory  = errors.New("root is not a directory")
	ErrPathEscape        = errors.New("dataset path escapes the configured root")
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrSplitNotFound     = errors.New("split not found")
	ErrNoShardsFound     = errors.New("no shards found")
	ErrRelationBuild     = errors.New("relation build failed")
	ErrQueryExecution    = errors.New("query execution failed")
	ErrSchemaExtraction  = errors.New("schema extraction failed")
	ErrInvalidQuery      = errors.New("invalid query request")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPathEscape, "PATH_ESCAPE"},
	{ErrRootNotFound, "ROOT_NOT_FOUND"},
	{ErrRootNotDirectory, "ROOT_NOT_DIRECTORY"},
	{ErrDatasetNotFound, "DATASET_NOT_FOUND"},
	{ErrUnsupportedFormat, "UNSUPPORTED_FORMAT"},
	{ErrSplitNotFound, "SPLIT_NOT_FOUND"},
	{ErrNoShardsFound, "NO_SHARDS_FOUND"},
	{ErrInvalidQuery, "INVALID_QUERY"},
	{ErrQueryExecution, "QUERY_EXECUTION_FAILED"},
	{ErrSchemaExtraction, "SCHEMA_EXTRACTION_FAILED"},
	{ErrRelationBuild, "RELATION_BUILD_FAILED"},
}

// Code maps err to its stable error code, or "INTERNAL" when it carries none
// of the sentinels above.
func Code(err error) string {
	for _, item := range errorCodes {
		if errors.Is(err, item.err) {
			return item.code
		}
	}
	return "INTERNAL"
}
