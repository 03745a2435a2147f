package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error

	// Event log errors
	CodeEventInvalidPath  = "E_EVENT_INVALID_PATH"  // the event path is invalid or escapes the tree
	CodeEventInvalidKind  = "E_EVENT_INVALID_KIND"  // the event kind is unknown
	CodeEventAppendFailed = "E_EVENT_APPEND_FAILED" // the event could not be appended to the log
	CodeSyncFailed        = "E_SYNC_FAILED"         // events since the cursor could not be read

	// Polling protocol errors
	CodeIndexReadFailed = "E_INDEX_READ_FAILED" // the server index could not be read
	CodeFileNotFound    = "E_FILE_NOT_FOUND"    // the requested path does not exist
	CodeUploadFailed    = "E_UPLOAD_FAILED"     // the upload could not be stored
	CodeDeleteFailed    = "E_DELETE_FAILED"     // the delete could not be applied
)
