package errors

// Kind names one of the error taxonomy entries used across the folder
// lifecycle, storage, and embedding layers. Unlike Code (the ERR_XXX
// catalog, kept for CLI/RPC wire compatibility) Kind is the name callers
// switch on when deciding how to react to a failure.
type Kind string

const (
	KindModelMismatch     Kind = "ModelMismatch"
	KindDimensionMismatch Kind = "DimensionMismatch"
	KindStorageCorruption Kind = "StorageCorruption"
	KindParseFailed       Kind = "ParseFailed"
	KindEmbeddingFailed   Kind = "EmbeddingFailed"
	KindTaskFailed        Kind = "TaskFailed"
	KindScanFailed        Kind = "ScanFailed"
	KindModelDownload     Kind = "ModelDownloadFailed"
	KindForcedShutdown    Kind = "ForcedShutdown"
	KindNotReady          Kind = "NotReady"
	KindValidationFailed  Kind = "ValidationFailed"
)

// kindToCode maps each named kind to the ERR_XXX code it is reported under,
// so AmanError keeps one wire format regardless of which constructor built it.
var kindToCode = map[Kind]string{
	KindModelMismatch:     ErrCodeModelMismatch,
	KindDimensionMismatch: ErrCodeDimensionMismatch,
	KindStorageCorruption: ErrCodeCorruptIndex,
	KindParseFailed:       ErrCodeFileCorrupt,
	KindEmbeddingFailed:   ErrCodeEmbeddingFailed,
	KindTaskFailed:        ErrCodeIndexFailed,
	KindScanFailed:        ErrCodeInternal,
	KindModelDownload:     ErrCodeModelDownload,
	KindForcedShutdown:    ErrCodeInternal,
	KindNotReady:          ErrCodeInvalidInput,
	KindValidationFailed:  ErrCodeInvalidInput,
}

// Kind returns the taxonomy name this error belongs to. Errors built through
// NewKind (or one of the per-kind constructors below) carry their kind in
// Details; errors built through the older Code-only constructors fall back
// to a best-effort reverse lookup from Code.
func (e *AmanError) Kind() Kind {
	if e.Details != nil {
		if k, ok := e.Details["kind"]; ok {
			return Kind(k)
		}
	}
	for k, code := range kindToCode {
		if code == e.Code {
			return k
		}
	}
	return ""
}

// HasKind reports whether err carries the given Kind.
func HasKind(err error, kind Kind) bool {
	ae, ok := err.(*AmanError)
	if !ok {
		return false
	}
	return ae.Kind() == kind
}

// NewKind builds an AmanError for one taxonomy Kind.
func NewKind(kind Kind, message string, cause error) *AmanError {
	code, ok := kindToCode[kind]
	if !ok {
		code = ErrCodeInternal
	}
	err := New(code, message, cause)
	if kind == KindForcedShutdown || kind == KindModelMismatch || kind == KindDimensionMismatch || kind == KindStorageCorruption {
		err.Severity = SeverityFatal
	}
	return err.WithDetail("kind", string(kind))
}

// ModelMismatchError reports that a folder's persisted embedding_config
// disagrees with the model currently selected for that folder.
func ModelMismatchError(expected, got string) *AmanError {
	return NewKind(KindModelMismatch, "embedding model mismatch", nil).
		WithDetail("expected_model", expected).
		WithDetail("got_model", got)
}

// DimensionMismatchError reports that a folder's persisted vector dimension
// disagrees with the dimension the current provider reports.
func DimensionMismatchError(expected, got int) *AmanError {
	return NewKind(KindDimensionMismatch, "embedding dimension mismatch", nil).
		WithDetail("expected_dimension", itoa(expected)).
		WithDetail("got_dimension", itoa(got))
}

// StorageCorruptionError reports that a folder database failed its integrity
// check and must be rebuilt before it can serve again.
func StorageCorruptionError(detail string, cause error) *AmanError {
	return NewKind(KindStorageCorruption, detail, cause)
}

// ParseFailedError isolates a single document's parse failure from the rest
// of a folder's indexing run.
func ParseFailedError(path string, cause error) *AmanError {
	return NewKind(KindParseFailed, "failed to parse document", cause).WithDetail("path", path)
}

// EmbeddingFailedError reports a retryable embedding-call failure.
func EmbeddingFailedError(cause error) *AmanError {
	return NewKind(KindEmbeddingFailed, "embedding call failed", cause)
}

// TaskFailedError reports a task that exhausted its retry budget.
func TaskFailedError(taskID string, cause error) *AmanError {
	return NewKind(KindTaskFailed, "task failed after retries", cause).WithDetail("task_id", taskID)
}

// ScanFailedError reports a folder scan that could not complete.
func ScanFailedError(folderPath string, cause error) *AmanError {
	return NewKind(KindScanFailed, "folder scan failed", cause).WithDetail("folder_path", folderPath)
}

// ModelDownloadFailedError reports a download failure that fans out to every
// folder subscribed to that model.
func ModelDownloadFailedError(modelID string, cause error) *AmanError {
	return NewKind(KindModelDownload, "model download failed", cause).WithDetail("model_id", modelID)
}

// ForcedShutdownErr is the distinct cancellation error every in-flight
// Resource Manager operation receives when shutdown(force=true) is called.
var ForcedShutdownErr = NewKind(KindForcedShutdown, "operation cancelled by forced shutdown", nil)

// NotReadyError reports an operation invoked before its required
// initialization completed (e.g. search before an index exists).
func NotReadyError(what string) *AmanError {
	return NewKind(KindNotReady, what+" is not ready", nil)
}

// ValidationFailedError reports rejected CLI/RPC input.
func ValidationFailedError(what string) *AmanError {
	return NewKind(KindValidationFailed, what, nil)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
