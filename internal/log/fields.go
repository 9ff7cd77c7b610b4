package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldScanID    = "scan_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Chain fields
	FieldNetwork    = "network"
	FieldToken      = "token"
	FieldHolder     = "holder"
	FieldBlock      = "block"
	FieldStartBlock = "start_block"
	FieldEndBlock   = "end_block"
	FieldChunkSize  = "chunk_size"
	FieldTxHash     = "tx_hash"

	// Path fields
	FieldPath = "path"
)
