package observability

const (
	AttrHTTPMethod       = "http.method"
	AttrHTTPRoute        = "http.route"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
	AttrErrorType        = "error.type"
	AttrSearchQuery      = "search.query"
	AttrSearchVariant    = "search.variant"
	AttrSearchHits       = "search.hits"
	AttrLLMModel         = "llm.model"
	AttrLLMTokensInput   = "llm.tokens.input"
	AttrLLMTokensOutput  = "llm.tokens.output"
	AttrIngestFile       = "ingest.file"
	AttrIngestRecords    = "ingest.records"

	SpanHTTPRequest = "http.request"
	SpanSearch      = "search.pipeline"
	SpanLLMRequest  = "llm.request"
	SpanStoreQuery  = "store.query"
	SpanIngestBatch = "ingest.batch"

	DefaultServiceName = "quarry"
)
