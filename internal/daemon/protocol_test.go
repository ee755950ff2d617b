package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/foldermcp/internal/errors"
)

func TestRequest_JSON(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSearchChunks,
		Params: SearchDocsParams{
			Query:      "remote work policy",
			FolderPath: "/docs/hr",
			K:          10,
		},
		ID: "req-1",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, MethodSearchChunks, decoded.Method)
	assert.Equal(t, "req-1", decoded.ID)
}

func TestResponse_Success(t *testing.T) {
	results := []ChunkSearchHit{
		{ChunkID: "c1", DocumentID: "d1", Path: "policy.md", Score: 0.95},
	}

	resp := NewSuccessResponse("req-1", SearchChunksResult{Results: results})

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.NotNil(t, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestResponse_Error(t *testing.T) {
	resp := NewErrorResponse("req-1", ErrCodeInvalidParams, "query is required")

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "query is required", resp.Error.Message)
}

func TestStatusResult_JSON(t *testing.T) {
	status := StatusResult{
		Running:        true,
		PID:            1234,
		Uptime:         "2h3m",
		EmbedderType:   "bge-small-en-v1.5",
		EmbedderStatus: "ready",
		FoldersLoaded:  3,
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded StatusResult
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, status.PID, decoded.PID)
	assert.Equal(t, status.EmbedderType, decoded.EmbedderType)
	assert.Equal(t, status.FoldersLoaded, decoded.FoldersLoaded)
}

func TestFolderParams_Validate(t *testing.T) {
	p := &FolderParams{}
	assert.Error(t, p.Validate())

	p.FolderPath = "/docs"
	assert.NoError(t, p.Validate())
}

func TestListDocumentsParams_Validate(t *testing.T) {
	p := &ListDocumentsParams{FolderPath: "/docs", Limit: -1}
	assert.Error(t, p.Validate())

	p.Limit = 50
	assert.NoError(t, p.Validate())

	p.FolderPath = ""
	assert.Error(t, p.Validate())
}

func TestSearchDocsParams_Validate(t *testing.T) {
	p := &SearchDocsParams{}
	assert.Error(t, p.Validate(), "missing folder path")

	p.FolderPath = "/docs"
	assert.Error(t, p.Validate(), "missing query")

	// k = 0 (including simply omitted) and negative k are both rejected as
	// ValidationFailed, never silently defaulted.
	p.Query = "vacation days"
	err := p.Validate()
	require.Error(t, err, "k = 0 must be rejected")
	assert.True(t, amerrors.HasKind(err, amerrors.KindValidationFailed))

	p.K = -5
	require.Error(t, p.Validate())

	p.K = 10
	assert.NoError(t, p.Validate())
}

func TestSearchDocsParams_Validate_EmptyQueryIsValidationFailed(t *testing.T) {
	p := &SearchDocsParams{FolderPath: "/docs", K: 5}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, amerrors.HasKind(err, amerrors.KindValidationFailed))
}

func TestDocParams_Validate(t *testing.T) {
	p := &DocParams{FolderPath: "/docs"}
	assert.Error(t, p.Validate(), "missing doc id")

	p.DocID = "abc123"
	assert.NoError(t, p.Validate())
}

func TestGetChunksParams_Validate(t *testing.T) {
	p := &GetChunksParams{FolderPath: "/docs", DocID: "abc123"}
	assert.NoError(t, p.Validate(), "zero range means whole document")

	p.Start = 5
	p.End = 2
	assert.Error(t, p.Validate())

	p.End = 9
	assert.NoError(t, p.Validate())
}

func TestBatchDocSummaryParams_Validate(t *testing.T) {
	p := &BatchDocSummaryParams{FolderPath: "/docs"}
	assert.Error(t, p.Validate(), "empty doc id list")

	p.DocIDs = []string{"a", "b"}
	assert.NoError(t, p.Validate())
}

func TestGetEmbeddingParams_Validate(t *testing.T) {
	p := &GetEmbeddingParams{FolderPath: "/docs"}
	assert.Error(t, p.Validate(), "missing text")

	p.Text = "quarterly revenue"
	assert.NoError(t, p.Validate())
}

func TestRequest_ParamsRoundTrip(t *testing.T) {
	// Params survive a marshal/unmarshal cycle as raw JSON that handlers
	// re-decode into the concrete params type.
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodGetChunks,
		Params:  GetChunksParams{FolderPath: "/docs", DocID: "d1", Start: 0, End: 4},
		ID:      "req-9",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded struct {
		Params json.RawMessage `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	var params GetChunksParams
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	assert.Equal(t, "d1", params.DocID)
	assert.Equal(t, 4, params.End)
}
