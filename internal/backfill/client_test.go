package backfill

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-proto/aegis/internal/util"
)

func TestRkeyFromURI_ExtractsTrailingSegment(t *testing.T) {
	require.Equal(t, "3k7x2y", rkeyFromURI("at://did:plc:abc/app.bsky.graph.follow/3k7x2y"))
}

func TestRkeyFromURI_NoSlashReturnsInput(t *testing.T) {
	require.Equal(t, "bare-rkey", rkeyFromURI("bare-rkey"))
}

func TestIsRecordNotFound_MatchesMissingRecordsField(t *testing.T) {
	err := errors.New("XRPC ERROR 400: InvalidRequest: missing field records at line 1 column 20")
	require.True(t, isRecordNotFound(err))
}

func TestIsRecordNotFound_OtherErrorsAreNotMatched(t *testing.T) {
	require.False(t, isRecordNotFound(errors.New("connection refused")))
}

func TestListRecordsOutput_DecodesCursorAsPointer(t *testing.T) {
	var out listRecordsOutput
	require.NoError(t, json.Unmarshal([]byte(`{"cursor":"abc","records":[]}`), &out))
	require.Equal(t, util.Ptr("abc"), out.Cursor)
}

func TestListRecordsOutput_OmitsCursorAtEndOfPage(t *testing.T) {
	var out listRecordsOutput
	require.NoError(t, json.Unmarshal([]byte(`{"records":[]}`), &out))
	require.Nil(t, out.Cursor)
}
