package workerclient

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/smilemakc/mbflow/pkg/workerproto"
)

func doneFrame(t *testing.T, taskID, hash string, schema []byte) workerproto.Frame {
	t.Helper()
	body, err := msgpack.Marshal(workerproto.DonePayload{TaskID: taskID, Hash: hash, Schema: schema, RowCount: 1})
	require.NoError(t, err)
	return workerproto.Frame{Tag: workerproto.TagDone, Payload: body}
}
