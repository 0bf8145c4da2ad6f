package workerproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTripsStartFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	in := StartPayload{TaskID: "t-1", Kind: "filter", NodeID: 42, Plan: []byte(`{"kind":"filter"}`)}

	require.NoError(t, w.WriteFrame(TagStart, in))

	r := NewReader(&buf)
	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TagStart, frame.Tag)

	var out StartPayload
	require.NoError(t, Decode(frame, &out))
	assert.Equal(t, in, out)
}

func TestWriterReader_RoundTripsMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(TagProgress, ProgressPayload{TaskID: "t-1", Rows: 10, Phase: "scan"}))
	require.NoError(t, w.WriteFrame(TagDone, DonePayload{TaskID: "t-1", Hash: "abc", RowCount: 10}))

	r := NewReader(&buf)

	f1, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TagProgress, f1.Tag)
	var p ProgressPayload
	require.NoError(t, Decode(f1, &p))
	assert.EqualValues(t, 10, p.Rows)

	f2, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TagDone, f2.Tag)
	var d DonePayload
	require.NoError(t, Decode(f2, &d))
	assert.Equal(t, "abc", d.Hash)
}

func TestReader_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	r := NewReader(&buf)
	_, err := r.ReadFrame()

	assert.Error(t, err)
}

func TestReader_RejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})

	r := NewReader(&buf)
	_, err := r.ReadFrame()

	assert.Error(t, err)
}

func TestTag_String_KnownAndUnknown(t *testing.T) {
	assert.Equal(t, "start", TagStart.String())
	assert.Equal(t, "tag(99)", Tag(99).String())
}
