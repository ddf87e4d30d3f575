package chunk

import (
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// source turns a fixed set of buffers into a chunk sequence.
func source(bufs ...[]byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, b := range bufs {
			if !yield(b, nil) {
				return
			}
		}
	}
}

func sourceStrings(parts ...string) iter.Seq2[[]byte, error] {
	bufs := make([][]byte, len(parts))
	for i, p := range parts {
		bufs[i] = []byte(p)
	}
	return source(bufs...)
}

func collect(t *testing.T, seq iter.Seq2[ParsedChunk, error]) []ParsedChunk {
	t.Helper()
	var out []ParsedChunk
	for pc, err := range seq {
		require.NoError(t, err)
		out = append(out, pc)
	}
	return out
}

func TestParseJSON_SplitMidObject(t *testing.T) {
	chunks := sourceStrings(`{"a":`, `1}`, `{"b":2}`)

	got := collect(t, ParseJSON(chunks))

	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"a": float64(1)}, got[0].Data)
	assert.Equal(t, `{"a":1}`, got[0].Raw)
	assert.Equal(t, map[string]any{"b": float64(2)}, got[1].Data)
}

func TestParseJSON_AllSplitPoints(t *testing.T) {
	// Splitting a fixed payload at every byte boundary must yield the same
	// objects as parsing it whole.
	payload := `{"name":"rivet","n":42,"nested":{"ok":true},"s":"a}b{c"}{"tail":[1,2,3]}`

	whole := collect(t, ParseJSON(sourceStrings(payload)))
	require.Len(t, whole, 2)

	for i := 1; i < len(payload); i++ {
		got := collect(t, ParseJSON(sourceStrings(payload[:i], payload[i:])))
		require.Len(t, got, 2, "split at %d", i)
		assert.Equal(t, whole[0].Data, got[0].Data, "split at %d", i)
		assert.Equal(t, whole[1].Data, got[1].Data, "split at %d", i)
	}
}

func TestParseJSON_SplitMultiByteRune(t *testing.T) {
	payload := []byte(`{"text":"日本語"}`)
	// Split inside the first multi-byte codepoint.
	mid := 10
	require.Less(t, mid, len(payload))

	got := collect(t, ParseJSON(source(payload[:mid], payload[mid:])))

	require.Len(t, got, 1)
	assert.Equal(t, "日本語", got[0].Data["text"])
}

func TestParseJSON_EscapedQuotesAndBraces(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
	}{
		{
			name:    "brace inside string",
			payload: `{"v":"}{"}`,
			want:    "}{",
		},
		{
			name:    "escaped quote inside string",
			payload: `{"v":"say \"hi\""}`,
			want:    `say "hi"`,
		},
		{
			name:    "escaped backslash before closing quote",
			payload: `{"v":"c:\\"}`,
			want:    `c:\`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := collect(t, ParseJSON(sourceStrings(tt.payload)))
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Data["v"])
		})
	}
}

func TestParseJSON_MalformedObjectBetweenValid(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	chunks := sourceStrings(`{"valid":true}{"invalid":malformed}{"valid2":true}`)
	got := collect(t, ParseJSON(chunks, WithLogger(logger)))

	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"valid": true}, got[0].Data)
	assert.Equal(t, map[string]any{"valid2": true}, got[1].Data)
	assert.Equal(t, 1, logs.Len(), "exactly one warning for the malformed object")
}

func TestParseJSON_MaxObjectSizeExceeded(t *testing.T) {
	tests := []struct {
		name   string
		chunks iter.Seq2[[]byte, error]
	}{
		{
			name:   "incomplete oversized object",
			chunks: sourceStrings(`{"data":"` + string(make([]byte, 64)) + `long`),
		},
		{
			name:   "complete oversized object",
			chunks: sourceStrings(`{"k":"0123456789012345678901234567890123456789012345678901234567890123456789"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			for _, e := range ParseJSON(tt.chunks, WithMaxObjectSize(32)) {
				if e != nil {
					err = e
					break
				}
			}
			var se *StreamingError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, 32, se.Limit)
			assert.Contains(t, se.Error(), "32")
		})
	}
}

func TestParseJSON_ZeroLengthBuffersIgnored(t *testing.T) {
	chunks := source([]byte{}, []byte(`{"a":1}`), nil, []byte(`{"b":2}`))

	got := collect(t, ParseJSON(chunks))

	require.Len(t, got, 2)
}

func TestParseJSON_TrailingIncompleteObjectDropped(t *testing.T) {
	chunks := sourceStrings(`{"done":1}{"partial":`)

	got := collect(t, ParseJSON(chunks))

	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"done": float64(1)}, got[0].Data)
}

func TestParseJSON_MultipleObjectsInOneBuffer(t *testing.T) {
	chunks := sourceStrings(`{"i":1}{"i":2}{"i":3}`)

	got := collect(t, ParseJSON(chunks))

	require.Len(t, got, 3)
	for i, pc := range got {
		assert.Equal(t, float64(i+1), pc.Data["i"])
	}
}

func TestParseJSON_SourceErrorPropagates(t *testing.T) {
	cause := errors.New("connection reset")
	chunks := func(yield func([]byte, error) bool) {
		if !yield([]byte(`{"a":1}`), nil) {
			return
		}
		yield(nil, cause)
	}

	var objs []ParsedChunk
	var err error
	for pc, e := range ParseJSON(chunks) {
		if e != nil {
			err = e
			break
		}
		objs = append(objs, pc)
	}

	require.Len(t, objs, 1)
	assert.ErrorIs(t, err, cause)
}

func TestParseJSON_EarlyBreakStopsIteration(t *testing.T) {
	chunks := sourceStrings(`{"i":1}{"i":2}{"i":3}`)

	var got []ParsedChunk
	for pc, err := range ParseJSON(chunks) {
		require.NoError(t, err)
		got = append(got, pc)
		if len(got) == 2 {
			break
		}
	}

	assert.Len(t, got, 2)
}

func TestParseJSONLines_Basic(t *testing.T) {
	chunks := sourceStrings("{\"a\":1}\n\n  \n{\"b\":2}\n")

	got := collect(t, ParseJSONLines(chunks))

	require.Len(t, got, 2)
	assert.Equal(t, map[string]any{"a": float64(1)}, got[0].Data)
	assert.Equal(t, map[string]any{"b": float64(2)}, got[1].Data)
}

func TestParseJSONLines_SplitAcrossChunks(t *testing.T) {
	chunks := sourceStrings("{\"a\"", ":1}\n{\"b\":", "2}\n")

	got := collect(t, ParseJSONLines(chunks))

	require.Len(t, got, 2)
}

func TestParseJSONLines_MalformedLineSkipped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	chunks := sourceStrings("{\"a\":1}\nnot json\n{\"b\":2}\n")
	got := collect(t, ParseJSONLines(chunks, WithLogger(logger)))

	require.Len(t, got, 2)
	assert.Equal(t, 1, logs.Len())
}

func TestParseJSONLines_FinalUnterminatedLineParsed(t *testing.T) {
	chunks := sourceStrings("{\"a\":1}\n{\"last\":true}")

	got := collect(t, ParseJSONLines(chunks))

	require.Len(t, got, 2)
	assert.Equal(t, true, got[1].Data["last"])
}

func TestParseJSONLines_OversizedLine(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'x'
	}
	chunks := sourceStrings(`{"k":"` + string(long) + "\"}\n")

	var err error
	for _, e := range ParseJSONLines(chunks, WithMaxObjectSize(16)) {
		if e != nil {
			err = e
		}
	}

	var se *StreamingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "parse_json_lines", se.Op)
}
