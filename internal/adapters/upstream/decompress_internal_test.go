package upstream

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, encoding string, data []byte) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	var w io.WriteCloser
	switch encoding {
	case "gzip":
		w = gzip.NewWriter(buf)
	case "zlib":
		w = zlib.NewWriter(buf)
	case "flate":
		var err error
		w, err = flate.NewWriter(buf, flate.DefaultCompression)
		require.NoError(t, err)
	case "br":
		w = brotli.NewWriter(buf)
	default:
		t.Fatalf("unknown encoding %s", encoding)
	}

	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte(`{"kind":"Listing","data":{"children":[]}}`), 100)

	cases := []struct {
		name            string
		contentEncoding string
		body            []byte
	}{
		{name: "no encoding", contentEncoding: "", body: data},
		{name: "identity", contentEncoding: "identity", body: data},
		{name: "gzip", contentEncoding: "gzip", body: encode(t, "gzip", data)},
		{name: "x-gzip", contentEncoding: "x-gzip", body: encode(t, "gzip", data)},
		{name: "uppercase gzip", contentEncoding: " GZIP ", body: encode(t, "gzip", data)},
		{name: "zlib deflate", contentEncoding: "deflate", body: encode(t, "zlib", data)},
		{name: "raw deflate", contentEncoding: "deflate", body: encode(t, "flate", data)},
		{name: "brotli", contentEncoding: "br", body: encode(t, "br", data)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			reader, err := decodeBody(bytes.NewReader(tc.body), tc.contentEncoding)
			require.NoError(t, err)
			defer reader.Close()

			decoded, err := io.ReadAll(reader)
			require.NoError(t, err)
			require.Equal(t, data, decoded)
		})
	}

	t.Run("unsupported encoding", func(t *testing.T) {
		t.Parallel()

		_, err := decodeBody(bytes.NewReader(data), "compress")
		require.Error(t, err)
	})

	t.Run("invalid gzip", func(t *testing.T) {
		t.Parallel()

		_, err := decodeBody(bytes.NewReader([]byte("not gzip")), "gzip")
		require.Error(t, err)
	})
}

func TestIsZlibHeader(t *testing.T) {
	t.Parallel()

	zlibData := encode(t, "zlib", []byte("data"))
	require.True(t, isZlibHeader(zlibData[0], zlibData[1]))

	require.False(t, isZlibHeader('{', '"'))
}
