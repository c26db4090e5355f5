package upstream

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody wraps body in a reader undoing the given Content-Encoding
func decodeBody(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return reader, nil
	case "deflate":
		return newDeflateReader(body)
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

// "deflate" is supposed to be zlib wrapped, but some servers send raw deflate streams
func newDeflateReader(body io.Reader) (io.ReadCloser, error) {
	buffered := bufio.NewReader(body)

	header, err := buffered.Peek(2)
	if err == nil && isZlibHeader(header[0], header[1]) {
		reader, err := zlib.NewReader(buffered)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return reader, nil
	}

	return flate.NewReader(buffered), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
