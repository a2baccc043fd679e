package mtproto

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/gram-proto/gram/tl"
)

// gzipWrap compresses body and, only if that actually shrinks it, returns it
// boxed as gzip_packed; otherwise returns body unchanged and ok=false. The
// wire format is bit-for-bit RFC 1952 gzip, which the standard library's
// compress/gzip targets directly.
func gzipWrap(body []byte, threshold int) (wrapped []byte, ok bool) {
	if len(body) < threshold {
		return body, false
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return body, false
	}
	if err := zw.Close(); err != nil {
		return body, false
	}
	if buf.Len() >= len(body) {
		return body, false
	}
	w := tl.NewWriter(buf.Len() + 8)
	w.PutConstructor(constructorGzipPacked)
	w.PutBytes(buf.Bytes())
	return w.Bytes(), true
}

// gzipUnwrap decompresses the packed_data field of a gzip_packed value
// (the reader must already have consumed the gzip_packed constructor).
func gzipUnwrap(r *tl.Reader) ([]byte, error) {
	packed, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
