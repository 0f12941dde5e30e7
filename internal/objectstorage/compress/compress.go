// Package compress implements the four log compression methods named
// by the configuration schema (gzip, bzip2, lzma, brotli), grounded on
// object_storage/log_compressor.py's SUPPORTED_METHODS and
// streaming-handler-per-method dispatch. Go's standard library only
// ships a bzip2 reader, not a writer, so bzip2/lzma/brotli are backed
// by real third-party writers instead.
package compress

import (
	"compress/gzip"
	"io"
	"os"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz/lzma"

	goerrors "github.com/scrapyd-k8s/scrapyd-k8s/internal/errors"
)

const chunkSize = 1024

// Extension maps a compression method to its object-key suffix, the
// Go equivalent of COMPRESSION_EXTENSIONS.
var Extension = map[string]string{
	"gzip":   "gz",
	"bzip2":  "bz2",
	"lzma":   "xz",
	"brotli": "br",
}

// Supported reports whether method is one of the four recognized
// compression methods, or "" (no compression).
func Supported(method string) bool {
	if method == "" {
		return true
	}
	_, ok := Extension[method]
	return ok
}

// Compress reads inputPath and writes a compressed copy to a temporary
// file in the system temp directory, returning its path. The caller is responsible for
// removing the temp file once it has been uploaded.
func Compress(method, inputPath string) (string, error) {
	in, err := os.Open(inputPath)
	if err != nil {
		return "", goerrors.Wrapf(err, "opening %s for compression", inputPath)
	}
	defer in.Close()

	out, err := os.CreateTemp("", "*.log."+method)
	if err != nil {
		return "", goerrors.Wrap(err, "creating temp file for compression")
	}
	defer out.Close()

	var w io.WriteCloser
	switch method {
	case "gzip":
		w = gzip.NewWriter(out)
	case "bzip2":
		w, err = bzip2.NewWriter(out, nil)
	case "lzma":
		w, err = lzma.NewWriter(out)
	case "brotli":
		w = brotli.NewWriter(out)
	default:
		os.Remove(out.Name())
		return "", &goerrors.ConfigError{Msg: "unsupported compression method " + method}
	}
	if err != nil {
		os.Remove(out.Name())
		return "", goerrors.Wrapf(err, "constructing %s writer", method)
	}

	if _, err := io.CopyBuffer(w, in, make([]byte, chunkSize)); err != nil {
		w.Close()
		os.Remove(out.Name())
		return "", goerrors.Wrapf(err, "compressing %s with %s", inputPath, method)
	}
	if err := w.Close(); err != nil {
		os.Remove(out.Name())
		return "", goerrors.Wrapf(err, "finalizing %s compression", method)
	}
	return out.Name(), nil
}
