package output

import (
	"compress/gzip"
	"io"
	"os"

	"github.com/medforge/casgen/internal/domain"
)

// GzipFile compresses path into path+".gz" and removes the original.
// Returns the new file name.
func GzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "opening source", err)
	}
	defer src.Close()

	dstPath := path + ".gz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "creating gzip file", err)
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "compressing", err)
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "finalizing gzip stream", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "closing gzip file", err)
	}
	if err := os.Remove(path); err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "removing source", err)
	}
	return dstPath, nil
}

// GunzipFile expands a ".gz" file next to itself, dropping the suffix.
// Used by the admin client when inspecting artifacts.
func GunzipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "opening gzip file", err)
	}
	defer src.Close()

	gr, err := gzip.NewReader(src)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "reading gzip header", err)
	}
	defer gr.Close()

	dstPath := trimSuffix(path, ".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "creating output file", err)
	}
	if _, err := io.Copy(dst, gr); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "decompressing", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", domain.WrapEngineError(domain.ErrCompression.Code, "closing output file", err)
	}
	return dstPath, nil
}

func trimSuffix(s, suffix string) string {
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s + ".out"
}
