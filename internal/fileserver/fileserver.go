// Package fileserver implements the static file server (spec.md §6),
// ported from original_source/static_files.c: URL-to-path resolution via
// internal/pathutil, stat-based access checks, and a partial-write-safe
// streaming send.
package fileserver

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"preforkd/internal/httpparse"
	"preforkd/internal/pathutil"
	"preforkd/internal/response"
)

// Server serves files rooted at Root, the Go equivalent of
// original_source/static_files.c's "./www" ROOT macro.
type Server struct {
	Root string
}

// New returns a Server rooted at root. root is resolved to an absolute,
// symlink-free path once up front so every request's containment check
// compares against a stable prefix, mirroring static_files.c's
// once-per-process realpath(ROOT, szResolvedRoot) caching.
func New(root string) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Server{Root: resolved}, nil
}

var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".json": "application/json",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
}

// MIMEType maps a file's extension to a Content-Type, defaulting to
// application/octet-stream exactly as getMIMEType did.
func MIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

// resolveOnDisk turns a URL path into an absolute filesystem path
// guaranteed to live under s.Root, or reports the HTTP status the failure
// maps to. "/" maps to "/index.html" first, matching URLToFilePath.
func (s *Server) resolveOnDisk(urlPath string) (string, int) {
	if urlPath == "/" {
		urlPath = "/index.html"
	}

	rel, err := pathutil.Resolve(urlPath)
	if err != nil {
		return "", 403
	}

	full := filepath.Join(s.Root, rel)

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 404
		}
		return "", 403
	}

	if resolved != s.Root && !strings.HasPrefix(resolved, s.Root+string(filepath.Separator)) {
		return "", 403
	}

	return resolved, 200
}

// Handle serves req against the file tree rooted at s.Root, producing a
// fully-formed Response the caller can hand to Response.WriteTo. Only GET
// and HEAD are accepted; every other method yields 405 per spec.md §6.
func (s *Server) Handle(req *httpparse.RequestView) response.Response {
	method := string(req.Method)
	if method != "GET" && method != "HEAD" {
		return response.New(405, req.IsHTTP10(), nil)
	}

	diskPath, status := s.resolveOnDisk(string(req.Path))
	if status != 200 {
		return response.New(status, req.IsHTTP10(), nil)
	}

	info, err := os.Stat(diskPath)
	if err != nil {
		return response.New(404, req.IsHTTP10(), nil)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return response.New(403, req.IsHTTP10(), nil)
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return response.New(500, req.IsHTTP10(), nil)
	}
	defer f.Close()

	contentType := MIMEType(diskPath)

	if method == "HEAD" {
		r := response.New(200, req.IsHTTP10(), nil)
		r.ContentType = contentType
		return r
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return response.New(500, req.IsHTTP10(), nil)
	}

	r := response.New(200, req.IsHTTP10(), body)
	r.ContentType = contentType
	return r
}

// ServeOverFD serves req directly against the raw socket descriptor
// connFD, writing the header block with a normal write and the file body
// with the kernel's sendfile(2) so the content never passes through user
// space — the zero-copy equivalent of original_source/static_files.c's
// sendFileToSocket, adapted from the benchmark in sendfl/main.go's
// transferWithSendFile. Non-GET methods, HEAD, and any error response
// still go through the ordinary Body-in-memory path, since a sendfile has
// nothing to offer a response with no file behind it.
//
// It returns the final response status (for metrics) and the number of
// body bytes actually sent.
func (s *Server) ServeOverFD(connFD int, req *httpparse.RequestView) (status int, bodyBytes int64, err error) {
	method := string(req.Method)
	if method != "GET" {
		r := s.Handle(req)
		werr := response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock()))
		if werr == nil && len(r.Body) > 0 {
			werr = response.WriteAll(fdWriter{connFD}, r.Body)
		}
		return r.Status, int64(len(r.Body)), werr
	}

	diskPath, st := s.resolveOnDisk(string(req.Path))
	if st != 200 {
		r := response.New(st, req.IsHTTP10(), nil)
		return st, 0, response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock()))
	}

	info, statErr := os.Stat(diskPath)
	if statErr != nil {
		r := response.New(404, req.IsHTTP10(), nil)
		return 404, 0, response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock()))
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		r := response.New(403, req.IsHTTP10(), nil)
		return 403, 0, response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock()))
	}

	f, openErr := os.Open(diskPath)
	if openErr != nil {
		r := response.New(500, req.IsHTTP10(), nil)
		return 500, 0, response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock()))
	}
	defer f.Close()

	r := response.New(200, req.IsHTTP10(), nil)
	r.ContentType = MIMEType(diskPath)
	r.Length = int(info.Size())

	if err := response.WriteAll(fdWriter{connFD}, []byte(r.HeaderBlock())); err != nil {
		return 200, 0, err
	}

	sent, err := sendFile(connFD, int(f.Fd()), info.Size())
	return 200, sent, err
}

// sendFile streams count bytes from inFD to outFD via the sendfile(2)
// syscall, retrying on a short transfer exactly the way
// sendFileToSocket's read/send loop retried on a short send.
func sendFile(outFD, inFD int, count int64) (int64, error) {
	var sent int64
	var offset int64

	for sent < count {
		n, err := syscall.Sendfile(outFD, inFD, &offset, int(count-sent))
		if n > 0 {
			sent += int64(n)
		}
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EINTR {
				continue
			}
			return sent, err
		}
		if n == 0 {
			break
		}
	}
	return sent, nil
}

// fdWriter adapts a raw, non-blocking socket descriptor to io.Writer for
// response.WriteAll.
type fdWriter struct{ fd int }

func (w fdWriter) Write(b []byte) (int, error) {
	for {
		n, err := syscall.Write(w.fd, b)
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			continue
		}
		return n, err
	}
}
