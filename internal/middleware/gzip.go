package middleware

import (
	"bufio"
	"compress/gzip"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"nephrogo-edge/internal/config"
)

// Gzip returns an Echo middleware that compresses responses according to the
// configured policy: the client must accept gzip, the Content-Type must be on
// the allow-list, and the body must be at least min_length bytes. When the
// length is not declared, the first min_length bytes are buffered before the
// decision; everything after streams through the compressor.
//
// Vary: Accept-Encoding is set on every response with a compressible
// Content-Type, whether or not compression fired, so shared caches never mix
// encoded and identity variants.
func Gzip(store *config.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cfg := store.Current()
			if !cfg.Gzip.On() {
				return next(c)
			}

			res := c.Response()
			gw := &gzipWriter{
				ResponseWriter: res.Writer,
				policy:         &cfg.Gzip,
				accepts:        acceptsGzip(c.Request()),
				status:         http.StatusOK,
			}
			res.Writer = gw

			err := next(c)

			if cerr := gw.finalize(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		}
	}
}

// acceptsGzip reports whether the client listed gzip in Accept-Encoding.
func acceptsGzip(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept-Encoding"), "gzip")
}

// gzipWriter defers the compress-or-not decision until either the declared
// Content-Length, min_length buffered bytes, an explicit Flush, or the end of
// the handler settles it.
type gzipWriter struct {
	http.ResponseWriter
	policy  *config.GzipConfig
	accepts bool

	status      int
	wroteHeader bool // WriteHeader was called by the handler
	decided     bool // headers sent downstream, compression fixed
	compressing bool
	gz          *gzip.Writer
	buf         []byte
}

func (w *gzipWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status

	// With a declared length the decision needs no buffering.
	if cl := w.Header().Get(echo.HeaderContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil {
			w.decide(n >= int64(w.policy.MinLength))
		}
	}
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	if w.decided {
		if w.compressing {
			return w.gz.Write(b)
		}
		return w.ResponseWriter.Write(b)
	}

	w.buf = append(w.buf, b...)
	if len(w.buf) >= w.policy.MinLength {
		if err := w.decideAndDrain(true); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Flush forces the decision: a handler that flushes is streaming a response
// of unknown length, which is treated as large enough to compress.
func (w *gzipWriter) Flush() {
	if !w.decided {
		if err := w.decideAndDrain(true); err != nil {
			return
		}
	}
	if w.compressing {
		_ = w.gz.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through to the underlying writer; a hijacked connection is
// never compressed.
func (w *gzipWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

// finalize settles an undecided response (short bodies stay identity) and
// closes the compressor.
func (w *gzipWriter) finalize() error {
	if !w.decided {
		if !w.wroteHeader && len(w.buf) == 0 {
			// Nothing was written at all (hijacked or empty response).
			return nil
		}
		if err := w.decideAndDrain(len(w.buf) >= w.policy.MinLength); err != nil {
			return err
		}
	}
	if w.compressing {
		return w.gz.Close()
	}
	return nil
}

// decideAndDrain fixes the compression decision and writes out any buffered
// body bytes.
func (w *gzipWriter) decideAndDrain(largeEnough bool) error {
	w.decide(largeEnough)
	if len(w.buf) == 0 {
		return nil
	}
	buf := w.buf
	w.buf = nil
	var err error
	if w.compressing {
		_, err = w.gz.Write(buf)
	} else {
		_, err = w.ResponseWriter.Write(buf)
	}
	return err
}

// decide sends the headers downstream with the final encoding.
func (w *gzipWriter) decide(largeEnough bool) {
	if w.decided {
		return
	}
	w.decided = true

	h := w.Header()
	compressibleType := w.policy.Compressible(h.Get(echo.HeaderContentType))

	if compressibleType {
		addVary(h)
	}

	w.compressing = w.accepts &&
		compressibleType &&
		largeEnough &&
		w.status >= http.StatusOK &&
		w.status != http.StatusNoContent &&
		w.status != http.StatusNotModified &&
		h.Get(echo.HeaderContentEncoding) == ""

	if w.compressing {
		h.Set(echo.HeaderContentEncoding, "gzip")
		h.Del(echo.HeaderContentLength)
		// Level is validated at config load; NewWriterLevel cannot fail here.
		w.gz, _ = gzip.NewWriterLevel(w.ResponseWriter, w.policy.Level)
	}

	w.ResponseWriter.WriteHeader(w.status)
}

// addVary appends Accept-Encoding to Vary without clobbering existing values.
func addVary(h http.Header) {
	for _, v := range h.Values(echo.HeaderVary) {
		if strings.EqualFold(v, echo.HeaderAcceptEncoding) {
			return
		}
	}
	h.Add(echo.HeaderVary, echo.HeaderAcceptEncoding)
}
