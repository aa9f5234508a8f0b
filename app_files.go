package pilot

import (
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FileHandler serves files below root. The file is named by the route
// capture param (typically a terminal wildcard such as "/static/*path");
// when the route has no such capture the whole request path is used.
// Directories get an HTML index. Single byte ranges are honoured.
//
// Example:
//
//	app.Routes.Register("/static/*path", []pilot.HttpMethod{pilot.Get, pilot.Head}, pilot.FileHandler("./public", "path"))
func FileHandler(root string, param string) HandlerFunc {
	return func(req *Request) *Response {
		rel := req.Path
		if req.Params.Has(param) {
			rel = req.Params.Get(param)
		}
		if strings.ContainsRune(rel, 0) {
			return StatusResponse(StatusBadRequest)
		}
		clean := path.Clean("/" + rel)
		full := filepath.Join(root, filepath.FromSlash(clean))

		f, err := os.Open(full)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return StatusResponse(StatusNotFound)
			}
			return ErrorResponse(err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return ErrorResponse(err)
		}
		if info.IsDir() {
			defer f.Close()
			return directoryIndex(f, clean, req.RawPath)
		}
		return serveFile(req, f, info.Size(), clean)
	}
}

// Redirect answers every request with a permanent redirect to location.
func Redirect(location string) HandlerFunc {
	return func(req *Request) *Response {
		res := NewResponse(StatusPermanentRedirect, nil)
		res.SetHeader("Location", location)
		return res
	}
}

type fileBody struct {
	*io.SectionReader
	f *os.File
}

func (b *fileBody) Close() error { return b.f.Close() }

func serveFile(req *Request, f *os.File, size int64, name string) *Response {
	res := NewHttpResponse()
	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	res.SetHeader("Content-Type", ctype)
	res.SetHeader("Accept-Ranges", "bytes")

	start, length := int64(0), size
	if spec := req.Header("Range"); spec != "" {
		s, l, err := parseRange(spec, size)
		switch {
		case errors.Is(err, errRangeNotSatisfiable):
			f.Close()
			res = StatusResponse(StatusRangeNotSatisfiable)
			res.SetHeader("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
			return res
		case err == nil:
			start, length = s, l
			res.StatusCode = StatusPartialContent
			res.SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", s, s+l-1, size))
		}
	}
	res.Stream = &fileBody{SectionReader: io.NewSectionReader(f, start, length), f: f}
	res.StreamSize = length
	return res
}

var (
	errRangeNotSatisfiable = errors.New("range not satisfiable")
	errRangeSyntax         = errors.New("unsupported range")
)

// parseRange understands one "bytes=" range: "a-b", "a-" or "-n". Anything
// else is errRangeSyntax and the caller serves the whole file.
func parseRange(spec string, size int64) (start, length int64, err error) {
	unit, r, ok := strings.Cut(strings.TrimSpace(spec), "=")
	if !ok || strings.TrimSpace(unit) != "bytes" || strings.Contains(r, ",") {
		return 0, 0, errRangeSyntax
	}
	first, last, ok := strings.Cut(strings.TrimSpace(r), "-")
	if !ok {
		return 0, 0, errRangeSyntax
	}
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, errRangeSyntax
		}
		if n == 0 || size == 0 {
			return 0, 0, errRangeNotSatisfiable
		}
		n = min(n, size)
		return size - n, n, nil
	}
	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errRangeSyntax
	}
	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, errRangeSyntax
		}
		end = min(end, size-1)
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	return start, end - start + 1, nil
}

func directoryIndex(dir *os.File, name, rawPath string) *Response {
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return ErrorResponse(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	base := strings.TrimSuffix(rawPath, "/")
	var b strings.Builder
	b.WriteString(`<html><head><meta charset="UTF-8" /></head><body>`)
	fmt.Fprintf(&b, "<h1>Index of %s</h1><table><tr><th>Name</th><th>Size</th></tr>", html.EscapeString(name))
	if name != "/" {
		fmt.Fprintf(&b, `<tr><td><a href="%s">..</a></td><td></td></tr>`, html.EscapeString(path.Dir(base)))
	}
	for _, e := range entries {
		label := e.Name()
		size := ""
		if e.IsDir() {
			label += "/"
		} else if info, err := e.Info(); err == nil {
			size = humanSize(info.Size())
		}
		href := base + "/" + url.PathEscape(e.Name())
		fmt.Fprintf(&b, `<tr><td><a href="%s">%s</a></td><td>%s</td></tr>`,
			html.EscapeString(href), html.EscapeString(label), size)
	}
	b.WriteString("</table></body></html>")

	res := NewResponse(StatusOK, []byte(b.String()))
	res.SetHeader("Content-Type", "text/html; charset=utf-8")
	return res
}

func humanSize(n int64) string {
	units := []string{"bytes", "KiB", "MiB", "GiB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return strconv.FormatInt(n, 10) + " bytes"
	}
	return strconv.FormatFloat(size, 'f', 1, 64) + " " + units[i]
}

// closeStream releases a streamed body that holds a resource.
func (res *Response) closeStream() {
	if c, ok := res.Stream.(io.Closer); ok {
		c.Close()
	}
}
