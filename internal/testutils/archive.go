// Package testutils provides shared test infrastructure: a fake MRT archive
// served over HTTP and, behind the integration build tag, a MinIO bucket.
package testutils

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// ArchiveFile is a file published by the fake archive.
type ArchiveFile struct {
	// Path is absolute, for example /rrc00/2024.01/updates.20240101.0000.gz.
	Path         string
	Data         []byte
	LastModified time.Time
}

// Archive serves files and generated Apache style directory listings.
type Archive struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]ArchiveFile
	failures map[string][]int
	requests map[string]int
}

// StartArchive starts an archive server that is closed when the test ends.
func StartArchive(t *testing.T, files ...ArchiveFile) *Archive {
	t.Helper()

	a := &Archive{
		files:    make(map[string]ArchiveFile),
		failures: make(map[string][]int),
		requests: make(map[string]int),
	}
	for _, f := range files {
		a.files[f.Path] = f
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.Close)
	return a
}

// URL returns the absolute URL of p.
func (a *Archive) URL(p string) string {
	return a.Server.URL + p
}

// Put adds or replaces a file.
func (a *Archive) Put(f ArchiveFile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[f.Path] = f
}

// FailWith makes the next requests for p answer with the given status codes,
// one per request, before serving normally again.
func (a *Archive) FailWith(p string, codes ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[p] = append(a.failures[p], codes...)
}

// Requests returns how many requests for p were received.
func (a *Archive) Requests(p string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[p]
}

// RequestsFor returns how many requests with the given method were received
// for p.
func (a *Archive) RequestsFor(method, p string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[method+" "+p]
}

func (a *Archive) serve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path

	a.mu.Lock()
	a.requests[p]++
	a.requests[r.Method+" "+p]++
	if codes := a.failures[p]; len(codes) > 0 {
		a.failures[p] = codes[1:]
		a.mu.Unlock()
		w.WriteHeader(codes[0])
		return
	}
	f, ok := a.files[p]
	var listing []string
	if !ok && strings.HasSuffix(p, "/") {
		listing = a.listLocked(p)
	}
	a.mu.Unlock()

	switch {
	case ok:
		http.ServeContent(w, r, path.Base(p), f.LastModified, bytes.NewReader(f.Data))
	case len(listing) > 0:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, renderListing(p, listing))
	default:
		http.NotFound(w, r)
	}
}

func (a *Archive) listLocked(dir string) []string {
	var names []string
	for p := range a.files {
		if !strings.HasPrefix(p, dir) {
			continue
		}
		rest := strings.TrimPrefix(p, dir)
		if strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names
}

func renderListing(dir string, names []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>Index of %s</title></head><body>\n", dir)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<pre>", dir)
	b.WriteString(`<a href="?C=N;O=D">Name</a> <a href="?C=M;O=A">Last modified</a>` + "\n")
	b.WriteString(`<a href="../">Parent Directory</a>` + "\n")
	for _, n := range names {
		fmt.Fprintf(&b, "<a href=\"%s\">%s</a>\n", n, n)
	}
	b.WriteString("</pre></body></html>\n")
	return b.String()
}

// GenerateTestData returns size bytes of deterministic content.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// CompareReaderToData reads r in blocks and fails the test on the first
// difference from expected.
func CompareReaderToData(t *testing.T, r io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 256*1024)
	offset := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read %d bytes past the expected %d", offset+n-len(expected), len(expected))
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch at offset %d", offset)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read at offset %d: %v", offset, err)
		}
	}
	if offset != len(expected) {
		t.Fatalf("short read: got %d bytes, want %d", offset, len(expected))
	}
}
