package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

type uploadPart struct {
	field, filename, contentType string
	body                         []byte
}

func multipartBody(t *testing.T, parts ...uploadPart) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := pw.Write(p.body); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, w.FormDataContentType()
}

func (s *testServer) upload(t *testing.T, token string, parts ...uploadPart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func pdfBytes(size int) []byte {
	b := bytes.Repeat([]byte{'0'}, size)
	copy(b, "%PDF-1.4\n")
	return b
}

func TestUploadPDFReachable(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")
	content := pdfBytes(10 * 1024)

	rec := s.upload(t, session.Token, uploadPart{field: "file", filename: "report.pdf", contentType: "application/pdf", body: content})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Filename != "report.pdf" || resp.Size != int64(len(content)) {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(resp.URL, "/uploads/") || !strings.HasSuffix(resp.URL, ".pdf") {
		t.Fatalf("unexpected url: %s", resp.URL)
	}

	get := s.do(http.MethodGet, resp.URL, "", "")
	if get.Code != http.StatusOK {
		t.Fatalf("expected stored file to be reachable, got %d", get.Code)
	}
	if !bytes.Equal(get.Body.Bytes(), content) {
		t.Fatal("served file differs from upload")
	}
}

func TestUploadRejectsLargeFile(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	rec := s.upload(t, session.Token, uploadPart{field: "file", filename: "big.pdf", contentType: "application/pdf", body: pdfBytes(6 * 1024 * 1024)})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	assertUploadDirEmpty(t, s)
}

func TestUploadRejectsExecutable(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	rec := s.upload(t, session.Token, uploadPart{field: "file", filename: "tool.exe", contentType: "application/octet-stream", body: []byte("MZ\x90\x00")})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	assertUploadDirEmpty(t, s)
}

func TestUploadRejectsMismatchedMIME(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	rec := s.upload(t, session.Token, uploadPart{field: "file", filename: "page.png", contentType: "text/html", body: []byte("<html></html>")})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestUploadSniffsOctetStream(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	rec := s.upload(t, session.Token, uploadPart{field: "file", filename: "shot.PNG", contentType: "application/octet-stream", body: png})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadNoFile(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	rec := s.upload(t, session.Token, uploadPart{field: "other", filename: "a.pdf", contentType: "application/pdf", body: pdfBytes(10)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != "no file uploaded" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.upload(t, "", uploadPart{field: "file", filename: "a.pdf", contentType: "application/pdf", body: pdfBytes(10)})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUploaderWriteFailure(t *testing.T) {
	dir := t.TempDir()
	u, err := NewUploader(dir, 1024, nil)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	// a missing directory makes file creation fail
	u.dir = filepath.Join(dir, "gone")

	e := echo.New()
	body, contentType := multipartBody(t, uploadPart{field: "file", filename: "a.pdf", contentType: "application/pdf", body: pdfBytes(10)})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	if err := upload(u)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestAllowedContent(t *testing.T) {
	tests := []struct {
		name, declared, ext string
		head                []byte
		want                bool
	}{
		{name: "declared jpeg", declared: "image/jpeg", ext: ".jpg", want: true},
		{name: "declared with params", declared: "application/pdf; charset=binary", ext: ".pdf", want: true},
		{name: "declared text", declared: "text/plain", ext: ".pdf", want: false},
		{name: "sniffed gif", ext: ".gif", head: []byte("GIF89a..."), want: true},
		{name: "sniffed docx zip", declared: "application/octet-stream", ext: ".docx", head: []byte("PK\x03\x04rest"), want: true},
		{name: "sniffed doc ole", ext: ".doc", head: append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, 0, 0), want: true},
		{name: "sniffed text", ext: ".pdf", head: []byte("hello"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allowedContent(tt.declared, tt.ext, tt.head); got != tt.want {
				t.Fatalf("allowedContent(%q, %q) = %v, want %v", tt.declared, tt.ext, got, tt.want)
			}
		})
	}
}

func assertUploadDirEmpty(t *testing.T, s *testServer) {
	t.Helper()
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no stored files, found %d", len(entries))
	}
}
