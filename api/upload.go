package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"websocket-kanban/domain"
)

const (
	uploadFormField   = "file"
	uploadURLPrefix   = "/uploads"
	multipartOverhead = 64 * 1024
	sniffLen          = 512
)

var allowedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".pdf": {}, ".doc": {}, ".docx": {},
}

var allowedMIMETypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"application/pdf":    {},
	"application/msword": {},

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// OLE compound file header used by legacy .doc files.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Uploader stores single file attachments on local disk.
type Uploader struct {
	dir      string
	maxBytes int64
	log      *log.Logger
}

// StoredFile describes a saved attachment.
type StoredFile struct {
	Name     string
	Original string
	Size     int64
}

// URL is the public reference path for the file.
func (f StoredFile) URL() string {
	return path.Join(uploadURLPrefix, f.Name)
}

// NewUploader creates the upload directory if needed.
func NewUploader(dir string, maxBytes int64, logger *log.Logger) (*Uploader, error) {
	if dir == "" {
		return nil, errors.New("upload dir is empty")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("invalid upload limit %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Uploader{dir: dir, maxBytes: maxBytes, log: logger}, nil
}

// Dir returns the directory files are written to.
func (u *Uploader) Dir() string { return u.dir }

// Save validates and writes the file. It returns domain.ErrFileTooLarge,
// domain.ErrUnsupportedType, or a wrapped I/O error.
func (u *Uploader) Save(fh *multipart.FileHeader) (StoredFile, error) {
	if fh == nil {
		return StoredFile{}, domain.ErrNoFileProvided
	}
	if fh.Size > u.maxBytes {
		return StoredFile{}, domain.ErrFileTooLarge
	}
	original := filepath.Base(fh.Filename)
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := allowedExtensions[ext]; !ok {
		return StoredFile{}, domain.ErrUnsupportedType
	}

	src, err := fh.Open()
	if err != nil {
		return StoredFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StoredFile{}, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if !allowedContent(fh.Header.Get(echo.HeaderContentType), ext, head) {
		return StoredFile{}, domain.ErrUnsupportedType
	}

	name := strconv.FormatInt(nextTimestamp(), 10) + ext
	dst, err := os.OpenFile(filepath.Join(u.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(io.MultiReader(bytes.NewReader(head), src), u.maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > u.maxBytes {
		err = domain.ErrFileTooLarge
	}
	if err != nil {
		_ = os.Remove(filepath.Join(u.dir, name))
		if errors.Is(err, domain.ErrFileTooLarge) {
			return StoredFile{}, err
		}
		return StoredFile{}, fmt.Errorf("write file: %w", err)
	}
	return StoredFile{Name: name, Original: original, Size: written}, nil
}

// allowedContent checks the declared part type, sniffing the content when
// the client did not send a useful one.
func allowedContent(declared, ext string, head []byte) bool {
	mediaType := ""
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			mediaType = strings.ToLower(mt)
		}
	}
	if mediaType != "" && mediaType != "application/octet-stream" {
		_, ok := allowedMIMETypes[mediaType]
		return ok
	}

	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	if _, ok := allowedMIMETypes[sniffed]; ok {
		return true
	}
	switch ext {
	case ".docx":
		return sniffed == "application/zip"
	case ".doc":
		return bytes.HasPrefix(head, oleMagic)
	}
	return false
}

func upload(u *Uploader) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		req.Body = http.MaxBytesReader(c.Response(), req.Body, u.maxBytes+multipartOverhead)

		form, err := c.MultipartForm()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
				return errorJSON(c, http.StatusRequestEntityTooLarge, domain.ErrFileTooLarge.Error())
			}
			return errorJSON(c, http.StatusBadRequest, domain.ErrNoFileProvided.Error())
		}
		defer func() { _ = form.RemoveAll() }()

		files := form.File[uploadFormField]
		switch len(files) {
		case 0:
			return errorJSON(c, http.StatusBadRequest, domain.ErrNoFileProvided.Error())
		case 1:
		default:
			return errorJSON(c, http.StatusBadRequest, "only one file may be uploaded")
		}

		stored, err := u.Save(files[0])
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrFileTooLarge):
			return errorJSON(c, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, domain.ErrUnsupportedType):
			return errorJSON(c, http.StatusUnsupportedMediaType, err.Error())
		default:
			if u.log != nil {
				u.log.WithField("filename", files[0].Filename).WithError(err).Error("upload failed")
			}
			return errorJSON(c, http.StatusInternalServerError, "failed to store file")
		}

		if u.log != nil {
			id, _ := IdentityFrom(c)
			u.log.WithFields(log.Fields{
				"user":     id.UserID,
				"file":     stored.Name,
				"original": stored.Original,
				"size":     stored.Size,
			}).Info("file uploaded")
		}
		return c.JSON(http.StatusOK, uploadResponse{
			URL:      stored.URL(),
			Filename: stored.Original,
			Size:     stored.Size,
		})
	}
}
