package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Class groups input files by how they are turned into pages.
type Class int

const (
	ClassUnsupported Class = iota
	ClassDocument
	ClassImage
)

func (c Class) String() string {
	switch c {
	case ClassDocument:
		return "document"
	case ClassImage:
		return "image"
	default:
		return "unsupported"
	}
}

// Recognized extensions. Matching is case-sensitive.
var (
	DocumentExtensions = []string{".pdf"}
	ImageExtensions    = []string{".png", ".jpeg", ".jpg"}
)

// AcceptedExtensions returns the document and image extensions together.
func AcceptedExtensions() []string {
	out := make([]string, 0, len(DocumentExtensions)+len(ImageExtensions))
	out = append(out, DocumentExtensions...)
	return append(out, ImageExtensions...)
}

// ClassifyName dispatches on the extension of name exactly as supplied.
func ClassifyName(name string) Class {
	ext := filepath.Ext(name)
	for _, e := range DocumentExtensions {
		if ext == e {
			return ClassDocument
		}
	}
	for _, e := range ImageExtensions {
		if ext == e {
			return ClassImage
		}
	}
	return ClassUnsupported
}

// Accepted reports whether name carries a recognized extension.
func Accepted(name string) bool { return ClassifyName(name) != ClassUnsupported }

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Class       Class
	Supported   bool
	Description string
}

// IsPDF reports whether the content is a PDF document.
func (i *FileTypeInfo) IsPDF() bool { return i.MIMEType == "application/pdf" }

// IsRaster reports whether the content is one of the raster formats that can be embedded.
func (i *FileTypeInfo) IsRaster() bool {
	return i.MIMEType == "image/png" || i.MIMEType == "image/jpeg"
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type of a file on disk using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	info := d.fromMIME(mtype)
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", filePath).Msg("detected file type")
	return info, nil
}

// DetectBytes detects the file type of in-memory content.
func (d *Detector) DetectBytes(data []byte) *FileTypeInfo {
	return d.fromMIME(mimetype.Detect(data))
}

func (d *Detector) fromMIME(mtype *mimetype.MIME) *FileTypeInfo {
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	// mimetype may append parameters such as "; charset=utf-8"
	if i := strings.Index(info.MIMEType, ";"); i >= 0 {
		info.MIMEType = strings.TrimSpace(info.MIMEType[:i])
	}
	d.classify(info)
	return info
}

// classify maps the sniffed MIME type onto an input class
func (d *Detector) classify(info *FileTypeInfo) {
	switch {
	case info.IsPDF():
		info.Class = ClassDocument
		info.Supported = true
		info.Description = "PDF document"

	case info.MIMEType == "image/png":
		info.Class = ClassImage
		info.Supported = true
		info.Description = "PNG image"

	case info.MIMEType == "image/jpeg":
		info.Class = ClassImage
		info.Supported = true
		info.Description = "JPEG image"

	// Other images are recognized but cannot be embedded
	case strings.HasPrefix(info.MIMEType, "image/"):
		info.Class = ClassUnsupported
		info.Description = fmt.Sprintf("Unsupported image type: %s", info.MIMEType)

	default:
		info.Class = ClassUnsupported
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}
