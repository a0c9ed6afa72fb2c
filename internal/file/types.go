// Package file holds uploaded documents and decides how each one moves
// through parsing and prediction.
package file

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// ParseStatus is the parse progress of a file.
type ParseStatus int

const (
	ParsePending           ParseStatus = 1
	ParseParsing           ParseStatus = 2
	ParseCancelled         ParseStatus = 3
	ParseComplete          ParseStatus = 4
	ParseFail              ParseStatus = 5
	ParsePageCached        ParseStatus = 6
	ParseCaching           ParseStatus = 7
	ParseOCRExpired        ParseStatus = 8
	ParseUnsupported       ParseStatus = 9
	ParseParserRunning     ParseStatus = 10
	ParseParsed            ParseStatus = 21
	ParseUnConfirmed       ParseStatus = 51
	ParseExcelInserted     ParseStatus = 100
	ParseExcelInsertFailed ParseStatus = 101
	ParseCleanFileParsing  ParseStatus = 200
)

var parseStatusNames = map[ParseStatus]string{
	ParsePending:           "PENDING",
	ParseParsing:           "PARSING",
	ParseCancelled:         "CANCELLED",
	ParseComplete:          "COMPLETE",
	ParseFail:              "FAIL",
	ParsePageCached:        "PAGE_CACHED",
	ParseCaching:           "CACHING",
	ParseOCRExpired:        "OCR_EXPIRED",
	ParseUnsupported:       "UNSUPPORTED_FILE",
	ParseParserRunning:     "PDFINSIGHT_PARSING",
	ParseParsed:            "PARSED",
	ParseUnConfirmed:       "UN_CONFIRMED",
	ParseExcelInserted:     "EXCEL_INSERT_DB_SUCCESS",
	ParseExcelInsertFailed: "EXCEL_INSERT_DB_FAILED",
	ParseCleanFileParsing:  "CLEAN_FILE_PARSING",
}

func (s ParseStatus) String() string {
	if n, ok := parseStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// NeedsParse reports whether a file in this status must be (re)parsed.
func (s ParseStatus) NeedsParse() bool {
	return s == ParsePending || s == ParseFail || s == ParseCancelled
}

// TaskType selects the follow-up work after parsing.
type TaskType string

const (
	TaskExtract           TaskType = "extract"
	TaskPDF2Word          TaskType = "pdf2word"
	TaskCleanFile         TaskType = "clean_file"
	TaskScannedPDFRestore TaskType = "scanned_pdf_restore"
	TaskJudge             TaskType = "judge"
)

// AnnotationCallback is where predicted answers are pushed back to the
// uploader.
type AnnotationCallback struct {
	URL string `json:"annotation_callback,omitempty"`
	// Format is "json" or "json_tree".
	Format string `json:"annotation_callback_format,omitempty"`
	// EncodeURLFor names the app.auth client whose credentials sign URL.
	EncodeURLFor string `json:"encode_url_for,omitempty"`
	// AnswerFrom selects the pushed answer: "user" (the standard
	// submission), "merge" (the question answer) or a special answer kind.
	AnswerFrom string `json:"answer_from,omitempty"`
}

// MetaInfo is the free-form upload metadata the pipeline reads.
type MetaInfo struct {
	AnnotationCallback
	ParseOptions map[string]any `json:"parse_options,omitempty"`
}

// File is an uploaded document.
type File struct {
	ID             int64
	TreeID         int64
	ProjectID      int64
	Name           string
	Hash           string
	PDFHash        string
	Size           int64
	Molds          []int64
	ParseStatus    ParseStatus
	Interdoc       string
	TaskType       TaskType
	Priority       int
	MetaInfo       MetaInfo
	StudioUploadID string
	UID            int64
	CreatedUTC     int64
	UpdatedUTC     int64
	DeletedUTC     int64
}

// Ext returns the lower-case extension of the file name.
func (f *File) Ext() string {
	i := strings.LastIndexByte(f.Name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(f.Name[i:])
}

// IsPDF reports whether the upload can go to the parser without conversion.
func (f *File) IsPDF() bool { return f.Ext() == ".pdf" }

// HasMold reports whether the file is bound to moldID.
func (f *File) HasMold(moldID int64) bool { return slices.Contains(f.Molds, moldID) }

// ErrNotFound is returned when no live file has the id.
var ErrNotFound = errors.New("file not found")

// Store persists files.
type Store interface {
	GetFile(ctx context.Context, id int64) (*File, error)
	// LockFile loads a live file with SELECT ... FOR UPDATE.
	LockFile(ctx context.Context, id int64) (*File, error)
	SaveFile(ctx context.Context, f *File) error
	CreateFile(ctx context.Context, f *File) error
	// ListByHash returns the live files sharing a content hash.
	ListByHash(ctx context.Context, hash string) ([]*File, error)
	// ListByMold returns the ids of live files bound to a mold, ascending.
	ListByMold(ctx context.Context, moldID int64) ([]int64, error)
	// ListByStatus returns live files in the given parse statuses that
	// were last updated before the cutoff (unix seconds).
	ListByStatus(ctx context.Context, updatedBefore int64, statuses ...ParseStatus) ([]*File, error)
}
