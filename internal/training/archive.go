package training

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/sanitize"
)

const (
	manifestName = "model_version.json"
	filesPrefix  = "files/"
	// maxArchiveEntry bounds a single decompressed entry.
	maxArchiveEntry = 512 << 20
)

// manifest is the version metadata carried by an archive.
type manifest struct {
	Name            string          `json:"name"`
	ModelType       ModelType       `json:"model_type"`
	Status          Status          `json:"status"`
	Predictors      json.RawMessage `json:"predictors,omitempty"`
	PredictorOption map[string]any  `json:"predictor_option,omitempty"`
	MoldChecksum    string          `json:"mold_checksum,omitempty"`
}

// Export packs a version's metadata and trained files into a ZIP archive.
func (s *Service) Export(ctx context.Context, vid int64) ([]byte, error) {
	ctx, span := s.tracer.Start(ctx, "training.export")
	defer span.End()

	v, err := s.store.GetVersion(ctx, vid)
	if err != nil {
		return nil, fail(span, err)
	}
	m, err := s.molds.Get(ctx, v.MoldID)
	if err != nil {
		return nil, fail(span, err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	meta, err := json.Marshal(manifest{
		Name:            v.Name,
		ModelType:       v.ModelType,
		Status:          v.Status,
		Predictors:      v.Predictors,
		PredictorOption: v.PredictorOption,
		MoldChecksum:    m.Checksum,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	w, err := zw.Create(manifestName)
	if err != nil {
		return nil, fail(span, err)
	}
	if _, err := w.Write(meta); err != nil {
		return nil, fail(span, err)
	}
	root := s.modelDir(v)
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		fw, err := zw.Create(filesPrefix + filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = fw.Write(b)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("pack model files: %w", err))
	}
	if err := zw.Close(); err != nil {
		return nil, fail(span, err)
	}
	return buf.Bytes(), nil
}

// Import creates a version of moldID from an exported archive. A name
// already taken gets an "_imported" suffix.
func (s *Service) Import(ctx context.Context, moldID int64, archive []byte) (*Version, error) {
	ctx, span := s.tracer.Start(ctx, "training.import")
	defer span.End()

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %v", ErrInvalidArchive, err))
	}
	var meta *manifest
	files := map[string][]byte{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			return nil, fail(span, err)
		}
		switch {
		case f.Name == manifestName:
			meta = &manifest{}
			if err := json.Unmarshal(b, meta); err != nil {
				return nil, fail(span, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, manifestName, err))
			}
		case strings.HasPrefix(f.Name, filesPrefix):
			rel := path.Clean(strings.TrimPrefix(f.Name, filesPrefix))
			if _, err := sanitize.JoinUnder(s.training.CacheDir, rel); err != nil {
				return nil, fail(span, fmt.Errorf("%w: entry %q escapes the model directory: %v", ErrInvalidArchive, f.Name, err))
			}
			files[rel] = b
		}
	}
	if meta == nil {
		return nil, fail(span, fmt.Errorf("%w: %s missing", ErrInvalidArchive, manifestName))
	}
	m, err := s.molds.Get(ctx, moldID)
	if err != nil {
		return nil, fail(span, err)
	}
	if meta.MoldChecksum != "" && meta.MoldChecksum != m.Checksum {
		s.logger.Warn("importing a version trained on another schema revision",
			zap.Int64("mold_id", moldID),
			zap.String("archive_checksum", meta.MoldChecksum),
			zap.String("checksum", m.Checksum),
		)
	}

	v := &Version{
		MoldID:          moldID,
		Name:            meta.Name,
		ModelType:       meta.ModelType,
		Status:          StatusCreate,
		Predictors:      meta.Predictors,
		PredictorOption: meta.PredictorOption,
	}
	err = s.store.Tx(ctx, func(ctx context.Context, st Store) error {
		dup, err := st.FindVersionByName(ctx, moldID, v.Name)
		if err != nil {
			return err
		}
		if dup != nil {
			v.Name += "_imported"
		}
		v.CreatedUTC = s.now().Unix()
		v.UpdatedUTC = v.CreatedUTC
		return st.CreateVersion(ctx, v)
	})
	if err != nil {
		return nil, fail(span, err)
	}
	root := s.modelDir(v)
	for rel, b := range files {
		p, err := sanitize.JoinUnder(root, rel)
		if err != nil {
			return nil, fail(span, err)
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fail(span, err)
		}
		if err := os.WriteFile(p, b, 0o644); err != nil {
			return nil, fail(span, err)
		}
	}
	if meta.Status == StatusDone && len(files) > 0 {
		v.Status = StatusDone
		v.UpdatedUTC = s.now().Unix()
		if err := s.store.SaveVersion(ctx, v); err != nil {
			return nil, fail(span, err)
		}
	}
	s.logger.Info("model version imported",
		zap.Int64("mold_id", moldID),
		zap.Int64("vid", v.ID),
		zap.Int("files", len(files)),
	)
	return v, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntry+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, f.Name, err)
	}
	if len(b) > maxArchiveEntry {
		return nil, fmt.Errorf("%w: %s too large", ErrInvalidArchive, f.Name)
	}
	return b, nil
}

// copyModelFiles copies the trained files of one version directory to
// another. A missing source copies nothing.
func copyModelFiles(src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(src))
}
