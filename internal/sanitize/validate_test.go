package sanitize

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		root    string
		wantErr error
	}{
		{name: "empty", path: "", wantErr: ErrEmptyPath},
		{name: "traversal segment", path: "models/../../etc", wantErr: ErrPathTraversal},
		{name: "dots inside a name are fine", path: filepath.Join(root, "model..bin"), root: root},
		{name: "inside root", path: filepath.Join(root, "7", "prompter.json"), root: root},
		{name: "outside root", path: filepath.Dir(root), root: root, wantErr: ErrPathTraversal},
		{name: "no root", path: "relative/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.root)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidatePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidatePath(%q) unexpected error: %v", tt.path, err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("ValidatePath(%q) = %q, want absolute path", tt.path, got)
			}
		})
	}
}

func TestJoinUnder(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr error
	}{
		{name: "nested file", rel: "prophet/model.json", want: filepath.Join(root, "prophet", "model.json")},
		{name: "dot segments cleaned", rel: "./prompter.json", want: filepath.Join(root, "prompter.json")},
		{name: "empty", rel: "", wantErr: ErrEmptyPath},
		{name: "absolute", rel: "/etc/passwd", wantErr: ErrAbsolutePath},
		{name: "escape", rel: "../outside", wantErr: ErrPathTraversal},
		{name: "hidden escape", rel: "a/../../outside", wantErr: ErrPathTraversal},
		{name: "root itself", rel: ".", wantErr: ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinUnder(root, tt.rel)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("JoinUnder(%q) error = %v, want %v", tt.rel, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("JoinUnder(%q) unexpected error: %v", tt.rel, err)
			}
			if got != tt.want {
				t.Errorf("JoinUnder(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}
