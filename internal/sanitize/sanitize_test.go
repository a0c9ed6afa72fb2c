package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestIdentifier(t *testing.T) {
	tests := map[string]string{
		"extractd":       "extractd",
		"ExtractD":       "extractd",
		"prod.molds":     "prod_molds",
		"Extract-D":      "extract_d",
		"team/contracts": "team_contracts",
		"molds v2!!":     "molds_v2",
		"a___b":          "a_b",
		"_edge_":         "edge",
		"合同":             "default",
		"":               "default",
		"deploy_42":      "deploy_42",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			if got := Identifier(in); got != want {
				t.Errorf("Identifier(%q) = %q, want %q", in, got, want)
			}
		})
	}
}

func TestIdentifier_Truncation(t *testing.T) {
	exact := strings.Repeat("m", MaxIdentifierLength)
	if got := Identifier(exact); got != exact {
		t.Errorf("identifier at the limit changed: %q", got)
	}

	a := Identifier(strings.Repeat("m", 100))
	b := Identifier(strings.Repeat("m", 99) + "n")
	if len(a) > MaxIdentifierLength || len(b) > MaxIdentifierLength {
		t.Fatalf("truncated identifiers too long: %d, %d", len(a), len(b))
	}
	if a == b {
		t.Errorf("distinct long inputs collided: %q", a)
	}
	if a[len(a)-HashSuffixLength] != '_' {
		t.Errorf("missing hash suffix in %q", a)
	}
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		kind     string
		expected string
	}{
		{
			name:     "default prefix",
			prefix:   "extractd",
			kind:     "elements",
			expected: "extractd_elements",
		},
		{
			name:     "no kind",
			prefix:   "extractd",
			kind:     "",
			expected: "extractd",
		},
		{
			name:     "sanitization applied",
			prefix:   "Extract-D Prod",
			kind:     "Exemplars",
			expected: "extract_d_prod_exemplars",
		},
		{
			name:     "empty prefix",
			prefix:   "",
			kind:     "elements",
			expected: "default_elements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CollectionName(tt.prefix, tt.kind)
			if result != tt.expected {
				t.Errorf("CollectionName(%q, %q) = %q, want %q", tt.prefix, tt.kind, result, tt.expected)
			}
		})
	}
}

func TestCollectionName_LengthLimit(t *testing.T) {
	result := CollectionName(strings.Repeat("a", 60), "exemplars")

	if len(result) > MaxIdentifierLength {
		t.Errorf("CollectionName should be <= %d chars, got %d", MaxIdentifierLength, len(result))
	}
	for _, r := range result {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			t.Errorf("CollectionName contains invalid char %q in %q", string(r), result)
		}
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "report.pdf", expected: "report.pdf"},
		{name: "unicode kept", input: "年度报告.pdf", expected: "年度报告.pdf"},
		{name: "traversal", input: "../../etc/passwd", expected: "passwd"},
		{name: "windows path", input: `C:\docs\report.pdf`, expected: "report.pdf"},
		{name: "quotes and control chars", input: "a\"b\r\n.pdf", expected: "ab.pdf"},
		{name: "surrounding spaces", input: "  spaced.docx ", expected: "spaced.docx"},
		{name: "empty", input: "", expected: DefaultFilename},
		{name: "root", input: "/", expected: DefaultFilename},
		{name: "dot dot", input: "..", expected: DefaultFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filename(tt.input); got != tt.expected {
				t.Errorf("Filename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFilename_LengthLimit(t *testing.T) {
	got := Filename(strings.Repeat("文", 200) + ".pdf")

	if len(got) > MaxFilenameLength {
		t.Errorf("Filename should be <= %d bytes, got %d", MaxFilenameLength, len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("Filename should keep the extension, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("Filename split a rune: %q", got)
	}
}
