package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain", "report.pdf", 0, "report.pdf"},
		{"spaces and symbols", "my report (v2).pdf", 0, "my_report__v2_.pdf"},
		{"path is stripped", "../../etc/passwd", 0, "passwd"},
		{"windows path", `C:\Users\me\notes.txt`, 0, "notes.txt"},
		{"unicode letters kept", "résumé.docx", 0, "résumé.docx"},
		{"length limit", "abcdefghij", 4, "abcd"},
		{"empty", "", 0, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.in, tt.maxLen))
		})
	}
}
