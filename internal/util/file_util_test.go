package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadUpload_SniffsPDF(t *testing.T) {
	content := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	data, mediaType, err := ReadUpload(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mediaType != PDFMediaType {
		t.Fatalf("expected %s, got %s", PDFMediaType, mediaType)
	}
	if !bytes.Equal(data, content) {
		t.Fatal("expected full content returned")
	}
}

func TestReadUpload_SniffsNonPDF(t *testing.T) {
	data, mediaType, err := ReadUpload(strings.NewReader("just some text"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mediaType == PDFMediaType {
		t.Fatal("plain text must not sniff as pdf")
	}
	if len(data) == 0 {
		t.Fatal("expected content returned")
	}
}

func TestReadUpload_LargerThanSniffWindow(t *testing.T) {
	content := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{0xAB}, 4096)...)
	data, mediaType, err := ReadUpload(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mediaType != PDFMediaType {
		t.Fatalf("expected %s, got %s", PDFMediaType, mediaType)
	}
	if len(data) != len(content) {
		t.Fatalf("expected %d bytes, got %d", len(content), len(data))
	}
}

func TestReadUpload_NilSource(t *testing.T) {
	if _, _, err := ReadUpload(nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}
