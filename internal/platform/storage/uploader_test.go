package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type stubWriterFactory struct {
	objects  map[string][]byte
	types    map[string]string
	writeErr error
	closeErr error
}

type stubWriter struct {
	buf     bytes.Buffer
	onClose func([]byte) error
	err     error
}

func (w *stubWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(p)
}

func (w *stubWriter) Close() error {
	return w.onClose(w.buf.Bytes())
}

func (f *stubWriterFactory) NewWriter(_ context.Context, object, contentType string) io.WriteCloser {
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.types[object] = contentType
	return &stubWriter{
		err: f.writeErr,
		onClose: func(data []byte) error {
			if f.closeErr != nil {
				return f.closeErr
			}
			f.objects[object] = data
			return nil
		},
	}
}

func TestUploaderPutReturnsPublicURL(t *testing.T) {
	factory := &stubWriterFactory{}
	uploader, err := NewUploader("iw-invoices", factory, "")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}

	url, err := uploader.Put(context.Background(), "orders/ord1/invoices/invoice-1.pdf", []byte("%PDF"), "application/pdf")
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	expected := "https://storage.googleapis.com/iw-invoices/orders/ord1/invoices/invoice-1.pdf"
	if url != expected {
		t.Fatalf("expected %s, got %s", expected, url)
	}
	if string(factory.objects["orders/ord1/invoices/invoice-1.pdf"]) != "%PDF" {
		t.Fatal("object payload not written")
	}
	if factory.types["orders/ord1/invoices/invoice-1.pdf"] != "application/pdf" {
		t.Fatal("content type not forwarded")
	}
}

func TestUploaderPutUsesCustomBaseURL(t *testing.T) {
	uploader, err := NewUploader("iw-invoices", &stubWriterFactory{}, "https://cdn.example.com/")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	url, err := uploader.Put(context.Background(), "a/b.pdf", []byte("x"), "application/pdf")
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if url != "https://cdn.example.com/a/b.pdf" {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestUploaderPutRejectsEmptyPayload(t *testing.T) {
	uploader, err := NewUploader("iw-invoices", &stubWriterFactory{}, "")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if _, err := uploader.Put(context.Background(), "a/b.pdf", nil, "application/pdf"); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestUploaderPutPropagatesCloseError(t *testing.T) {
	factory := &stubWriterFactory{closeErr: errors.New("boom")}
	uploader, err := NewUploader("iw-invoices", factory, "")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	if _, err := uploader.Put(context.Background(), "a/b.pdf", []byte("x"), "application/pdf"); err == nil {
		t.Fatal("expected close error")
	}
}
