package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/storage"
)

func TestNewRequiresBucketAndEndpoint(t *testing.T) {
	if _, err := New(cfg.S3Configuration{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(cfg.S3Configuration{Bucket: "fonts"}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestNew(t *testing.T) {
	s, err := New(cfg.S3Configuration{
		Endpoint:  "account.r2.cloudflarestorage.com",
		Bucket:    "fonts",
		Region:    "auto",
		AccessKey: "key",
		SecretKey: "secret",
		UseSSL:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Bucket() != "fonts" {
		t.Errorf("expected bucket fonts, got %s", s.Bucket())
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{minio.ErrorResponse{Code: "NotFound", StatusCode: http.StatusNotFound}, true},
		{minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{errors.New("dial tcp: connection refused"), false},
	}

	for _, tt := range tests {
		if got := isNotFound(tt.err); got != tt.want {
			t.Errorf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSameError(t *testing.T) {
	denied := errors.New("AccessDenied")
	all := []storage.DeleteError{{Key: "a", Err: denied}, {Key: "b", Err: errors.New("AccessDenied")}}
	if !sameError(all) {
		t.Error("expected identical errors to be reported as same")
	}

	mixed := []storage.DeleteError{{Key: "a", Err: denied}, {Key: "b", Err: errors.New("InternalError")}}
	if sameError(mixed) {
		t.Error("expected mixed errors to be reported as different")
	}
}
