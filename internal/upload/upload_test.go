package upload

import (
	"context"
	"testing"

	"github.com/parleyhq/parley/internal/apperr"
)

func TestResourceTypeOf(t *testing.T) {
	cases := []struct {
		mime string
		want string
	}{
		{"image/png", "image"},
		{"image/jpeg", "image"},
		{"video/mp4", "video"},
		{"audio/ogg", "raw"},
		{"application/pdf", "raw"},
		{"", "raw"},
	}
	for _, tc := range cases {
		if got := ResourceTypeOf(tc.mime); got != tc.want {
			t.Errorf("ResourceTypeOf(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestDisabledUploadFails(t *testing.T) {
	_, err := Disabled{}.Upload(context.Background(), Blob{Name: "x.png", MIMEType: "image/png"})
	if err == nil {
		t.Fatal("Upload on disabled driver succeeded, want error")
	}
	if !apperr.Is(err, apperr.CodeUploadFailure) {
		t.Errorf("error code = %v, want UPLOAD_FAILURE", apperr.CodeOf(err))
	}
}
