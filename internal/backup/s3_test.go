package backup

import (
	"os"
	"strings"
	"testing"
)

func TestParseS3BucketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantErr   bool
		wantBkt   string
		wantPre   string
		errSubstr string
	}{
		{
			name:    "bucket only",
			raw:     "s3://my-bucket",
			wantBkt: "my-bucket",
			wantPre: "",
		},
		{
			name:    "bucket with prefix",
			raw:     "s3://my-bucket/mapbench/backups",
			wantBkt: "my-bucket",
			wantPre: "mapbench/backups",
		},
		{
			name:      "invalid scheme",
			raw:       "https://my-bucket/mapbench",
			wantErr:   true,
			errSubstr: "s3:// scheme",
		},
		{
			name:      "missing bucket",
			raw:       "s3:///mapbench",
			wantErr:   true,
			errSubstr: "missing bucket",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gotBkt, gotPre, err := parseS3BucketURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errSubstr != "" && !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("err = %q, want substring %q", err.Error(), tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseS3BucketURL error: %v", err)
			}
			if gotBkt != tt.wantBkt {
				t.Fatalf("bucket = %q, want %q", gotBkt, tt.wantBkt)
			}
			if gotPre != tt.wantPre {
				t.Fatalf("prefix = %q, want %q", gotPre, tt.wantPre)
			}
		})
	}
}

func TestNewS3Uploader_PartialCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewS3Uploader(S3Config{
		BucketURL: "s3://my-bucket/mapbench",
		AccessKey: "AKIAEXAMPLE",
		Endpoint:  "s3.amazonaws.com",
		UseSSL:    true,
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestS3UploaderEnv(t *testing.T) {
	t.Parallel()

	ambient := (&S3Uploader{cfg: S3Config{Region: "us-west-2"}}).env()
	if len(ambient) != len(os.Environ())+1 {
		t.Errorf("ambient env adds %d entries, want only the region", len(ambient)-len(os.Environ()))
	}
	if ambient[len(ambient)-1] != "AWS_DEFAULT_REGION=us-west-2" {
		t.Errorf("region not appended: %q", ambient[len(ambient)-1])
	}

	static := (&S3Uploader{cfg: S3Config{Region: "us-west-2", AccessKey: "k", SecretKey: "s", SessionToken: "tok"}}).env()
	tail := static[len(static)-3:]
	want := []string{"AWS_ACCESS_KEY_ID=k", "AWS_SECRET_ACCESS_KEY=s", "AWS_SESSION_TOKEN=tok"}
	for i := range want {
		if tail[i] != want[i] {
			t.Errorf("env[%d] = %q, want %q", i, tail[i], want[i])
		}
	}
}
