package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDoPUTPreconditions(t *testing.T) {
	tests := []struct {
		name          string
		pre           Precondition
		etag          string
		wantIfMatch   string
		wantNoneMatch string
	}{
		{
			name:        "if-match echoes etag verbatim",
			pre:         IfMatch,
			etag:        `"W/\"weird etag\""`,
			wantIfMatch: `"W/\"weird etag\""`,
		},
		{
			name:          "if-none-match star for create",
			pre:           IfNoneMatchAny,
			wantNoneMatch: "*",
		},
		{
			name: "no precondition sends neither header",
			pre:  NoPrecondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPut {
					t.Errorf("method = %s, want PUT", r.Method)
				}
				if got := r.Header.Get("If-Match"); got != tt.wantIfMatch {
					t.Errorf("If-Match = %q, want %q", got, tt.wantIfMatch)
				}
				if got := r.Header.Get("If-None-Match"); got != tt.wantNoneMatch {
					t.Errorf("If-None-Match = %q, want %q", got, tt.wantNoneMatch)
				}
				if ct := r.Header.Get("Content-Type"); ct != typeCalendar {
					t.Errorf("Content-Type = %q, want %q", ct, typeCalendar)
				}
				w.Header().Set("ETag", `"etag-new"`)
				w.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			w := newTestWrapper(t, server, BasicAuth("alice", "secret"))
			etag, err := w.DoPUT(context.Background(), "/cal/obj.ics", typeCalendar, tt.pre, tt.etag, []byte("BEGIN:VCALENDAR"))
			if err != nil {
				t.Fatalf("DoPUT() error = %v", err)
			}
			if etag != `"etag-new"` {
				t.Errorf("etag = %q, want quoted etag-new", etag)
			}
		})
	}
}

func TestDoPUTPreconditionFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer server.Close()

	w := newTestWrapper(t, server, BasicAuth("alice", "secret"))
	_, err := w.DoPUT(context.Background(), "/cal/obj.ics", typeCalendar, IfMatch, `"stale"`, []byte("x"))
	if err != ErrPreconditionFailed {
		t.Errorf("DoPUT() error = %v, want ErrPreconditionFailed", err)
	}
}

func TestDoPUTWithoutETagHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := newTestWrapper(t, server, BasicAuth("alice", "secret"))
	etag, err := w.DoPUT(context.Background(), "/cal/obj.ics", typeCalendar, NoPrecondition, "", []byte("x"))
	if err != nil {
		t.Fatalf("DoPUT() error = %v", err)
	}
	if etag != "" {
		t.Errorf("etag = %q, want empty", etag)
	}
}

func TestDoGET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag-9"`)
		io.WriteString(w, "BEGIN:VCARD\r\nEND:VCARD\r\n")
	}))
	defer server.Close()

	w := newTestWrapper(t, server, BasicAuth("alice", "secret"))
	body, etag, err := w.DoGET(context.Background(), "/contacts/c1.vcf")
	if err != nil {
		t.Fatalf("DoGET() error = %v", err)
	}
	if etag != `"etag-9"` {
		t.Errorf("etag = %q", etag)
	}
	if len(body) == 0 {
		t.Error("body is empty")
	}
}

func TestDoDELETE(t *testing.T) {
	tests := []struct {
		name    string
		etag    string
		status  int
		wantErr error
	}{
		{name: "success with etag", etag: `"e1"`, status: http.StatusNoContent},
		{name: "precondition failed", etag: `"stale"`, status: http.StatusPreconditionFailed, wantErr: ErrPreconditionFailed},
		{name: "already gone", etag: `"e1"`, status: http.StatusNotFound, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				if got := r.Header.Get("If-Match"); got != tt.etag {
					t.Errorf("If-Match = %q, want %q", got, tt.etag)
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			w := newTestWrapper(t, server, BasicAuth("alice", "secret"))
			err := w.DoDELETE(context.Background(), "/cal/obj.ics", tt.etag)
			if err != tt.wantErr {
				t.Errorf("DoDELETE() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
