package configdb

import ("context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time")

func TestDownloadConfigOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<config/>"))
	}))
	defer srv.Close()

	c := New()
	data, err := c.DownloadConfig(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("DownloadConfig: %v", err)
	}
	if string(data) != "<config/>" {
		t.Fatalf("data = %q, want <config/>", data)
	}
}

func TestDownloadConfigNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New()
	_, err := c.DownloadConfig(context.Background(), srv.URL)
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDownloadConfigServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New()
	_, err := c.DownloadConfig(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

// TestRunAsyncReportsDNSError exercises RunAsync against an fqdn that
// cannot resolve, confirming it delivers a Result for the device key
// that carries the DNS error.
func TestRunAsyncReportsDNSError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("newconfig"))
	}))
	defer srv.Close()

	// RunAsync always performs a DNS lookup first; "invalid." is reserved
	// by RFC 2606 to never resolve, so this exercises the DNS-error path
	// deterministically rather than the download path.
	c := New()

	resultCh := make(chan Result, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.RunAsync(ctx, "device-key", "nonexistent.invalid.example", 0, srv.URL, resultCh)

	select {
	case r := <-resultCh:
		if r.DeviceKey != "device-key" {
			t.Fatalf("DeviceKey = %q, want device-key", r.DeviceKey)
		}
		if r.Err == nil {
			t.Fatal("expected a DNS error for an unresolvable fqdn")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for RunAsync result")
	}
}
