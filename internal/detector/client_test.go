package detector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api/", WithHTTPClient(srv.Client()))
}

func TestDetectUploadsMultipartFile(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/detect" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Errorf("missing X-Request-ID header")
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		got, _ := io.ReadAll(file)
		if string(got) != string(payload) {
			t.Errorf("uploaded bytes = %v, want %v", got, payload)
		}
		if header.Filename != "frame.jpg" {
			t.Errorf("filename = %q", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"detections":[
			{"class":"NO-Hardhat","confidence":0.91,"x":10,"y":20,"w":30,"h":40},
			{"class":"Person","confidence":0.5,"x":1,"y":2,"w":3,"h":4}]}`)
	})

	dets, err := client.Detect(context.Background(), payload)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	want := []types.Detection{
		{Class: "NO-Hardhat", Confidence: 0.91, X: 10, Y: 20, W: 30, H: 40},
		{Class: "Person", Confidence: 0.5, X: 1, Y: 2, W: 3, H: 4},
	}
	if diff := cmp.Diff(want, dets); diff != "" {
		t.Fatalf("detections mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectEmptyListIsNotNil(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	dets, err := client.Detect(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if dets == nil || len(dets) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", dets)
	}
}

func TestDetectErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		transport bool
		decode    bool
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"success":false,"error":"Model not loaded"}`, transport: true},
		{name: "not success", status: http.StatusOK, body: `{"success":false}`, transport: true},
		{name: "malformed body", status: http.StatusOK, body: `{"success":tru`, decode: true},
		{name: "missing class", status: http.StatusOK, body: `{"success":true,"detections":[{"confidence":0.3}]}`, decode: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.Detect(context.Background(), []byte{1})
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransport(err) != tc.transport {
				t.Fatalf("IsTransport(%v) = %v, want %v", err, IsTransport(err), tc.transport)
			}
			if IsDecode(err) != tc.decode {
				t.Fatalf("IsDecode(%v) = %v, want %v", err, IsDecode(err), tc.decode)
			}
		})
	}
}

func TestDetectStatusCarriesServiceReason(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"success":false,"error":"Model not loaded"}`)
	})
	_, err := client.Detect(context.Background(), []byte{1})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusInternalServerError || te.Err.Error() != "Model not loaded" {
		t.Fatalf("unexpected transport error: %+v", te)
	}
}

func TestDetectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Detect(context.Background(), []byte{1})
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"status":"healthy","model_loaded":true}`)
	})
	report, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !report.Healthy() {
		t.Fatalf("expected healthy report, got %+v", report)
	}
}

func TestHealthErrorStatusWithBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"status":"healthy","model_loaded":true}`)
	})
	report, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d", report.StatusCode)
	}
	if report.Healthy() {
		t.Fatal("a 500 response must not be healthy")
	}
}

func TestHealthErrorStatusWithoutBody(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	_, err := client.Health(context.Background())
	var he *HealthError
	if !errors.As(err, &he) {
		t.Fatalf("expected HealthError, got %v", err)
	}
}

func TestHealthFailureIsHealthError(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})
	_, err := client.Health(context.Background())
	var he *HealthError
	if !errors.As(err, &he) {
		t.Fatalf("expected HealthError, got %v", err)
	}
}
