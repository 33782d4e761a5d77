package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ferryd/ferry/testfunc"
)

type uploadResult struct {
	Success     bool   `json:"success"`
	Code        string `json:"code"`
	Error       string `json:"error"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	DownloadURL string `json:"download_url"`
	StreamURL   string `json:"stream_url"`
}

func uploadMultipart(t *testing.T, port int, filename, content string) (*http.Response, uploadResult) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := io.Copy(part, strings.NewReader(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Close()

	resp, err := http.Post(
		fmt.Sprintf("http://localhost:%d/upload", port),
		w.FormDataContentType(),
		&buf,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	var result uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp, result
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	resp, result := uploadMultipart(t, ts.Port, "notes.txt", "hello world")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}
	if result.FileName != "notes.txt" {
		t.Errorf("got file name %q, want notes.txt", result.FileName)
	}
	if result.FileSize != 11 {
		t.Errorf("got file size %d, want 11", result.FileSize)
	}
	if result.StreamURL != "" {
		t.Errorf("got stream URL %q for non-media file, want none", result.StreamURL)
	}

	dlResp, err := http.Get(result.DownloadURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", dlResp.StatusCode)
	}
	body, err := io.ReadAll(dlResp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("got body %q, want %q", body, "hello world")
	}
	if got := dlResp.Header.Get("Content-Disposition"); got != `attachment; filename="notes.txt"` {
		t.Errorf("got Content-Disposition %q", got)
	}
	if got := dlResp.Header.Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("got Content-Type %q, want application/octet-stream", got)
	}
	if got := dlResp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("got Accept-Ranges %q, want bytes", got)
	}
	if dlResp.Header.Get("ETag") == "" {
		t.Error("missing ETag")
	}
}

func TestUploadMediaGetsStreamURL(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	_, result := uploadMultipart(t, ts.Port, "clip.mp4", "fake video bytes")
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}
	if result.StreamURL == "" {
		t.Fatal("expected a stream URL for a video file")
	}

	streamResp, err := http.Get(result.StreamURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer streamResp.Body.Close()
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", streamResp.StatusCode)
	}
	if got := streamResp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("got Content-Type %q, want video/mp4", got)
	}
	if got := streamResp.Header.Get("Content-Disposition"); !strings.HasPrefix(got, "inline;") {
		t.Errorf("got Content-Disposition %q, want inline", got)
	}
}

func TestRangedDownload(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	_, result := uploadMultipart(t, ts.Port, "data.bin", "ABCDE")
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}

	req, err := http.NewRequest(http.MethodGet, result.DownloadURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Range", "bytes=1-3")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("got status %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 1-3/5" {
		t.Errorf("got Content-Range %q, want bytes 1-3/5", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "BCD" {
		t.Fatalf("got body %q, want BCD", body)
	}
}

// Objects over the carrier ceiling are split into segments on upload and
// stitched back together byte-identically on download.
func TestChunkedUploadRoundTrip(t *testing.T) {
	t.Parallel()
	carrier := testfunc.NewMemoryCarrier()
	carrier.MaxBytes = 8
	conf := testfunc.NewConfig(testfunc.WithPrimaryCarrier(carrier))
	conf.ChunkBytes = 8
	ts := testfunc.RunningServer(t, conf)
	defer ts.Cleanup()

	content := strings.Repeat("0123456789", 10)
	_, result := uploadMultipart(t, ts.Port, "big.bin", content)
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}
	if result.FileSize != int64(len(content)) {
		t.Fatalf("got file size %d, want %d", result.FileSize, len(content))
	}
	if carrier.ObjectCount() < 2 {
		t.Fatalf("got %d carrier objects, want several", carrier.ObjectCount())
	}

	resp, err := http.Get(result.DownloadURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != content {
		t.Fatalf("round-tripped body differs: got %d bytes, want %d", len(body), len(content))
	}

	// A range spanning segment boundaries is stitched transparently.
	req, err := http.NewRequest(http.MethodGet, result.DownloadURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Range", "bytes=6-17")
	rangeResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rangeResp.Body.Close()
	rangeBody, err := io.ReadAll(rangeResp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rangeBody) != content[6:18] {
		t.Fatalf("got range body %q, want %q", rangeBody, content[6:18])
	}
}

func TestUploadFromURL(t *testing.T) {
	t.Parallel()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetched remotely"))
	}))
	defer origin.Close()

	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	payload, _ := json.Marshal(map[string]string{"file_url": origin.URL + "/pull/archive.zip"})
	resp, err := http.Post(
		fmt.Sprintf("http://localhost:%d/upload", ts.Port),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	var result uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}
	if result.FileName != "archive.zip" {
		t.Errorf("got file name %q, want archive.zip", result.FileName)
	}

	dlResp, err := http.Get(result.DownloadURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dlResp.Body.Close()
	body, err := io.ReadAll(dlResp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "fetched remotely" {
		t.Fatalf("got body %q, want %q", body, "fetched remotely")
	}
}

func TestUploadWithoutSource(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	resp, err := http.Post(
		fmt.Sprintf("http://localhost:%d/upload", ts.Port),
		"application/json",
		strings.NewReader("{}"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
	var result uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Code != "no_source" {
		t.Errorf("got code %q, want no_source", result.Code)
	}
}

func TestUploadOverCeiling(t *testing.T) {
	t.Parallel()
	conf := testfunc.NewConfig()
	conf.MaxUploadBytes = 10
	conf.ChunkBytes = 4
	ts := testfunc.RunningServer(t, conf)
	defer ts.Cleanup()

	resp, result := uploadMultipart(t, ts.Port, "big.bin", strings.Repeat("x", 100))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("got status %d, want 413", resp.StatusCode)
	}
	if result.Code != "source_too_large" {
		t.Errorf("got code %q, want source_too_large", result.Code)
	}
}

func TestDownloadUnknownToken(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/download/zzzzzzzzzzzzzzzz", ts.Port))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
	var result uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Code != "not_found" {
		t.Errorf("got code %q, want not_found", result.Code)
	}
}

func TestDownloadUnsatisfiableRange(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	_, result := uploadMultipart(t, ts.Port, "data.bin", "ABCDE")
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}

	req, err := http.NewRequest(http.MethodGet, result.DownloadURL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Range", "bytes=100-")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("got status %d, want 416", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes */5" {
		t.Errorf("got Content-Range %q, want bytes */5", got)
	}
}

func TestFilenameOverride(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	_, result := uploadMultipart(t, ts.Port, "original.txt", "hello")
	if !result.Success {
		t.Fatalf("upload failed: %s (%s)", result.Error, result.Code)
	}

	// Strip the filename query and supply our own.
	base := result.DownloadURL[:strings.Index(result.DownloadURL, "?")]
	resp, err := http.Get(base + "?filename=ren%2Famed.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="amed.txt"` {
		t.Errorf("got Content-Disposition %q", got)
	}
}

func TestTwoUploadsGetDistinctTokens(t *testing.T) {
	t.Parallel()
	ts := testfunc.RunningServer(t, testfunc.NewConfig())
	defer ts.Cleanup()

	_, r1 := uploadMultipart(t, ts.Port, "same.txt", "same content")
	_, r2 := uploadMultipart(t, ts.Port, "same.txt", "same content")
	if !r1.Success || !r2.Success {
		t.Fatal("uploads failed")
	}
	if r1.DownloadURL == r2.DownloadURL {
		t.Fatalf("both uploads got URL %q", r1.DownloadURL)
	}
}
