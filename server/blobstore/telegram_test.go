package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type stubTelegramAPI struct {
	sendErr error
	sent    []tgbotapi.Chattable
	fileURL string
}

func (s *stubTelegramAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.sendErr != nil {
		return tgbotapi.Message{}, s.sendErr
	}
	s.sent = append(s.sent, c)
	return tgbotapi.Message{
		Document: &tgbotapi.Document{FileID: "file-id-1", FileSize: 5},
	}, nil
}

func (s *stubTelegramAPI) GetFile(c tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: c.FileID, FileSize: 5}, nil
}

func (s *stubTelegramAPI) GetFileDirectURL(fileID string) (string, error) {
	return s.fileURL, nil
}

func TestTelegramStorePut(t *testing.T) {
	store := &TelegramStore{API: &stubTelegramAPI{}, ChatID: 42, MaxBytes: 16, Client: http.DefaultClient}

	ref, err := store.Put(context.Background(), strings.NewReader("hello"), 5, "hello.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.CarrierID != "file-id-1" {
		t.Errorf("got carrier id %q, want file-id-1", ref.CarrierID)
	}
	if ref.Size != 5 {
		t.Errorf("got size %d, want 5", ref.Size)
	}
}

func TestTelegramStorePutRejectsOversizedHint(t *testing.T) {
	api := &stubTelegramAPI{}
	store := &TelegramStore{API: api, ChatID: 42, MaxBytes: 16, Client: http.DefaultClient}

	_, err := store.Put(context.Background(), strings.NewReader("too big"), 100, "big.bin")
	if !errors.Is(err, ErrCarrierRejected) {
		t.Fatalf("got error %v, want ErrCarrierRejected", err)
	}
	if len(api.sent) != 0 {
		t.Fatalf("carrier was called %d times, want 0", len(api.sent))
	}
}

func TestTelegramStoreOpen(t *testing.T) {
	content := []byte("hello world")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file", time.Time{}, bytes.NewReader(content))
	}))
	defer ts.Close()

	api := &stubTelegramAPI{fileURL: ts.URL}
	store := &TelegramStore{API: api, ChatID: 42, MaxBytes: 16, Client: ts.Client()}

	t.Run("full", func(t *testing.T) {
		obj, err := store.Open(context.Background(), Ref{CarrierID: "file-id-1"}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer obj.Body.Close()
		data, err := io.ReadAll(obj.Body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(data, content) {
			t.Fatalf("got %q, want %q", data, content)
		}
		if obj.EffectiveRange != nil {
			t.Fatalf("got effective range %v for full read, want nil", obj.EffectiveRange)
		}
	})

	t.Run("ranged", func(t *testing.T) {
		rng := &ByteRange{Start: 6, End: 10}
		obj, err := store.Open(context.Background(), Ref{CarrierID: "file-id-1"}, rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer obj.Body.Close()
		data, err := io.ReadAll(obj.Body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "world" {
			t.Fatalf("got %q, want world", data)
		}
		if obj.EffectiveRange == nil || *obj.EffectiveRange != *rng {
			t.Fatalf("got effective range %v, want %v", obj.EffectiveRange, rng)
		}
		if obj.TotalSize != int64(len(content)) {
			t.Fatalf("got total size %d, want %d", obj.TotalSize, len(content))
		}
	})
}

func TestTelegramStoreOpenMissing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	store := &TelegramStore{API: &stubTelegramAPI{fileURL: ts.URL}, ChatID: 42, MaxBytes: 16, Client: ts.Client()}
	_, err := store.Open(context.Background(), Ref{CarrierID: "gone"}, nil)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("got error %v, want ErrObjectNotFound", err)
	}
}

func TestClassifyTelegramError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "throttled is transient",
			err:  &tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
			want: ErrCarrierTransient,
		},
		{
			name: "server error is transient",
			err:  &tgbotapi.Error{Code: 502, Message: "Bad Gateway"},
			want: ErrCarrierTransient,
		},
		{
			name: "client error is rejected",
			err:  &tgbotapi.Error{Code: 400, Message: "chat not found"},
			want: ErrCarrierRejected,
		},
		{
			name: "cancellation passes through",
			err:  fmt.Errorf("wrapped: %w", context.Canceled),
			want: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyTelegramError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header    string
		wantRange ByteRange
		wantTotal int64
		wantErr   bool
	}{
		{header: "bytes 0-4/11", wantRange: ByteRange{Start: 0, End: 4}, wantTotal: 11},
		{header: "bytes 6-10/11", wantRange: ByteRange{Start: 6, End: 10}, wantTotal: 11},
		{header: "bytes 0-4/*", wantRange: ByteRange{Start: 0, End: 4}, wantTotal: -1},
		{header: "items 0-4/11", wantErr: true},
		{header: "bytes whatever", wantErr: true},
		{header: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			rng, total, err := parseContentRange(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rng != tt.wantRange || total != tt.wantTotal {
				t.Fatalf("got %v/%d, want %v/%d", rng, total, tt.wantRange, tt.wantTotal)
			}
		})
	}
}
