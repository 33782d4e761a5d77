package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultTelegramMaxBytes is the Bot API per-document upload ceiling.
const DefaultTelegramMaxBytes = 50 << 20

// telegramAPI is the slice of the Bot API client used by TelegramStore,
// narrowed for stub substitution in tests.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(c tgbotapi.FileConfig) (tgbotapi.File, error)
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramStore relays objects through a Telegram channel as bot-uploaded
// documents. The document file_id is the carrier id. Downloads go through the
// file endpoint, which honors HTTP range requests on most responses but is
// not guaranteed to, so Open reports the effective range honestly.
type TelegramStore struct {
	API      telegramAPI
	ChatID   int64
	MaxBytes int64
	Client   *http.Client
}

func NewTelegramStore(token string, chatID int64, apiEndpoint string, maxBytes int64) (*TelegramStore, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	if maxBytes <= 0 {
		maxBytes = DefaultTelegramMaxBytes
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("creating bot client: %w", err)
	}
	return &TelegramStore{
		API:      bot,
		ChatID:   chatID,
		MaxBytes: maxBytes,
		Client:   http.DefaultClient,
	}, nil
}

func (s *TelegramStore) Name() string {
	return "telegram"
}

func (s *TelegramStore) MaxObjectBytes() int64 {
	return s.MaxBytes
}

func (s *TelegramStore) Put(ctx context.Context, r io.Reader, sizeHint int64, name string) (Ref, error) {
	if sizeHint > s.MaxBytes {
		return Ref{}, fmt.Errorf("size hint %d over ceiling %d: %w", sizeHint, s.MaxBytes, ErrCarrierRejected)
	}
	doc := tgbotapi.NewDocument(s.ChatID, tgbotapi.FileReader{
		Name:   name,
		Reader: r,
	})
	msg, err := s.API.Send(doc)
	if err != nil {
		return Ref{}, fmt.Errorf("sending document: %w", classifyTelegramError(err))
	}
	if msg.Document == nil {
		return Ref{}, fmt.Errorf("carrier returned no document: %w", ErrCarrierRejected)
	}
	return Ref{
		CarrierID: msg.Document.FileID,
		Size:      int64(msg.Document.FileSize),
	}, nil
}

func (s *TelegramStore) Stat(ctx context.Context, ref Ref) (Meta, error) {
	file, err := s.API.GetFile(tgbotapi.FileConfig{FileID: ref.CarrierID})
	if err != nil {
		return Meta{}, fmt.Errorf("getting file: %w", classifyTelegramError(err))
	}
	return Meta{Size: int64(file.FileSize)}, nil
}

func (s *TelegramStore) Open(ctx context.Context, ref Ref, rng *ByteRange) (*Object, error) {
	fileURL, err := s.API.GetFileDirectURL(ref.CarrierID)
	if err != nil {
		return nil, fmt.Errorf("getting file URL: %w", classifyTelegramError(err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if rng != nil {
		req.Header.Set("Range", rng.String())
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", classifyTelegramError(err))
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return &Object{Body: resp.Body, TotalSize: resp.ContentLength}, nil
	case http.StatusPartialContent:
		eff, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("parsing Content-Range: %w", err)
		}
		return &Object{Body: resp.Body, EffectiveRange: &eff, TotalSize: total}, nil
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, ErrObjectNotFound
	default:
		resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("file endpoint returned %d: %w", resp.StatusCode, ErrCarrierTransient)
		}
		return nil, fmt.Errorf("file endpoint returned %d: %w", resp.StatusCode, ErrCarrierRejected)
	}
}

func (s *TelegramStore) Validate() []string {
	var errs []string
	if s.API == nil {
		errs = append(errs, "API must not be nil")
	}
	if s.ChatID == 0 {
		errs = append(errs, "ChatID must not be 0")
	}
	if s.MaxBytes <= 0 {
		errs = append(errs, "MaxBytes must be greater than 0")
	}
	return errs
}

func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("%s: %w", apiErr.Message, ErrCarrierTransient)
		}
		return fmt.Errorf("%s: %w", apiErr.Message, ErrCarrierRejected)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%v: %w", err, ErrCarrierTransient)
	}
	return fmt.Errorf("%v: %w", err, ErrCarrierRejected)
}

// parseContentRange parses a "bytes start-end/total" response header.
func parseContentRange(header string) (ByteRange, int64, error) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("unexpected Content-Range %q", header)
	}
	window, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("unexpected Content-Range %q", header)
	}
	startStr, endStr, ok := strings.Cut(window, "-")
	if !ok {
		return ByteRange{}, 0, fmt.Errorf("unexpected Content-Range %q", header)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return ByteRange{}, 0, fmt.Errorf("parsing range start: %w", err)
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		return ByteRange{}, 0, fmt.Errorf("parsing range end: %w", err)
	}
	total := int64(-1)
	if totalStr != "*" {
		total, err = strconv.ParseInt(totalStr, 10, 64)
		if err != nil {
			return ByteRange{}, 0, fmt.Errorf("parsing range total: %w", err)
		}
	}
	return ByteRange{Start: start, End: end}, total, nil
}
