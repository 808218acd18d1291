package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Client uploads call recordings to the transcription service and returns the
// plain-text transcript.
type Client struct {
	endpoint string
	stereo   bool
	vocab    []string
	http     *http.Client
	log      *logrus.Entry
}

func New(endpoint string, stereo bool, vocab []string, log *logrus.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		stereo:   stereo,
		vocab:    vocab,
		http:     &http.Client{Timeout: 10 * time.Minute},
		log:      log.WithField("component", "transcribe"),
	}
}

// Transcribe uploads the file and returns its transcript. Transient upload
// failures are retried with exponential backoff while the context allows.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	var text string
	op := func() error {
		var err error
		text, err = c.upload(ctx, path)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	notify := func(err error, wait time.Duration) {
		c.log.WithField("file", filepath.Base(path)).Warnf("transcription retry in %s: %v", wait.Round(time.Second), err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) upload(ctx context.Context, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	defer file.Close()

	bodyReader, bodyWriter := io.Pipe()
	writer := multipart.NewWriter(bodyWriter)

	go func() {
		defer bodyWriter.Close()
		defer writer.Close()
		fw, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, file); err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		writer.WriteField("stereo", strconv.FormatBool(c.stereo))
		if len(c.vocab) > 0 {
			writer.WriteField("additional_vocab", strings.Join(c.vocab, ","))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bodyReader)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("transcription status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return "", backoff.Permanent(fmt.Errorf("empty transcript for %s", filepath.Base(path)))
	}
	return parsed.Text, nil
}
