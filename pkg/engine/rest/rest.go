// Package rest provides an enhancement engine backed by an HTTP inference
// server.
//
// Each segment is packaged as a 16-bit mono WAV file and submitted to
// POST /enhance as multipart/form-data; the server replies with the enhanced
// audio as a WAV body. Transient server conditions (timeouts, overload,
// 5xx) are marked retryable so the pipeline's retry budget applies; client
// errors fail the segment immediately.
//
// Usage:
//
//	eng, err := rest.New("http://localhost:8310",
//	    rest.WithSampleRate(16000),
//	)
//	enhanced, err := eng.Enhance(ctx, segment)
package rest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lucentaudio/lucent/pkg/engine"
	"github.com/lucentaudio/lucent/pkg/wavio"
)

const (
	// bitsPerSample is fixed at 16 for the signed little-endian PCM audio
	// the inference server expects.
	bitsPerSample = 16

	defaultSampleRate = 16000
	defaultTimeout    = 30 * time.Second

	// maxResponseBytes caps how much of a reply is read. A one-minute
	// 48 kHz mono segment is under 6 MiB; 32 MiB leaves ample headroom.
	maxResponseBytes = 32 << 20
)

// Compile-time assertions that Client implements the engine interfaces.
var (
	_ engine.Engine = (*Client)(nil)
	_ engine.Warmer = (*Client)(nil)
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSampleRate sets the sample rate written into the WAV headers sent to
// the server. This must match the rate the segments were produced at.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *Client) {
		c.sampleRate = rate
	}
}

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client implements engine.Engine against an HTTP enhancement server. Safe
// for concurrent Enhance calls.
type Client struct {
	serverURL  string
	sampleRate int
	httpClient *http.Client
	closed     atomic.Bool
}

// New creates a Client for the enhancement server at serverURL (e.g.
// "http://localhost:8310"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("rest: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  serverURL,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enhance submits one segment and returns the denoised samples.
func (c *Client) Enhance(ctx context.Context, samples []float32) ([]float32, error) {
	if c.closed.Load() {
		return nil, engine.ErrClosed
	}

	wav := encodeWAV(wavio.EncodePCM16(samples), c.sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("rest: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("rest: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("rest: close multipart writer: %w", err)
	}

	endpoint := c.serverURL + "/enhance"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("rest: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.MarkRetryable(fmt.Errorf("rest: http request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("rest: server returned HTTP %d", resp.StatusCode)
		if retryableStatus(resp.StatusCode) {
			return nil, engine.MarkRetryable(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, engine.MarkRetryable(fmt.Errorf("rest: read response body: %w", err))
	}
	pcm, err := decodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("rest: %w", err)
	}
	return wavio.DecodePCM16(pcm)
}

// WarmUp runs one inference over a silent segment so that model loading does
// not land on the first real segment.
func (c *Client) WarmUp(ctx context.Context, segmentSize int) error {
	_, err := c.Enhance(ctx, make([]float32, segmentSize))
	return err
}

// Ping checks that the server is reachable. Used by readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("rest: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rest: ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("rest: ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close marks the client closed. In-flight requests finish normally.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}

// retryableStatus reports whether a status code signals a transient server
// condition.
func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}

// encodeWAV wraps raw 16-bit little-endian PCM in a canonical 44-byte WAV
// header, producing a complete in-memory file suitable for a form upload.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := bitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)                 // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], 1)                  // audio format: PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))   // num channels
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate)) // sample rate
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))   // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign)) // block align
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))        // bits per sample

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// decodeWAV extracts the PCM payload from an in-memory WAV file, walking the
// sub-chunks until the data chunk is found. Only 16-bit PCM is accepted.
func decodeWAV(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("response is not a WAV file")
	}
	off := 12
	var sawFmt bool
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("truncated %q chunk in response", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.New("malformed fmt chunk in response")
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, fmt.Errorf("unsupported WAV format %d in response", format)
			}
			if bps := binary.LittleEndian.Uint16(data[body+14 : body+16]); bps != bitsPerSample {
				return nil, fmt.Errorf("unsupported bit depth %d in response", bps)
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return nil, errors.New("data chunk before fmt chunk in response")
			}
			return data[body : body+size], nil
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}
	return nil, errors.New("no data chunk in response")
}
