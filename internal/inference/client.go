// Package inference talks to the external image scorer and turns its loosely typed
// reply into a canonical diagnosis.AIAnalysis.
package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medvision/internal/config"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultFileName    = "upload.png"
	defaultContentType = "image/png"
	errorSnippetBytes  = 512
)

//go:generate mockgen -source=client.go -destination=mocks/mock_scorer.go -package=mocks Scorer

// Scorer is the contract the orchestrator depends on.
type Scorer interface {
	Infer(ctx context.Context, req *Request) (*Result, error)
}

// Request is one image to score. PatientID is forwarded as metadata and not validated here.
type Request struct {
	Image       io.Reader
	FileName    string
	ContentType string
	PatientID   string
	Notes       string
}

// Timing is returned with every call so callers decide how to surface scorer latency.
type Timing struct {
	// Build covers request construction up to the moment it is handed to the transport.
	Build time.Duration
	// RoundTrip covers sending the body, waiting on the scorer and decoding its reply.
	RoundTrip time.Duration
}

type Result struct {
	Payload Payload
	Timing  Timing
}

type FailureReason string

const (
	ReasonEmptyImage   FailureReason = "empty_image"
	ReasonRequestBuild FailureReason = "request_build"
	ReasonTimeout      FailureReason = "timeout"
	ReasonUnreachable  FailureReason = "unreachable"
	ReasonCanceled     FailureReason = "canceled"
	ReasonBadStatus    FailureReason = "bad_status"
	ReasonMalformed    FailureReason = "malformed_response"
	ReasonCircuitOpen  FailureReason = "circuit_open"
)

// scorerFault reports whether the reason says something about the scorer's health.
func (r FailureReason) scorerFault() bool {
	switch r {
	case ReasonTimeout, ReasonUnreachable, ReasonBadStatus, ReasonMalformed:
		return true
	}
	return false
}

// Failure is the only error type Infer returns.
type Failure struct {
	Reason  FailureReason
	Message string
	Timing  Timing
}

func (f *Failure) Error() string {
	return fmt.Sprintf("inference %s: %s", f.Reason, f.Message)
}

type Client struct {
	endpoint         string
	timeout          time.Duration
	maxResponseBytes int64
	http             *http.Client
	breaker          *gobreaker.CircuitBreaker[*Result]
}

type Option func(*Client)

// WithHTTPClient replaces the one-shot transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(cfg config.InferenceConfig, opts ...Option) *Client {
	c := &Client{
		endpoint:         cfg.Endpoint(),
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:       http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				// Each call is one-shot; nothing may linger in a pool afterwards.
				DisableKeepAlives: true,
			},
		},
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = 4 << 20
	}

	if cfg.BreakerEnabled {
		threshold := uint32(5)
		if cfg.BreakerFailureThreshold > 0 {
			threshold = uint32(cfg.BreakerFailureThreshold)
		}
		c.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
			Name:        "inference",
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				var f *Failure
				if errors.As(err, &f) {
					return !f.Reason.scorerFault()
				}
				return err == nil
			},
		})
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer streams the image to the scorer as multipart/form-data and decodes its JSON reply.
// The call never outlives the configured timeout and never retries. Every error is a *Failure.
func (c *Client) Infer(ctx context.Context, req *Request) (*Result, error) {
	if c.breaker == nil {
		return c.infer(ctx, req)
	}

	res, err := c.breaker.Execute(func() (*Result, error) {
		return c.infer(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Failure{Reason: ReasonCircuitOpen, Message: "scorer marked unavailable after repeated failures"}
	}
	return res, err
}

func (c *Client) infer(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	var timing Timing
	fail := func(reason FailureReason, format string, args ...any) (*Result, error) {
		return nil, &Failure{Reason: reason, Message: fmt.Sprintf(format, args...), Timing: timing}
	}

	if req == nil || req.Image == nil {
		return fail(ReasonEmptyImage, "image is required")
	}
	image := bufio.NewReader(req.Image)
	if _, err := image.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return fail(ReasonEmptyImage, "image is empty")
		}
		return fail(ReasonRequestBuild, "reading image: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, pw := io.Pipe()
	defer pr.Close()
	form := multipart.NewWriter(pw)
	go writeForm(pw, form, image, req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		timing.Build = time.Since(start)
		return fail(ReasonRequestBuild, "building request: %v", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Close = true
	timing.Build = time.Since(start)

	sent := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		timing.RoundTrip = time.Since(sent)
		return fail(classify(ctx, err), "calling scorer: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))
		timing.RoundTrip = time.Since(sent)
		return fail(ReasonBadStatus, "scorer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	payload, err := decodePayload(io.LimitReader(resp.Body, c.maxResponseBytes))
	timing.RoundTrip = time.Since(sent)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(classify(ctx, ctxErr), "reading scorer response: %v", err)
		}
		return fail(ReasonMalformed, "decoding scorer response: %v", err)
	}

	return &Result{Payload: payload, Timing: timing}, nil
}

// writeForm produces the multipart body while the transport consumes it.
// Field order matches what the scorer expects: image, patient_id, notes.
func writeForm(pw *io.PipeWriter, form *multipart.Writer, image io.Reader, req *Request) {
	err := func() error {
		part, err := form.CreatePart(imageHeader(req))
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, image); err != nil {
			return err
		}
		if err := form.WriteField("patient_id", req.PatientID); err != nil {
			return err
		}
		if req.Notes != "" {
			if err := form.WriteField("notes", req.Notes); err != nil {
				return err
			}
		}
		return form.Close()
	}()
	pw.CloseWithError(err)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func imageHeader(req *Request) textproto.MIMEHeader {
	name := req.FileName
	if name == "" {
		name = defaultFileName
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(name)))
	h.Set("Content-Type", contentType)
	return h
}

func classify(ctx context.Context, err error) FailureReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonUnreachable
}
