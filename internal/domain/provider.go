package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ChatCompletionClient is the hosted LLM capability: given a model and a
// message history it returns a token stream plus rate-limit metadata.
type ChatCompletionClient interface {
	StreamComplete(ctx context.Context, req CompletionRequest) (*CompletionStream, error)
}

type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	Images      []Image // attached to the last user message
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Image struct {
	Filename string
	Data     []byte
	MimeType string
}

// RateLimit carries the provider's quota headers; nil fields were not reported.
type RateLimit struct {
	Limit     *int
	Remaining *int
	ResetAt   *time.Time
}

// CompletionStream is a finite, non-restartable sequence of token chunks.
// Consumers drain Tokens until it is closed and then call Err.
type CompletionStream struct {
	Tokens    <-chan string
	RateLimit RateLimit

	errc    <-chan error
	errOnce sync.Once
	err     error
}

// NewCompletionStream wraps a producer's token channel. The producer must
// close tokens and then send at most one value on errc (or close it).
func NewCompletionStream(tokens <-chan string, errc <-chan error, rl RateLimit) *CompletionStream {
	return &CompletionStream{Tokens: tokens, RateLimit: rl, errc: errc}
}

// Err returns the terminal stream error. It blocks until the producer is done.
func (s *CompletionStream) Err() error {
	s.errOnce.Do(func() {
		if s.errc != nil {
			s.err = <-s.errc
		}
	})
	return s.err
}

// Collect drains the stream and returns the concatenated text.
func (s *CompletionStream) Collect(ctx context.Context) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case tok, ok := <-s.Tokens:
			if !ok {
				return sb.String(), s.Err()
			}
			sb.WriteString(tok)
		}
	}
}

var (
	ErrMissingCredential = errors.New("missing API credential")
	ErrInvalidResponse   = errors.New("invalid response from provider")
)

// HTTPError is a non-success HTTP status returned by the provider.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// NetworkError wraps a transport failure reaching the provider.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
