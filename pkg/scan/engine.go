package scan

import (
	"context"
	"errors"
	"fmt"
	"io"

	clamd "github.com/dutchcoders/go-clamd"
)

// EngineResult is the raw outcome of one engine pass over a stream.
type EngineResult struct {
	Infected  bool
	Signature string
	Raw       string
}

// Engine abstracts the scanning daemon so the scanner can be exercised
// without a live clamd.
type Engine interface {
	Name() string
	Ping() error
	Scan(ctx context.Context, r io.Reader) (EngineResult, error)
}

// ClamdEngine drives a clamd INSTREAM session over TCP.
type ClamdEngine struct {
	client *clamd.Clamd
}

func NewClamdEngine(host string, port int) *ClamdEngine {
	return &ClamdEngine{client: clamd.NewClamd(fmt.Sprintf("tcp://%s:%d", host, port))}
}

func (c *ClamdEngine) Name() string {
	return "clamav"
}

func (c *ClamdEngine) Ping() error {
	return c.client.Ping()
}

func (c *ClamdEngine) Scan(ctx context.Context, r io.Reader) (EngineResult, error) {
	abort := make(chan bool)
	defer close(abort)

	results, err := c.client.ScanStream(r, abort)
	if err != nil {
		return EngineResult{}, err
	}

	select {
	case result, ok := <-results:
		if !ok || result == nil {
			return EngineResult{}, errors.New("scan engine returned no result")
		}

		switch result.Status {
		case clamd.RES_OK:
			return EngineResult{Raw: result.Raw}, nil
		case clamd.RES_FOUND:
			return EngineResult{Infected: true, Signature: result.Description, Raw: result.Raw}, nil
		default:
			return EngineResult{}, fmt.Errorf("scan engine error: %s", result.Raw)
		}
	case <-ctx.Done():
		return EngineResult{}, ctx.Err()
	}
}
