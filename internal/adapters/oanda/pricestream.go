package oanda

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	streamMaxBackoff = 30 * time.Second
	streamLineLimit  = 256 * 1024
)

// priceStream supervises one chunked pricing response body. The v20 streaming
// API replaces a WebSocket with a long-lived HTTP response of newline-delimited
// JSON; a dropped body is redialed with exponential backoff. Changing the
// instrument set requires a fresh request, so the adapter replaces the whole
// stream when a new subscription arrives.
type priceStream struct {
	venue       string
	endpoint    string
	token       string
	instruments []string
	client      *http.Client
	handler     func(data []byte)
	errors      chan<- error

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *Adapter) newPriceStream(ctx context.Context, instruments []string) *priceStream {
	runCtx, cancel := context.WithCancel(ctx)
	s := &priceStream{
		venue:       venueName,
		endpoint:    a.streamURL + a.accountPath("/pricing/stream"),
		token:       a.creds.Key,
		instruments: instruments,
		client:      &http.Client{},
		handler:     a.handlePriceLine,
		errors:      a.errors,
		ctx:         runCtx,
		cancel:      cancel,
	}
	go s.supervise()
	return s
}

// ensurePriceStream makes sure a stream covering nativeID is running,
// replacing the current one when the instrument set grows.
func (a *Adapter) ensurePriceStream(ctx context.Context, nativeID string) error {
	a.pricesMu.Lock()
	defer a.pricesMu.Unlock()
	if a.prices != nil && a.prices.covers(nativeID) {
		return nil
	}
	instruments := []string{nativeID}
	if a.prices != nil {
		instruments = append(instruments, a.prices.instruments...)
		a.prices.stop()
	}
	sort.Strings(instruments)
	a.prices = a.newPriceStream(ctx, instruments)
	return nil
}

func (s *priceStream) covers(nativeID string) bool {
	for _, instrument := range s.instruments {
		if instrument == nativeID {
			return true
		}
	}
	return false
}

func (s *priceStream) stop() {
	s.cancel()
}

func (s *priceStream) supervise() {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = streamMaxBackoff

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		err := s.consume()
		if err != nil && s.ctx.Err() == nil {
			s.reportError(err)
		}
		if s.ctx.Err() != nil {
			return
		}

		delay := backoffCfg.NextBackOff()
		if delay <= 0 || delay == backoff.Stop {
			delay = streamMaxBackoff
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume opens the stream and reads lines until the body ends or the context
// is cancelled.
func (s *priceStream) consume() error {
	query := url.Values{"instruments": {strings.Join(s.instruments, ",")}}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("dial pricing stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricing stream status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), streamLineLimit)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handler(line)
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		return fmt.Errorf("read pricing stream: %w", err)
	}
	return nil
}

func (s *priceStream) reportError(err error) {
	if err == nil || s.errors == nil {
		return
	}
	err = fmt.Errorf("%s stream: %w", s.venue, err)
	select {
	case <-s.ctx.Done():
	case s.errors <- err:
	default:
	}
}
