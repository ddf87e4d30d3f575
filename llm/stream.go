package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/aqueductlabs/aqueduct/cancel"
	"github.com/aqueductlabs/aqueduct/chunk"
	"github.com/aqueductlabs/aqueduct/delta"
	"github.com/aqueductlabs/aqueduct/interceptor"
	"github.com/aqueductlabs/aqueduct/provider"
	"github.com/aqueductlabs/aqueduct/retry"
	"github.com/aqueductlabs/aqueduct/sse"
)

// StreamMapper is implemented by providers that supply their own delta
// mapper for their wire dialect. When a provider does not implement it the
// mapper must be set with WithMapper.
type StreamMapper interface {
	Mapper() delta.Mapper
}

// Stream is an in-progress streaming response. It accumulates the full
// response as deltas are consumed, so Response is available after the
// iteration ends.
//
// Example:
//
//	stream, err := llm.CallStream(ctx, "Write a story", opts...)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for d := range stream.Deltas() {
//	    fmt.Print(d.Delta)
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
type Stream struct {
	mgr    *cancel.Manager
	raw    provider.RawStream
	norm   *delta.Normalizer
	deltas iter.Seq2[delta.StreamDelta, error]
	err    error

	text     strings.Builder
	tools    map[int]*provider.ToolCall
	usage    provider.Usage
	finished bool
}

// CallStream makes a streaming LLM call. The returned Stream must be closed
// when the caller is done with it, whether or not iteration completed.
func CallStream(ctx context.Context, prompt string, opts ...Option) (*Stream, error) {
	cfg := newCallConfig()
	cfg.apply(opts...)

	if cfg.providerName == "" {
		return nil, ErrProviderRequired
	}
	if cfg.model == "" {
		return nil, ErrModelRequired
	}

	p, err := provider.Get(cfg.providerName)
	if err != nil {
		return nil, fmt.Errorf("getting provider: %w", err)
	}
	sp, ok := p.(provider.StreamingProvider)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support streaming", cfg.providerName)
	}

	mapper := cfg.mapper
	if mapper == nil {
		if sm, ok := p.(StreamMapper); ok {
			mapper = sm.Mapper()
		}
	}
	if mapper == nil {
		return nil, ErrMapperRequired
	}

	mgrOpts := []cancel.Option{cancel.WithLogger(cfg.logger)}
	if cfg.gracefulTimeout > 0 {
		mgrOpts = append(mgrOpts, cancel.WithGracefulTimeout(cfg.gracefulTimeout))
	}
	mgr := cancel.NewManager(ctx, mgrOpts...)

	if err := mgr.CheckCancellation(cancel.PhaseInitialization); err != nil {
		mgr.Close()
		return nil, err
	}

	req := cfg.buildRequest(prompt)

	ictx := interceptor.NewContext(mgr.Context(), req)
	if cfg.chain != nil {
		out, err := cfg.chain.ExecuteRequest(ictx)
		if err != nil {
			mgr.Close()
			return nil, err
		}
		ictx = out
		if r, ok := ictx.Request.(*provider.Request); ok {
			req = r
		}
	}

	raw, err := openWithRetry(mgr, sp, req, cfg)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	mgr.AddCleanupHandler(func(context.Context) error {
		return raw.Close()
	})

	if cfg.chain != nil {
		if _, err := cfg.chain.ExecuteResponse(ictx.WithResponse(raw)); err != nil {
			_ = raw.Close()
			mgr.Close()
			return nil, err
		}
	}

	src := cancellableChunks(mgr, provider.Chunks(raw))

	var events iter.Seq2[delta.SourceEvent, error]
	switch format := sp.StreamFormat(); format {
	case provider.FormatSSE:
		events = delta.FromSSE(sse.Decode(src, sse.WithLogger(cfg.logger)))
	case provider.FormatJSON:
		events = delta.FromChunks(chunk.ParseJSON(src, chunkOptions(cfg)...))
	case provider.FormatJSONLines:
		events = delta.FromChunks(chunk.ParseJSONLines(src, chunkOptions(cfg)...))
	default:
		_ = raw.Close()
		mgr.Close()
		return nil, fmt.Errorf("provider %q declares unknown stream format %q", cfg.providerName, format)
	}

	norm := delta.NewNormalizer(mapper, delta.WithLogger(cfg.logger))
	return &Stream{
		mgr:    mgr,
		raw:    raw,
		norm:   norm,
		deltas: norm.Run(events),
		tools:  make(map[int]*provider.ToolCall),
	}, nil
}

func chunkOptions(cfg *callConfig) []chunk.Option {
	opts := []chunk.Option{chunk.WithLogger(cfg.logger)}
	if cfg.maxObjectSize > 0 {
		opts = append(opts, chunk.WithMaxObjectSize(cfg.maxObjectSize))
	}
	return opts
}

// openWithRetry opens the raw stream, retrying transient failures under the
// configured backoff policy. The last provider error surfaces when attempts
// run out.
func openWithRetry(mgr *cancel.Manager, sp provider.StreamingProvider, req *provider.Request, cfg *callConfig) (provider.RawStream, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := mgr.CheckCancellation(cancel.PhaseExecution); err != nil {
			return nil, err
		}

		raw, err := sp.OpenStream(mgr.Context(), req)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		d := retry.Decide(retry.Classify(err), attempt, cfg.backoff, retryAfterFrom(err))
		if !d.Retry {
			return nil, fmt.Errorf("opening stream: %w", lastErr)
		}

		cfg.logger.Info("retrying stream open",
			zap.Int("attempt", attempt),
			zap.Duration("delay", d.Delay),
			zap.String("reason", d.Reason))

		if err := retry.Wait(mgr.Context(), d.Delay); err != nil {
			if cerr := mgr.CheckCancellation(cancel.PhaseExecution); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
	}
}

func retryAfterFrom(err error) string {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return ""
}

// cancellableChunks threads the cancellation signal through the byte stream:
// each buffer is preceded by a poll, so a cancelled stream stops within one
// read.
func cancellableChunks(mgr *cancel.Manager, src iter.Seq2[[]byte, error]) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for buf, err := range src {
			if cerr := mgr.CheckCancellation(cancel.PhaseStreaming); cerr != nil {
				yield(nil, cerr)
				return
			}
			if !yield(buf, err) {
				return
			}
			if err != nil {
				return
			}
		}
		// Cleanup may have closed the source; the cancellation still has
		// to reach the consumer.
		if cerr := mgr.CheckCancellation(cancel.PhaseStreaming); cerr != nil {
			yield(nil, cerr)
		}
	}
}

// ID returns the stable stream id carried by every delta.
func (s *Stream) ID() string {
	return s.norm.ID()
}

// Deltas returns an iterator over the stream's increments. Iteration ends on
// the finished delta or on error; check Err after the loop.
func (s *Stream) Deltas() iter.Seq[delta.StreamDelta] {
	return func(yield func(delta.StreamDelta) bool) {
		for d, err := range s.deltas {
			if err != nil {
				s.err = err
				return
			}
			s.accumulate(d)
			if !yield(d) {
				return
			}
		}
	}
}

func (s *Stream) accumulate(d delta.StreamDelta) {
	s.text.WriteString(d.Delta)
	if tc := d.ToolCall; tc != nil {
		acc, ok := s.tools[tc.Index]
		if !ok {
			acc = &provider.ToolCall{}
			s.tools[tc.Index] = acc
		}
		if tc.ID != "" {
			acc.ID = tc.ID
		}
		if tc.Name != "" {
			acc.Name = tc.Name
		}
		acc.Arguments += tc.ArgumentsDelta
	}
	if d.Finished {
		s.finished = true
		if d.Usage != nil {
			s.usage = *d.Usage
		}
	}
}

// Err returns the error that ended the stream, if any. A cancellation
// surfaces as a *cancel.Error tagged with the phase it interrupted.
func (s *Stream) Err() error {
	return s.err
}

// Cancel aborts the stream with the given reason and runs cleanup.
func (s *Stream) Cancel(reason string) error {
	return s.mgr.Cancel(reason)
}

// Response assembles the accumulated response from the deltas consumed so
// far. It is complete once iteration has ended without error.
func (s *Stream) Response() *Response {
	finish := provider.FinishReasonStop
	if len(s.tools) > 0 {
		finish = provider.FinishReasonToolCalls
	}
	if s.err != nil || !s.finished {
		var cerr *cancel.Error
		if errors.As(s.err, &cerr) {
			finish = provider.FinishReasonCancelled
		}
	}

	indexes := make([]int, 0, len(s.tools))
	for i := range s.tools {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	calls := make([]provider.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		calls = append(calls, *s.tools[i])
	}

	return &Response{
		raw: &provider.Response{
			Content:      s.text.String(),
			ToolCalls:    calls,
			Usage:        s.usage,
			FinishReason: finish,
		},
	}
}

// Close releases the stream's resources. Safe to call multiple times.
func (s *Stream) Close() error {
	s.mgr.Close()
	return s.raw.Close()
}
