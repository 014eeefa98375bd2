package worker

import (
	"context"
	"log"
	"runtime"
	"sync"

	"github.com/ikuradondai/erudaite-desktop/src/ocr"
	"github.com/ikuradondai/erudaite-desktop/src/screenshot"
)

// ResultCallback is invoked on OCR completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(text string, err error)

// RecognizeFunc runs OCR over a captured region. Injectable for tests.
type RecognizeFunc func(region screenshot.Region, lang, enginePath string) (string, error)

// Pool is a fixed-size OCR worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	jobs      chan job
	recognize RecognizeFunc
	wg        sync.WaitGroup
}

type job struct {
	ctx        context.Context
	region     screenshot.Region
	lang       string
	enginePath string
	cb         ResultCallback
}

// New creates a worker pool. Size defaults to NumCPU when size<=0. Queue is 1 slot.
func New(size int) *Pool {
	return NewWithRecognize(size, ocr.RecognizeRegion)
}

// NewWithRecognize creates a pool with an injected recognizer.
func NewWithRecognize(size int, recognize RecognizeFunc) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{jobs: make(chan job, 1), recognize: recognize}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				log.Printf("Worker: starting OCR for region %dx%d", j.region.Width, j.region.Height)
				text, err := p.recognizeWithContext(j)
				log.Printf("Worker: OCR completed, text length=%d, err=%v", len(text), err)
				j.cb(text, err)
			}
		}()
	}
}

// Submit enqueues an OCR job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, region screenshot.Region, lang, enginePath string, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, region: region, lang: lang, enginePath: enginePath, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// recognizeWithContext honors a context deadline without making the OCR
// engine itself cancellation-aware.
func (p *Pool) recognizeWithContext(j job) (string, error) {
	if _, ok := j.ctx.Deadline(); !ok && j.ctx.Done() == nil {
		return p.recognize(j.region, j.lang, j.enginePath)
	}
	resCh := make(chan struct {
		text string
		err  error
	}, 1)
	go func() {
		text, err := p.recognize(j.region, j.lang, j.enginePath)
		resCh <- struct {
			text string
			err  error
		}{text, err}
	}()
	select {
	case r := <-resCh:
		return r.text, r.err
	case <-j.ctx.Done():
		// The underlying OCR keeps running in the background; report timeout.
		return "", j.ctx.Err()
	}
}
