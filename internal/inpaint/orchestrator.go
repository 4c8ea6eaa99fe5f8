// Package inpaint runs the external image-completion call for a session as a
// detached background job.
package inpaint

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duet-canvas/internal/engine"
	"github.com/DoyleJ11/duet-canvas/internal/metrics"
)

type Result struct {
	Payload string // base64 image, empty on failure
	Err     error
}

// Job is the retained handle of one background completion.
type Job struct {
	done   chan struct{}
	result Result
}

func (j *Job) Done() <-chan struct{} { return j.done }

// Result is valid once Done is closed.
func (j *Job) Result() Result {
	<-j.done
	return j.result
}

type Orchestrator struct {
	client  Client
	timeout time.Duration
	size    int
	log     *zap.Logger
}

func NewOrchestrator(client Client, timeout time.Duration, size int, log *zap.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if size <= 0 {
		size = 512
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{client: client, timeout: timeout, size: size, log: log}
}

// Launch starts the job and returns immediately. The job ignores
// cancellation of ctx and ends only on completion or its own deadline;
// onDone runs on the job goroutine after the result is recorded.
func (o *Orchestrator) Launch(ctx context.Context, req engine.InpaintRequest, onDone func(Result)) *Job {
	job := &Job{done: make(chan struct{})}
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)

	go func() {
		defer cancel()
		start := time.Now()
		o.log.Info("inpainting started", zap.String("complete", string(req.Complete)))

		res := o.run(jobCtx, req)

		outcome := "done"
		if res.Err != nil {
			outcome = "failed"
			o.log.Warn("inpainting failed", zap.Error(res.Err), zap.Duration("elapsed", time.Since(start)))
		} else {
			o.log.Info("inpainting complete", zap.Duration("elapsed", time.Since(start)))
		}
		metrics.ObserveInpaint(outcome, time.Since(start))

		job.result = res
		close(job.done)
		if onDone != nil {
			onDone(res)
		}
	}()
	return job
}

func (o *Orchestrator) run(ctx context.Context, req engine.InpaintRequest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("inpainting panicked: %v", r)}
		}
	}()

	img, mask, err := Prepare(req.Canvas, req.Complete, o.size)
	if err != nil {
		return Result{Err: err}
	}
	out, err := o.client.Inpaint(ctx, Request{Prompt: req.Prompt, Image: img, Mask: mask})
	if err != nil {
		return Result{Err: err}
	}
	return Result{Payload: base64.StdEncoding.EncodeToString(out)}
}
