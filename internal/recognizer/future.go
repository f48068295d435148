package recognizer

import "context"

// Future is the deferred outcome of RecognizeAsync. It resolves exactly
// once with what Recognize would have returned. A Future not obtained from
// RecognizeAsync never resolves and reports NotInitialized.
type Future struct {
	done chan struct{}
	res  Result
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res Result, err error) {
	f.res = res
	f.err = err
	close(f.done)
}

func (f *Future) started() bool { return f != nil && f.done != nil }

var errUnstartedFuture = &Error{Kind: KindNotInitialized, Message: "future was not started by RecognizeAsync"}

// Done is closed once the pass has finished. It is nil for an unstarted
// Future.
func (f *Future) Done() <-chan struct{} {
	if !f.started() {
		return nil
	}
	return f.done
}

// Wait blocks until the pass finishes or ctx is done. Giving up on the wait
// does not cancel the pass; its result buffer is still released by the
// worker.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	if !f.started() {
		return Result{}, errUnstartedFuture
	}
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result blocks until the pass finishes.
func (f *Future) Result() (Result, error) {
	if !f.started() {
		return Result{}, errUnstartedFuture
	}
	<-f.done
	return f.res, f.err
}

// Text blocks until the pass finishes and returns the decoded text.
func (f *Future) Text() (string, error) {
	res, err := f.Result()
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
