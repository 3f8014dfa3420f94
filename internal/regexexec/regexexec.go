// Package regexexec evaluates user supplied patterns off the dispatcher
// goroutines with a hard deadline, memoizing recent results.
package regexexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildkeeper/internal/metrics"

	"github.com/dlclark/regexp2"
	"github.com/gammazero/workerpool"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrTimeout = errors.New("regex evaluation timed out")

var errMatchTimeout = errors.New("match timeout")

type Config struct {
	Workers        int
	DefaultTimeout time.Duration
	MemoSize       int
	MemoTTL        time.Duration
}

// Result of one search. Groups holds the capture groups of the first
// match, Groups[0] being the whole match.
type Result struct {
	Matches []string
	Groups  []string
}

func (r Result) Matched() bool { return len(r.Matches) > 0 }

type compiledKey struct {
	pattern string
	timeout time.Duration
}

type Executor struct {
	pool     *workerpool.WorkerPool
	memo     *expirable.LRU[string, Result]
	compiled *lru.Cache[compiledKey, *regexp2.Regexp]
	flight   singleflight.Group
	timeout  time.Duration
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Second
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = 4096
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = 2 * time.Minute
	}
	compiled, _ := lru.New[compiledKey, *regexp2.Regexp](1024)
	return &Executor{
		pool:     workerpool.New(cfg.Workers),
		memo:     expirable.NewLRU[string, Result](cfg.MemoSize, nil, cfg.MemoTTL),
		compiled: compiled,
		timeout:  cfg.DefaultTimeout,
		logger:   logger.Named("regexexec"),
	}
}

func (e *Executor) DefaultTimeout() time.Duration { return e.timeout }

func memoKey(pattern, content string) string {
	return fmt.Sprintf("%x:%x:%d", murmur3.Sum64([]byte(pattern)), murmur3.Sum64([]byte(content)), len(content))
}

// Search runs pattern against content on the worker pool. A zero timeout
// uses the executor default. Concurrent identical searches share one
// evaluation and successful results are memoized.
func (e *Executor) Search(ctx context.Context, pattern, content string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	key := memoKey(pattern, content)
	if res, ok := e.memo.Get(key); ok {
		metrics.RegexEvaluations.WithLabelValues("memo").Inc()
		return res, nil
	}

	value, err, _ := e.flight.Do(key, func() (interface{}, error) {
		res, err := e.submit(ctx, pattern, content, timeout)
		if err == nil {
			e.memo.Add(key, res)
		}
		return res, err
	})
	if err != nil {
		return Result{}, err
	}
	return value.(Result), nil
}

// SearchInline evaluates on the calling goroutine without the memo. Used
// by guilds running in bypass mode, where the regex deadline still holds.
func (e *Executor) SearchInline(pattern, content string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	return e.evaluate(pattern, content, timeout)
}

type outcome struct {
	res Result
	err error
}

func (e *Executor) submit(ctx context.Context, pattern, content string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+50*time.Millisecond)
	defer cancel()

	done := make(chan outcome, 1)
	e.pool.Submit(func() {
		if ctx.Err() != nil {
			done <- outcome{err: ErrTimeout}
			return
		}
		res, err := e.evaluate(pattern, content, timeout)
		done <- outcome{res: res, err: err}
	})

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		// the worker is released by the regex match timeout
		metrics.RegexEvaluations.WithLabelValues("timeout").Inc()
		e.logger.Debug("regex abandoned", zap.Duration("timeout", timeout), zap.Int("queued", e.pool.WaitingQueueSize()))
		return Result{}, ErrTimeout
	}
}

func (e *Executor) evaluate(pattern, content string, timeout time.Duration) (Result, error) {
	start := time.Now()
	defer func() { metrics.RegexDuration.Observe(time.Since(start).Seconds()) }()

	re, err := e.compile(pattern, timeout)
	if err != nil {
		metrics.RegexEvaluations.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	var res Result
	match, err := re.FindStringMatch(content)
	err = matchError(err, start, timeout)
	for err == nil && match != nil {
		if res.Groups == nil {
			for _, group := range match.Groups() {
				res.Groups = append(res.Groups, group.String())
			}
		}
		res.Matches = append(res.Matches, match.String())
		if time.Since(start) > timeout {
			err = errMatchTimeout
			break
		}
		match, err = re.FindNextMatch(match)
		err = matchError(err, start, timeout)
	}
	if err != nil {
		if errors.Is(err, errMatchTimeout) {
			metrics.RegexEvaluations.WithLabelValues("timeout").Inc()
			return Result{}, ErrTimeout
		}
		return Result{}, err
	}
	if res.Matched() {
		metrics.RegexEvaluations.WithLabelValues("match").Inc()
	} else {
		metrics.RegexEvaluations.WithLabelValues("miss").Inc()
	}
	return res, nil
}

// matchError maps a regexp2 failure raised once the budget is spent to
// errMatchTimeout.
func matchError(err error, start time.Time, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if time.Since(start) >= timeout {
		return fmt.Errorf("%w: %v", errMatchTimeout, err)
	}
	return err
}

func (e *Executor) compile(pattern string, timeout time.Duration) (*regexp2.Regexp, error) {
	key := compiledKey{pattern: pattern, timeout: timeout}
	if re, ok := e.compiled.Get(key); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = timeout
	e.compiled.Add(key, re)
	return re, nil
}

// Close stops the worker pool without waiting for queued evaluations.
func (e *Executor) Close() {
	e.pool.Stop()
}
