// Package inference runs a trained policy network through ONNX Runtime.
//
// The model takes one input named "input" shaped [batch, width, height, frames]
// and produces one output named "policy" shaped [batch, 4], one score per
// action in Up, Down, Left, Right order.
package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const PolicySize = 4

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClosed = errors.New("onnx client closed")

type OnnxClientConfig struct {
	// Observation shape the model expects, excluding the batch dimension.
	Width, Height, Frames int

	BatchSize    int
	BatchTimeout time.Duration
	UseCUDA      bool
	Logger       *zerolog.Logger
}

func (c OnnxClientConfig) inputSize() int { return c.Width * c.Height * c.Frames }

func (c OnnxClientConfig) withDefaults() OnnxClientConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}

// RuntimeStats summarizes batching behaviour since the client started.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	err    error
}

// runFunc evaluates n stacked observations and returns n*PolicySize scores.
type runFunc func(batch []float32, n int) ([]float32, error)

// OnnxClient batches Predict calls from many goroutines into single session runs.
type OnnxClient struct {
	cfg          OnnxClientConfig
	run          runFunc
	destroy      func() error
	requestsChan chan inferenceRequest
	done         chan struct{}
	closeOnce    sync.Once
	loopDone     chan struct{}

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func NewOnnxClient(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	cfg = cfg.withDefaults()
	if cfg.inputSize() <= 0 {
		return nil, fmt.Errorf("invalid observation shape %dx%dx%d", cfg.Width, cfg.Height, cfg.Frames)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}

	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := sharedLibraryPath(); p != "" {
			ort.SetSharedLibraryPath(p)
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	// Workers already run in parallel.
	_ = options.SetIntraOpNumThreads(1)
	_ = options.SetInterOpNumThreads(1)

	if cfg.UseCUDA {
		appendCUDA(options, cfg.Logger)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy"}, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	c := newClient(cfg, sessionRunner(session, cfg), session.Destroy)
	cfg.Logger.Info().
		Str("model", modelPath).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("onnx session ready")
	return c, nil
}

func newClient(cfg OnnxClientConfig, run runFunc, destroy func() error) *OnnxClient {
	cfg = cfg.withDefaults()
	c := &OnnxClient{
		cfg:          cfg,
		run:          run,
		destroy:      destroy,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	go c.batchLoop()
	return c
}

func appendCUDA(options *ort.SessionOptions, log *zerolog.Logger) {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		log.Warn().Err(err).Msg("cuda options unavailable, using cpu")
		return
	}
	defer cudaOptions.Destroy()
	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		log.Warn().Err(err).Msg("cuda provider rejected, using cpu")
		return
	}
	log.Info().Msg("cuda provider enabled")
}

func sessionRunner(session *ort.DynamicAdvancedSession, cfg OnnxClientConfig) runFunc {
	return func(batch []float32, n int) ([]float32, error) {
		inputShape := ort.NewShape(int64(n), int64(cfg.Width), int64(cfg.Height), int64(cfg.Frames))
		inputTensor, err := ort.NewTensor(inputShape, batch)
		if err != nil {
			return nil, fmt.Errorf("input tensor: %w", err)
		}
		defer inputTensor.Destroy()

		policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), PolicySize))
		if err != nil {
			return nil, fmt.Errorf("policy tensor: %w", err)
		}
		defer policyTensor.Destroy()

		if err := session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor}); err != nil {
			return nil, fmt.Errorf("run session: %w", err)
		}

		out := make([]float32, n*PolicySize)
		copy(out, policyTensor.GetData())
		return out, nil
	}
}

// sharedLibraryPath prefers ORT_SHARED_LIBRARY_PATH, then a library next to
// the working directory.
func sharedLibraryPath() string {
	if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	return ""
}

// ensureLinuxLibraryPath adds CUDA libraries installed into a local .venv to
// LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	if v := mergeLibraryPath(existing, candidateDirs); v != existing {
		_ = os.Setenv("LD_LIBRARY_PATH", v)
	}
}

// mergeLibraryPath prepends the existing directories in dirs that the path
// list does not already contain.
func mergeLibraryPath(existing string, dirs []string) string {
	seen := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			seen[p] = true
		}
	}

	toAdd := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if seen[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			seen[d] = true
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return existing
	}

	merged := strings.Join(toAdd, ":")
	if existing != "" {
		merged += ":" + existing
	}
	return merged
}

// Close stops the batching loop and releases the session. Pending requests
// fail with ErrClosed.
func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		if c.destroy != nil {
			err = c.destroy()
		}
	})
	return err
}

// Predict scores one observation. It blocks until the batch holding it runs.
func (c *OnnxClient) Predict(input []float32) ([]float32, error) {
	if len(input) != c.cfg.inputSize() {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), c.cfg.inputSize())
	}

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: input, respChan: respChan}:
	case <-c.done:
		return nil, ErrClosed
	}

	select {
	case resp := <-respChan:
		return resp.policy, resp.err
	case <-c.loopDone:
		select {
		case resp := <-respChan:
			return resp.policy, resp.err
		default:
			return nil, ErrClosed
		}
	}
}

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.batches.Load()
	items := c.items.Load()
	runNanos := c.runNanos.Load()

	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.last.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

func (c *OnnxClient) batchLoop() {
	defer close(c.loopDone)

	batchInput := make([]float32, 0, c.cfg.BatchSize*c.cfg.inputSize())
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	flush := func() {
		if len(requests) == 0 {
			return
		}
		c.runBatch(requests, batchInput)
		requests = requests[:0]
		batchInput = batchInput[:0]
	}

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			c.failBatch(requests, ErrClosed)
			for {
				select {
				case req := <-c.requestsChan:
					req.respChan <- inferenceResponse{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	n := len(requests)
	start := time.Now()
	out, err := c.run(batchInput, n)
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.batches.Add(1)
	c.items.Add(int64(n))
	c.last.Store(int64(n))

	if err == nil && len(out) < n*PolicySize {
		err = fmt.Errorf("model returned %d scores for batch of %d", len(out), n)
	}
	if err != nil {
		c.failBatch(requests, err)
		return
	}

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, out[i*PolicySize:(i+1)*PolicySize])
		req.respChan <- inferenceResponse{policy: policy}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
