package inference

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// echoRunner scores action i of each observation with input[0]+i.
func echoRunner(size int) runFunc {
	return func(batch []float32, n int) ([]float32, error) {
		out := make([]float32, n*PolicySize)
		for b := 0; b < n; b++ {
			for a := 0; a < PolicySize; a++ {
				out[b*PolicySize+a] = batch[b*size] + float32(a)
			}
		}
		return out, nil
	}
}

func testConfig() OnnxClientConfig {
	return OnnxClientConfig{Width: 2, Height: 2, Frames: 1, BatchSize: 8, BatchTimeout: time.Millisecond}
}

func TestClient_BatchesConcurrentRequests(t *testing.T) {
	cfg := testConfig()
	c := newClient(cfg, echoRunner(cfg.inputSize()), nil)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := make([]float32, cfg.inputSize())
			in[0] = float32(i)
			out, err := c.Predict(in)
			if err != nil {
				errs <- err
				return
			}
			if out[0] != float32(i) || out[3] != float32(i+3) {
				errs <- errors.New("response routed to wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	st := c.Stats()
	if st.TotalItems != 32 {
		t.Fatalf("items=%d want 32", st.TotalItems)
	}
	if st.TotalBatches == 0 || st.AvgBatchSize <= 0 {
		t.Fatalf("stats not recorded: %+v", st)
	}
	t.Logf("stats: %+v", st)
}

func TestClient_WrongInputSize(t *testing.T) {
	cfg := testConfig()
	c := newClient(cfg, echoRunner(cfg.inputSize()), nil)
	defer c.Close()
	if _, err := c.Predict(make([]float32, 3)); err == nil {
		t.Fatalf("short input accepted")
	}
}

func TestClient_RunErrorFailsBatch(t *testing.T) {
	boom := errors.New("boom")
	c := newClient(testConfig(), func([]float32, int) ([]float32, error) { return nil, boom }, nil)
	defer c.Close()
	if _, err := c.Predict(make([]float32, 4)); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestClient_Close(t *testing.T) {
	destroyed := 0
	c := newClient(testConfig(), echoRunner(4), func() error { destroyed++; return nil })
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if destroyed != 1 {
		t.Fatalf("destroyed %d times", destroyed)
	}
	if _, err := c.Predict(make([]float32, 4)); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestPool_RoundRobinAndStats(t *testing.T) {
	cfg := testConfig()
	p := &OnnxPool{clients: []*OnnxClient{
		newClient(cfg, echoRunner(4), nil),
		newClient(cfg, echoRunner(4), nil),
	}}
	defer p.Close()

	for i := 0; i < 6; i++ {
		if _, err := p.Predict(make([]float32, 4)); err != nil {
			t.Fatal(err)
		}
	}
	for i, c := range p.clients {
		if got := c.Stats().TotalItems; got != 3 {
			t.Fatalf("client %d handled %d items want 3", i, got)
		}
	}
	if got := p.Stats().TotalItems; got != 6 {
		t.Fatalf("pool items=%d want 6", got)
	}
}

func TestMergeLibraryPath(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")

	got := mergeLibraryPath("/usr/lib", []string{dir, missing, dir})
	if got != dir+":/usr/lib" {
		t.Fatalf("got %q", got)
	}
	if got := mergeLibraryPath(dir, []string{dir}); got != dir {
		t.Fatalf("duplicate added: %q", got)
	}
}

func TestNewOnnxClient_Model(t *testing.T) {
	modelPath := os.Getenv("SNAKE_TEST_ONNX_MODEL")
	if modelPath == "" {
		t.Skip("SNAKE_TEST_ONNX_MODEL not set; skipping")
	}
	c, err := NewOnnxClient(modelPath, OnnxClientConfig{Width: 50, Height: 50, Frames: 4})
	if err != nil {
		if strings.Contains(err.Error(), "onnxruntime") {
			t.Skipf("onnxruntime unavailable: %v", err)
		}
		t.Fatal(err)
	}
	defer c.Close()

	out, err := c.Predict(make([]float32, 50*50*4))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != PolicySize {
		t.Fatalf("got %d scores", len(out))
	}
}

func TestNewOnnxClient_MissingModel(t *testing.T) {
	_, err := NewOnnxClient(filepath.Join(t.TempDir(), "nope.onnx"), OnnxClientConfig{Width: 5, Height: 6, Frames: 1})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want not exist", err)
	}
}
