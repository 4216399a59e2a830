//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/academiaos/academiaos/pkg/utils"
)

// onnxBatchRows is the number of fragments run through the model at once.
const onnxBatchRows = 16

var (
	onnxInputs  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputs = []string{"output"}
)

// ONNXEmbedder runs a local sentence-embedding model (all-MiniLM style, with
// pooling baked into the graph) through ONNX Runtime. Evidence fragments are
// embedded in row batches. It requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// NewONNXEmbedder loads the model at modelPath. Caching is left to CachedEmbedder.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx embedder: model path is empty")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder: dimensions must be positive, got %d", dimensions)
	}
	if maxTokens <= 2 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, onnxInputs, onnxOutputs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed embeds a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in batches of onnxBatchRows. The context is checked
// between batches.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += onnxBatchRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+onnxBatchRows, len(texts))
		rows, err := e.run(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("onnx batch %d-%d: %w", start, end, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (e *ONNXEmbedder) run(texts []string) ([][]float32, error) {
	n, width := len(texts), e.maxTokens
	ids := make([]int64, n*width)
	mask := make([]int64, n*width)
	types := make([]int64, n*width)
	for i, text := range texts {
		rowIDs, rowMask, rowTypes := e.tokenizer.Tokenize(text, width)
		copy(ids[i*width:], rowIDs)
		copy(mask[i*width:], rowMask)
		copy(types[i*width:], rowTypes)
	}

	shape := ort.NewShape(int64(n), int64(width))
	var tensors []ort.ArbitraryTensor
	defer func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
	}()
	inputs := make([]ort.ArbitraryTensor, 0, len(onnxInputs))
	for _, data := range [][]int64{ids, mask, types} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		tensors = append(tensors, t)
		inputs = append(inputs, t)
	}
	output, err := ort.NewTensor(ort.NewShape(int64(n), int64(e.dimensions)), make([]float32, n*e.dimensions))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tensors = append(tensors, output)

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("onnx embedder is closed")
	}
	err = e.session.Run(inputs, []ort.ArbitraryTensor{output})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	flat := output.GetData()
	rows := make([][]float32, n)
	for i := range rows {
		row := make([]float32, e.dimensions)
		copy(row, flat[i*e.dimensions:(i+1)*e.dimensions])
		utils.NormalizeL2(row)
		rows[i] = row
	}
	return rows, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session. Later calls fail.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
