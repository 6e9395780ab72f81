// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// SharedOptions configures a SharedEmbedding.
type SharedOptions struct {
	// Dropout rate applied to the looked up embedding, before the shared vector is combined.
	Dropout float64

	// DropoutKind selects elementwise or full-row dropout.
	DropoutKind DropoutKind

	// Mode selects whether the shared vector is added to or overwrites part of the embedding.
	Mode SharedMode

	// FracShared is the fraction of the embedding overwritten by the shared vector in SharedOverwrite mode,
	// it must be in (0, 1). It is ignored in SharedAdd mode, but values >= 1 are still rejected.
	FracShared float64
}

// SharedEmbedding is an embedding table of one categorical column combined with a "shared" vector,
// common to all codes of the column. It lets the model learn what is common to the column, as opposed
// to what is specific to each value.
//
// The table is shaped `[vocabSize, dim]` and row 0 (padding) is initialized to zero.
type SharedEmbedding struct {
	vocabSize, dim, sharedDim int
	opts                      SharedOptions
}

// NewSharedEmbedding validates the configuration and returns a SharedEmbedding.
// vocabSize includes the padding code 0, so it is typically cardinality+1.
func NewSharedEmbedding(vocabSize, dim int, opts SharedOptions) (*SharedEmbedding, error) {
	if vocabSize < 1 {
		return nil, errors.Errorf("shared embedding requires vocabSize >= 1, got %d", vocabSize)
	}
	if dim <= 0 {
		return nil, errors.Errorf("shared embedding requires dim > 0, got %d", dim)
	}
	if err := ValidateProbability("shared embedding dropout", opts.Dropout); err != nil {
		return nil, err
	}
	if opts.FracShared >= 1 {
		return nil, errors.Errorf("shared embedding fraction (FracShared) of %g would make all of the embedding shared, "+
			"it must be < 1", opts.FracShared)
	}
	if opts.FracShared < 0 || (opts.Mode == SharedOverwrite && opts.FracShared == 0) {
		return nil, errors.Errorf("shared embedding fraction (FracShared) must be in (0, 1) for mode %s, got %g",
			opts.Mode, opts.FracShared)
	}
	e := &SharedEmbedding{vocabSize: vocabSize, dim: dim, opts: opts}
	switch opts.Mode {
	case SharedAdd:
		e.sharedDim = dim
	case SharedOverwrite:
		e.sharedDim = int(float64(dim) * opts.FracShared)
	default:
		return nil, errors.Errorf("invalid shared embedding mode %s", opts.Mode)
	}
	return e, nil
}

// Dim returns the width of the output embedding.
func (e *SharedEmbedding) Dim() int { return e.dim }

// VocabSize returns the number of rows of the table, including the padding row.
func (e *SharedEmbedding) VocabSize() int { return e.vocabSize }

// SharedDim returns the width of the shared vector: dim for SharedAdd, int(dim*FracShared) for SharedOverwrite.
func (e *SharedEmbedding) SharedDim() int { return e.sharedDim }

// NumParams returns the number of learned parameters of the table, not including the shared vector.
func (e *SharedEmbedding) NumParams() int { return e.vocabSize * e.dim }

// SharedVariable creates (or reuses) the shared vector variable named "shared_embed" in the current
// scope of ctx, shaped `[SharedDim()]` and initialized with U(-1, 1).
//
// It returns nil if SharedDim() is 0.
func (e *SharedEmbedding) SharedVariable(ctx *context.Context, g *Graph, dtype dtypes.DType) *Node {
	return sharedVariable(ctx, g, dtype, e.sharedDim)
}

func sharedVariable(ctx *context.Context, g *Graph, dtype dtypes.DType, sharedDim int) *Node {
	if sharedDim == 0 {
		return nil
	}
	ctx = ctx.WithInitializer(uniformInitializer(ctx, 1.0))
	return ctx.VariableWithShape("shared_embed", shapes.Make(dtype, sharedDim)).ValueGraph(g)
}

// Apply looks up codes, shaped `[batchSize]` or `[batchSize, 1]`, returning `[batchSize, dim]`.
//
// The table is the variable "embed" in the current scope of ctx.
// If shared is nil, the shared vector is the variable created by SharedVariable in the same scope.
// Otherwise, shared must be shaped `[SharedDim()]`, and it is typically owned by the caller.
//
// The dtype of the embeddings is taken from shared if given, otherwise from codes if it is a float,
// otherwise it defaults to Float32. Codes are converted to Int32.
func (e *SharedEmbedding) Apply(ctx *context.Context, codes, shared *Node) *Node {
	g := codes.Graph()
	dtype := dtypes.Float32
	if shared != nil {
		dtype = shared.DType()
	} else if codes.DType().IsFloat() {
		dtype = codes.DType()
	}
	output := lookup(ctx, codes, "embed", e.vocabSize, e.dim, dtype, sharedTableClip)
	output = Dropout(ctx, output, e.opts.Dropout, e.opts.DropoutKind)
	if e.sharedDim == 0 {
		return output
	}
	if shared == nil {
		shared = e.SharedVariable(ctx, g, dtype)
	}
	if shared.Rank() != 1 || shared.Shape().Dimensions[0] != e.sharedDim {
		exceptions.Panicf("shared embedding vector must be shaped [%d], got %s", e.sharedDim, shared.Shape())
	}
	batchSize := output.Shape().Dimensions[0]
	shared = BroadcastToDims(InsertAxes(shared, 0), batchSize, e.sharedDim)
	if e.opts.Mode == SharedAdd {
		return Add(output, shared)
	}
	return Concatenate([]*Node{shared, Slice(output, AxisRange(), AxisRange(e.sharedDim))}, -1)
}

// sharedTableClip is the range the initial values of a SharedEmbedding table are clipped to.
const sharedTableClip = 2.0

// lookup creates (or reuses) the table variable `[vocabSize, dim]` and gathers the rows given by codes,
// shaped `[batchSize]` or `[batchSize, 1]`. It returns `[batchSize, dim]`.
// If clip > 0 the initial values of the table are clipped to [-clip, clip].
func lookup(ctx *context.Context, codes *Node, name string, vocabSize, dim int, dtype dtypes.DType, clip float64) *Node {
	g := codes.Graph()
	switch {
	case codes.Rank() == 1:
		codes = InsertAxes(codes, -1)
	case codes.Rank() == 2 && codes.Shape().Dimensions[1] == 1:
	default:
		exceptions.Panicf("embedding lookup expects codes shaped [batchSize] or [batchSize, 1], got %s", codes.Shape())
	}
	if codes.DType() != dtypes.Int32 {
		codes = ConvertDType(codes, dtypes.Int32)
	}
	ctx = ctx.WithInitializer(paddedTableInitializer(ctx, clip))
	table := ctx.VariableWithShape(name, shapes.Make(dtype, vocabSize, dim)).ValueGraph(g)
	return Gather(table, codes)
}
