// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ContinuousOptions configures a ContinuousEmbedding.
type ContinuousOptions struct {
	// Dropout rate applied (elementwise) to the embeddings, in [0, 1].
	Dropout float64

	// UseBias adds a learned per-column bias to each embedding.
	UseBias bool

	// Activation applied after the bias. One of ValidActivations.
	Activation activations.Type
}

// ContinuousEmbedding maps each of C continuous values to a D-dimensional vector:
//
//	y[n, c, :] = activation(x[n, c] * weights[c, :] + biases[c, :])
//
// followed by dropout.
type ContinuousEmbedding struct {
	numColumns, dim int
	opts            ContinuousOptions
}

// NewContinuousEmbedding validates the configuration and returns a ContinuousEmbedding for numColumns
// columns, each embedded with width dim.
func NewContinuousEmbedding(numColumns, dim int, opts ContinuousOptions) (*ContinuousEmbedding, error) {
	if numColumns <= 0 {
		return nil, errors.Errorf("continuous embedding requires numColumns > 0, got %d", numColumns)
	}
	if dim <= 0 {
		return nil, errors.Errorf("continuous embedding requires dim > 0, got %d", dim)
	}
	if err := ValidateProbability("continuous embedding dropout", opts.Dropout); err != nil {
		return nil, err
	}
	if err := ValidateActivation(opts.Activation); err != nil {
		return nil, err
	}
	return &ContinuousEmbedding{numColumns: numColumns, dim: dim, opts: opts}, nil
}

// NumColumns returns the number of continuous columns embedded.
func (e *ContinuousEmbedding) NumColumns() int { return e.numColumns }

// Dim returns the embedding width of each column.
func (e *ContinuousEmbedding) Dim() int { return e.dim }

// NumParams returns the number of learned parameters.
func (e *ContinuousEmbedding) NumParams() int {
	n := e.numColumns * e.dim
	if e.opts.UseBias {
		n *= 2
	}
	return n
}

// Apply embeds x, shaped `[batchSize, numColumns]`, returning `[batchSize, numColumns, dim]`.
// The variables "weights" and (if UseBias) "biases" are created in the current scope of ctx.
func (e *ContinuousEmbedding) Apply(ctx *context.Context, x *Node) *Node {
	if x.Rank() != 2 || x.Shape().Dimensions[1] != e.numColumns {
		exceptions.Panicf("continuous embedding expects input shaped [batchSize, %d], got %s", e.numColumns, x.Shape())
	}
	if !x.DType().IsFloat() {
		exceptions.Panicf("continuous embedding expects float input, got %s", x.Shape())
	}
	g := x.Graph()
	dtype := x.DType()
	batchSize := x.Shape().Dimensions[0]
	bound := kaimingBound(e.dim)
	ctx = ctx.WithInitializer(uniformInitializer(ctx, bound))

	weightsVar := ctx.VariableWithShape("weights", shapes.Make(dtype, e.numColumns, e.dim))
	weights := InsertAxes(weightsVar.ValueGraph(g), 0) // [1, C, D]
	values := InsertAxes(x, -1)                        // [N, C, 1]
	output := Mul(
		BroadcastToDims(values, batchSize, e.numColumns, e.dim),
		BroadcastToDims(weights, batchSize, e.numColumns, e.dim))
	if e.opts.UseBias {
		biasesVar := ctx.VariableWithShape("biases", shapes.Make(dtype, e.numColumns, e.dim))
		biases := InsertAxes(biasesVar.ValueGraph(g), 0)
		output = Add(output, BroadcastToDims(biases, batchSize, e.numColumns, e.dim))
	}
	if e.opts.Activation != activations.TypeNone {
		output = activations.Apply(e.opts.Activation, output)
	}
	return Dropout(ctx, output, e.opts.Dropout, DropoutElementwise)
}
