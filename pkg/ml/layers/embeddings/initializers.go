// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// initFn is the signature of the context variable initializers.
type initFn = func(g *Graph, shape shapes.Shape) *Node

// uniformInitializer returns an initializer that samples from U(-bound, bound) using the context
// random number generator.
func uniformInitializer(ctx *context.Context, bound float64) initFn {
	return func(g *Graph, shape shapes.Shape) *Node {
		return AddScalar(MulScalar(ctx.RandomUniform(g, shape), 2*bound), -bound)
	}
}

// kaimingBound is the bound of the uniform initialization used for a `[rows, fanIn]` weight matrix:
// it matches He uniform initialization with a leaky-relu slope of sqrt(5), which simplifies to 1/sqrt(fanIn).
func kaimingBound(fanIn int) float64 {
	if fanIn <= 0 {
		return 0
	}
	return 1.0 / math.Sqrt(float64(fanIn))
}

// paddedTableInitializer returns an initializer for embedding tables shaped `[vocabSize, dim]`: values
// are sampled from N(0,1), optionally clipped to [-clip, clip] (if clip > 0), and the first row,
// reserved for padding, is set to zero.
func paddedTableInitializer(ctx *context.Context, clip float64) initFn {
	return func(g *Graph, shape shapes.Shape) *Node {
		values := ctx.RandomNormal(g, shape)
		if clip > 0 {
			values = ClipScalar(values, -clip, clip)
		}
		return zeroFirstRow(values)
	}
}

// zeroFirstRow sets the row 0 (of axis 0) to zero.
func zeroFirstRow(table *Node) *Node {
	if table.Shape().Dimensions[0] <= 1 {
		return ZerosLike(table)
	}
	dims := table.Shape().Clone().Dimensions
	dims[0] = 1
	padding := Zeros(table.Graph(), shapes.Make(table.DType(), dims...))
	return Concatenate([]*Node{padding, Slice(table, AxisRange(1))}, 0)
}
