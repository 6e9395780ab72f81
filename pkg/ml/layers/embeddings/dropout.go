// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/pkg/errors"
)

// ValidateProbability returns an error if p is not a valid probability in [0, 1].
func ValidateProbability(name string, p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return errors.Errorf("%s must be a probability in [0, 1], got %g", name, p)
	}
	return nil
}

// Dropout applies dropout of the given kind to x, with drop probability p.
//
// It is a no-op if not training or if p <= 0. When training with p >= 1 it returns all zeros.
// Kept values are scaled by 1/(1-p), so the expected value of the output matches the input.
//
// For DropoutFullRow, x is assumed shaped `[batchSize, ...]` and each example is either fully kept
// or fully zeroed.
func Dropout(ctx *context.Context, x *Node, p float64, kind DropoutKind) *Node {
	g := x.Graph()
	if p <= 0 || !ctx.IsTraining(g) {
		return x
	}
	if p >= 1 {
		return ZerosLike(x)
	}
	switch kind {
	case DropoutFullRow:
		return fullRowDropout(ctx, x, p)
	default:
		return layers.DropoutStatic(ctx, x, p)
	}
}

// fullRowDropout draws one Bernoulli(1-p) value per example, and broadcasts it to the whole example.
func fullRowDropout(ctx *context.Context, x *Node, p float64) *Node {
	g := x.Graph()
	maskShape := x.Shape().Clone()
	for axis := 1; axis < maskShape.Rank(); axis++ {
		maskShape.Dimensions[axis] = 1
	}
	keep := ctx.RandomBernoulli(Scalar(g, x.DType(), 1-p), maskShape)
	keep = BroadcastToDims(keep, x.Shape().Dimensions...)
	return DivScalar(Mul(x, keep), 1-p)
}
