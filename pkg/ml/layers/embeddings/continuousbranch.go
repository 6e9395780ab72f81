// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gopjrt/dtypes"
)

// continuousBranch selects the continuous columns of the raw input, normalizes them and optionally
// embeds them.
type continuousBranch struct {
	names     []string
	positions []int
	norm      Normalization
	embed     *ContinuousEmbedding // nil if not embedded.
}

func (b *continuousBranch) numColumns() int { return len(b.positions) }

// width of the flattened output.
func (b *continuousBranch) width() int {
	if b.embed != nil {
		return b.numColumns() * b.embed.Dim()
	}
	return b.numColumns()
}

func (b *continuousBranch) numParams() int {
	var n int
	if b.norm != NormNone {
		// Learned gain and offset per column.
		n += 2 * b.numColumns()
	}
	if b.embed != nil {
		n += b.embed.NumParams()
	}
	return n
}

// apply returns `[batchSize, numColumns]` if not embedded, or `[batchSize, numColumns, dim]` otherwise.
func (b *continuousBranch) apply(ctx *context.Context, x *Node) *Node {
	checkRawInput(x, b.positions)
	cont := gatherColumns(x, b.positions)
	if !cont.DType().IsFloat() {
		cont = ConvertDType(cont, dtypes.Float32)
	}
	cont = normalize(ctx.In("cont_norm"), cont, b.norm)
	if b.embed != nil {
		cont = b.embed.Apply(ctx.In("cont_embed"), cont)
	}
	return cont
}

// normalize applies the normalization to x, shaped `[batchSize, numColumns]`.
func normalize(ctx *context.Context, x *Node, norm Normalization) *Node {
	switch norm {
	case NormLayer:
		return layers.LayerNormalization(ctx, x, -1).Done()
	case NormBatch:
		return batchnorm.New(ctx, x, -1).Done()
	default:
		return x
	}
}
