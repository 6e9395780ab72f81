// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FixedWidthOptions configures a FixedWidthCategorical.
type FixedWidthOptions struct {
	// Dim is the embedding width of every column.
	Dim int

	// Dropout rate and kind applied to the embeddings.
	Dropout     float64
	DropoutKind DropoutKind

	// Shared selects one SharedEmbedding per column. Otherwise, all columns are looked up in one
	// merged table.
	Shared bool

	// SharedMode and FracShared configure the SharedEmbedding of each column, if Shared is set.
	SharedMode SharedMode
	FracShared float64

	// SharedAcrossColumns makes all columns use the same shared vector, if Shared is set.
	SharedAcrossColumns bool

	// UseBias adds a learned bias per column to the merged table embeddings.
	// It is not supported with Shared, in which case it is ignored and a warning is logged.
	UseBias bool

	// OffsetCodes offsets the codes of each column into the merged table: a code c > 0 of the i-th column
	// is mapped to c plus the sum of the cardinalities of the previous columns, and 0 is kept as padding.
	// If false, codes are expected to be already offset.
	OffsetCodes bool
}

// FixedWidthCategorical embeds every categorical column with the same width Dim, returning a
// `[batchSize, numColumns, Dim]` tensor.
type FixedWidthCategorical struct {
	columns   []CategoricalColumn
	positions []int
	opts      FixedWidthOptions

	// Shared mode: one SharedEmbedding per column, and for each column the index of its shared vector.
	shared     []*SharedEmbedding
	sharedRefs []int
	sharedKeys []string

	// Merged table mode.
	numTokens int
	offsets   []int32
}

// NewFixedWidthCategorical validates the configuration and returns the embedder.
func NewFixedWidthCategorical(columnIndex ColumnIndex, columns []CategoricalColumn, opts FixedWidthOptions) (*FixedWidthCategorical, error) {
	if len(columns) == 0 {
		return nil, errors.New("fixed-width categorical embedding requires at least one column")
	}
	if opts.Dim <= 0 {
		return nil, errors.Errorf("fixed-width categorical embedding requires Dim > 0, got %d", opts.Dim)
	}
	positions, err := validateCategorical(columnIndex, columns, false)
	if err != nil {
		return nil, errors.WithMessage(err, "fixed-width categorical embedding")
	}
	if err := ValidateProbability("categorical embedding dropout", opts.Dropout); err != nil {
		return nil, err
	}
	e := &FixedWidthCategorical{
		columns:   slices.Clone(columns),
		positions: positions,
		opts:      opts,
	}
	if opts.Shared {
		if opts.UseBias {
			klog.Warningf("the use of a bias with shared embeddings is not supported, UseBias will be ignored")
			e.opts.UseBias = false
		}
		sharedOpts := SharedOptions{
			Dropout:     opts.Dropout,
			DropoutKind: opts.DropoutKind,
			Mode:        opts.SharedMode,
			FracShared:  opts.FracShared,
		}
		e.shared = make([]*SharedEmbedding, len(columns))
		e.sharedRefs = make([]int, len(columns))
		for ii, col := range columns {
			e.shared[ii], err = NewSharedEmbedding(col.Cardinality+1, opts.Dim, sharedOpts)
			if err != nil {
				return nil, errors.WithMessagef(err, "categorical column %q", col.Name)
			}
			if opts.SharedAcrossColumns {
				e.sharedRefs[ii] = 0
			} else {
				e.sharedRefs[ii] = ii
				e.sharedKeys = append(e.sharedKeys, context.EscapeScopeName(col.Name))
			}
		}
		if opts.SharedAcrossColumns {
			e.sharedKeys = []string{"all"}
		}
	} else {
		e.offsets = make([]int32, len(columns))
		for ii, col := range columns {
			e.offsets[ii] = int32(e.numTokens)
			e.numTokens += col.Cardinality
		}
	}
	klog.V(1).Infof("fixed-width categorical embedding: %d columns, dim %d, shared=%v", len(columns), opts.Dim, opts.Shared)
	return e, nil
}

// Dim returns the width of each column embedding.
func (e *FixedWidthCategorical) Dim() int { return e.opts.Dim }

// NumTokens returns the number of columns, that is, the size of the second axis of the output.
func (e *FixedWidthCategorical) NumTokens() int { return len(e.columns) }

// OutputDim returns the flattened width of the output, NumTokens() * Dim().
func (e *FixedWidthCategorical) OutputDim() int { return len(e.columns) * e.opts.Dim }

// Columns returns the embedded columns, in output order.
func (e *FixedWidthCategorical) Columns() []CategoricalColumn { return e.columns }

// IsShared returns whether each column uses a SharedEmbedding.
func (e *FixedWidthCategorical) IsShared() bool { return e.opts.Shared }

// HasBias returns whether a per-column bias is added.
func (e *FixedWidthCategorical) HasBias() bool { return e.opts.UseBias }

// NumSharedVectors returns the number of shared vectors owned by the embedder: one per column, one if
// SharedAcrossColumns is set, or 0 for the merged table.
func (e *FixedWidthCategorical) NumSharedVectors() int {
	if e.opts.Shared && e.shared[0].SharedDim() > 0 {
		return len(e.sharedKeys)
	}
	return 0
}

// NumParams returns the number of learned parameters.
func (e *FixedWidthCategorical) NumParams() int {
	var n int
	if e.opts.Shared {
		for _, s := range e.shared {
			n += s.NumParams()
		}
		return n + e.NumSharedVectors()*e.shared[0].SharedDim()
	}
	n = (e.numTokens + 1) * e.opts.Dim
	if e.opts.UseBias {
		n += len(e.columns) * e.opts.Dim
	}
	return n
}

// Apply embeds the categorical columns of x, shaped `[batchSize, numFeatures]`, returning
// `[batchSize, NumTokens(), Dim()]`.
//
// In shared mode the table of each column is the variable "embed" in scope `emb_layer_<column name>`,
// and the shared vectors are the variables "shared_embed" in scope `shared_embed/<column name>`
// (or `shared_embed/all`). Otherwise the merged table is the variable "embed" in scope "cat_embed".
func (e *FixedWidthCategorical) Apply(ctx *context.Context, x *Node) *Node {
	checkRawInput(x, e.positions)
	if e.opts.Shared {
		return e.applyShared(ctx, x)
	}
	return e.applyMerged(ctx, x)
}

func (e *FixedWidthCategorical) applyShared(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	dtype := floatDTypeOf(x)
	sharedVectors := make([]*Node, len(e.sharedKeys))
	sharedCtx := ctx.In("shared_embed")
	for ii, key := range e.sharedKeys {
		sharedVectors[ii] = sharedVariable(sharedCtx.In(key), g, dtype, e.shared[0].SharedDim())
	}
	parts := make([]*Node, len(e.columns))
	for ii, col := range e.columns {
		codes := Slice(x, AxisRange(), AxisElem(e.positions[ii]))
		if !codes.DType().IsFloat() {
			codes = ConvertDType(codes, dtypes.Int32)
		}
		parts[ii] = e.shared[ii].Apply(ctx.In(columnScope(col.Name)), codes, sharedVectors[e.sharedRefs[ii]])
	}
	return Stack(parts, 1)
}

func (e *FixedWidthCategorical) applyMerged(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	dtype := floatDTypeOf(x)
	batchSize := x.Shape().Dimensions[0]
	numCols := len(e.columns)
	dim := e.opts.Dim

	codes := gatherColumns(x, e.positions)
	codes = ConvertDType(codes, dtypes.Int32) // [N, numCols]
	if e.opts.OffsetCodes {
		offsets := BroadcastToDims(Const(g, [][]int32{e.offsets}), batchSize, numCols)
		codes = Where(GreaterThan(codes, ZerosLike(codes)), Add(codes, offsets), codes)
	}
	ctxTable := ctx.In("cat_embed").WithInitializer(paddedTableInitializer(ctx, 0))
	table := ctxTable.VariableWithShape("embed", shapes.Make(dtype, e.numTokens+1, dim)).ValueGraph(g)
	output := Gather(table, InsertAxes(codes, -1)) // [N, numCols, dim]
	if e.opts.UseBias {
		ctxBias := ctx.In("cat_embed").WithInitializer(uniformInitializer(ctx, kaimingBound(dim)))
		bias := ctxBias.VariableWithShape("bias", shapes.Make(dtype, numCols, dim)).ValueGraph(g)
		output = Add(output, BroadcastToDims(InsertAxes(bias, 0), batchSize, numCols, dim))
	}
	return Dropout(ctx, output, e.opts.Dropout, e.opts.DropoutKind)
}

// gatherColumns returns the columns of x at the given positions, shaped `[batchSize, len(positions)]`.
func gatherColumns(x *Node, positions []int) *Node {
	parts := make([]*Node, len(positions))
	for ii, pos := range positions {
		parts[ii] = Slice(x, AxisRange(), AxisRange(pos, pos+1))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return Concatenate(parts, -1)
}
