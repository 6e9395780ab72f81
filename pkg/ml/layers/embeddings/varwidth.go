// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VariableWidthOptions configures a VariableWidthCategorical.
type VariableWidthOptions struct {
	// Dropout rate, applied elementwise once to the concatenated output.
	Dropout float64

	// UseBias adds a learned bias vector, shaped `[Dim]`, to the embedding of each column.
	UseBias bool

	// Activation applied to the embedding of each column, after the bias. One of ValidActivations.
	Activation activations.Type
}

// VariableWidthCategorical embeds each categorical column with its own table and width, and
// concatenates the results.
type VariableWidthCategorical struct {
	columns   []CategoricalColumn
	positions []int
	opts      VariableWidthOptions
	outputDim int
}

// NewVariableWidthCategorical validates the columns against columnIndex and returns the embedder.
// Each column must have Dim > 0.
func NewVariableWidthCategorical(columnIndex ColumnIndex, columns []CategoricalColumn, opts VariableWidthOptions) (*VariableWidthCategorical, error) {
	if len(columns) == 0 {
		return nil, errors.New("variable-width categorical embedding requires at least one column")
	}
	positions, err := validateCategorical(columnIndex, columns, true)
	if err != nil {
		return nil, errors.WithMessage(err, "variable-width categorical embedding")
	}
	if err := ValidateProbability("categorical embedding dropout", opts.Dropout); err != nil {
		return nil, err
	}
	if err := ValidateActivation(opts.Activation); err != nil {
		return nil, errors.WithMessage(err, "variable-width categorical embedding")
	}
	e := &VariableWidthCategorical{
		columns:   slices.Clone(columns),
		positions: positions,
		opts:      opts,
	}
	for _, col := range columns {
		e.outputDim += col.Dim
	}
	klog.V(1).Infof("variable-width categorical embedding: %d columns, output dim %d, bias=%v, activation=%s",
		len(columns), e.outputDim, opts.UseBias, opts.Activation)
	return e, nil
}

// OutputDim is the sum of the widths of all columns.
func (e *VariableWidthCategorical) OutputDim() int { return e.outputDim }

// Columns returns the embedded columns, in output order.
func (e *VariableWidthCategorical) Columns() []CategoricalColumn { return e.columns }

// HasBias returns whether a bias is added to the embedding of each column.
func (e *VariableWidthCategorical) HasBias() bool { return e.opts.UseBias }

// NumParams returns the number of learned parameters.
func (e *VariableWidthCategorical) NumParams() int {
	var n int
	for _, col := range e.columns {
		n += (col.Cardinality + 1) * col.Dim
		if e.opts.UseBias {
			n += col.Dim
		}
	}
	return n
}

// Apply embeds the categorical columns of x, shaped `[batchSize, numFeatures]`, returning
// `[batchSize, OutputDim()]`. The table of each column is the variable "embed" in the scope
// `emb_layer_<column name>`, and its bias (if UseBias) is the variable "bias" in the same scope.
func (e *VariableWidthCategorical) Apply(ctx *context.Context, x *Node) *Node {
	checkRawInput(x, e.positions)
	g := x.Graph()
	dtype := floatDTypeOf(x)
	parts := make([]*Node, len(e.columns))
	for ii, col := range e.columns {
		colCtx := ctx.In(columnScope(col.Name))
		codes := Slice(x, AxisRange(), AxisElem(e.positions[ii]))
		embedded := lookup(colCtx, codes, "embed", col.Cardinality+1, col.Dim, dtype, 0)
		if e.opts.UseBias {
			biasCtx := colCtx.WithInitializer(uniformInitializer(ctx, kaimingBound(col.Dim)))
			bias := biasCtx.VariableWithShape("bias", shapes.Make(dtype, col.Dim)).ValueGraph(g)
			embedded = Add(embedded, BroadcastToDims(InsertAxes(bias, 0), embedded.Shape().Dimensions...))
		}
		if e.opts.Activation != activations.TypeNone {
			embedded = activations.Apply(e.opts.Activation, embedded)
		}
		parts[ii] = embedded
	}
	output := parts[0]
	if len(parts) > 1 {
		output = Concatenate(parts, -1)
	}
	return Dropout(ctx, output, e.opts.Dropout, DropoutElementwise)
}

// checkRawInput panics if x is not a rank-2 raw input with all the given positions.
func checkRawInput(x *Node, positions []int) {
	if x.Rank() != 2 {
		exceptions.Panicf("embeddings expect the raw input shaped [batchSize, numFeatures], got %s", x.Shape())
	}
	numFeatures := x.Shape().Dimensions[1]
	for _, pos := range positions {
		if pos >= numFeatures {
			exceptions.Panicf("column position %d out of range for input shaped %s", pos, x.Shape())
		}
	}
}
