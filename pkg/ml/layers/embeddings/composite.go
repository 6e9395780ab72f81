// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package embeddings

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Embedder is implemented by the composite embedders VariableWidth and FixedWidth.
type Embedder interface {
	// OutputDim is the width of the output of Concatenated, known at construction.
	OutputDim() int

	// Concatenated returns the embedded raw input x as a `[batchSize, OutputDim()]` tensor,
	// or nil if there are no categorical nor continuous columns.
	Concatenated(ctx *context.Context, x *Node) *Node

	// Describe returns a summary of each active branch.
	Describe() []BranchSummary
}

// BranchSummary describes one branch of a composite embedder.
type BranchSummary struct {
	// Name of the branch: "categorical" or "continuous".
	Name string

	// Kind describes how the branch is computed, e.g. "variable_width" or "embedded/batchnorm".
	Kind string

	// Columns is the number of raw input columns used by the branch.
	Columns int

	// Width is the flattened width of the branch output.
	Width int

	// Params is the number of learned parameters of the branch.
	Params int
}

// Builder configures a composite embedder. Create it with NewBuilder, configure it with the chained
// setters (or FromContext), and finish with Build, BuildVariableWidth or BuildFixedWidth.
//
// Any configuration error is returned by the Build methods.
type Builder struct {
	columnIndex ColumnIndex
	strategy    Strategy
	categorical []CategoricalColumn
	continuous  []string

	catDropout          float64
	embedDim            int
	dropoutKind         DropoutKind
	sharedMode          SharedMode
	fracShared          float64
	sharedAcrossColumns bool
	catBias             bool
	catActivation       activations.Type
	offsetCodes         bool

	norm            Normalization
	embedContinuous bool
	contDim         int
	contDropout     float64
	contBias        bool
	contActivation  activations.Type

	err error
}

// NewBuilder creates a Builder for the raw input described by columnIndex, with no columns configured.
//
// Defaults: StrategyVariableWidth, categorical dropout 0.1, embedding dim 32, elementwise dropout,
// SharedOverwrite with FracShared 0.25, no categorical bias nor activation, NormBatch, continuous columns not embedded,
// continuous dim 32, continuous dropout 0.1, continuous bias on and no continuous activation.
func NewBuilder(columnIndex ColumnIndex) *Builder {
	return &Builder{
		columnIndex:    columnIndex,
		strategy:       StrategyVariableWidth,
		catDropout:     0.1,
		embedDim:       32,
		dropoutKind:    DropoutElementwise,
		sharedMode:     SharedOverwrite,
		fracShared:     0.25,
		norm:           NormBatch,
		contDim:        32,
		contDropout:    0.1,
		contBias:       true,
		catActivation:  activations.TypeNone,
		contActivation: activations.TypeNone,
	}
}

// FromContext reads the hyperparameters (Param* constants) from ctx, overriding the current values.
// Invalid option names are reported by Build.
func (b *Builder) FromContext(ctx *context.Context) *Builder {
	var err error
	if name := context.GetParamOr(ctx, ParamStrategy, ""); name != "" {
		b.strategy, err = StrategyFromName(name)
		b.setErr(err)
	}
	b.catDropout = context.GetParamOr(ctx, ParamCategoricalDropout, b.catDropout)
	b.embedDim = context.GetParamOr(ctx, ParamEmbedDim, b.embedDim)
	if name := context.GetParamOr(ctx, ParamDropoutKind, ""); name != "" {
		b.dropoutKind, err = DropoutKindFromName(name)
		b.setErr(err)
	}
	if name := context.GetParamOr(ctx, ParamSharedMode, ""); name != "" {
		b.sharedMode, err = SharedModeFromName(name)
		b.setErr(err)
	}
	b.fracShared = context.GetParamOr(ctx, ParamFracShared, b.fracShared)
	b.sharedAcrossColumns = context.GetParamOr(ctx, ParamSharedAcrossColumns, b.sharedAcrossColumns)
	b.catBias = context.GetParamOr(ctx, ParamCategoricalBias, b.catBias)
	if name := context.GetParamOr(ctx, ParamCategoricalActivation, ""); name != "" {
		b.catActivation, err = ActivationFromName(name)
		b.setErr(err)
	}
	if name := context.GetParamOr(ctx, ParamContinuousNormalization, ""); name != "" {
		b.norm, err = NormalizationFromName(name)
		b.setErr(err)
	}
	b.embedContinuous = context.GetParamOr(ctx, ParamEmbedContinuous, b.embedContinuous)
	b.contDim = context.GetParamOr(ctx, ParamContinuousDim, b.contDim)
	b.contDropout = context.GetParamOr(ctx, ParamContinuousDropout, b.contDropout)
	b.contBias = context.GetParamOr(ctx, ParamContinuousBias, b.contBias)
	if name := context.GetParamOr(ctx, ParamContinuousActivation, ""); name != "" {
		b.contActivation, err = ActivationFromName(name)
		b.setErr(err)
	}
	return b
}

func (b *Builder) setErr(err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
}

// Strategy sets the composite embedder built by Build.
func (b *Builder) Strategy(strategy Strategy) *Builder {
	b.strategy = strategy
	return b
}

// Categorical sets the categorical columns to embed. For the fixed-width strategies, CategoricalColumn.Dim is ignored.
func (b *Builder) Categorical(columns ...CategoricalColumn) *Builder {
	b.categorical = slices.Clone(columns)
	return b
}

// Continuous sets the names of the continuous columns.
func (b *Builder) Continuous(names ...string) *Builder {
	b.continuous = slices.Clone(names)
	return b
}

// CategoricalDropout sets the dropout rate of the categorical embeddings.
func (b *Builder) CategoricalDropout(rate float64) *Builder {
	b.catDropout = rate
	return b
}

// EmbedDim sets the width of every embedding in the fixed-width strategies.
func (b *Builder) EmbedDim(dim int) *Builder {
	b.embedDim = dim
	return b
}

// DropoutKind sets the kind of dropout of the fixed-width categorical embeddings.
func (b *Builder) DropoutKind(kind DropoutKind) *Builder {
	b.dropoutKind = kind
	return b
}

// SharedMode sets how the shared vector is combined with the embeddings, and the fraction
// of the embedding that is shared (only used by SharedOverwrite). Only used by StrategyFixedWidthShared.
func (b *Builder) SharedMode(mode SharedMode, fracShared float64) *Builder {
	b.sharedMode = mode
	b.fracShared = fracShared
	return b
}

// SharedAcrossColumns sets whether all columns use one single shared vector. Only used by StrategyFixedWidthShared.
func (b *Builder) SharedAcrossColumns(value bool) *Builder {
	b.sharedAcrossColumns = value
	return b
}

// CategoricalBias sets whether a per-column bias is added to the categorical embeddings.
// It is ignored, with a warning, by StrategyFixedWidthShared.
func (b *Builder) CategoricalBias(useBias bool) *Builder {
	b.catBias = useBias
	return b
}

// CategoricalActivation sets the activation of the categorical embeddings. Only used by StrategyVariableWidth.
func (b *Builder) CategoricalActivation(activation activations.Type) *Builder {
	b.catActivation = activation
	return b
}

// OffsetCodes sets whether StrategyFixedWidthSingleTable offsets the codes of each column into the merged table.
// If false (the default) codes are expected to be already offset.
func (b *Builder) OffsetCodes(value bool) *Builder {
	b.offsetCodes = value
	return b
}

// Normalization sets the normalization of the continuous columns.
func (b *Builder) Normalization(norm Normalization) *Builder {
	b.norm = norm
	return b
}

// EmbedContinuous sets whether the continuous columns are embedded, and the embedding width used
// by StrategyVariableWidth (the fixed-width strategies use EmbedDim).
func (b *Builder) EmbedContinuous(embed bool, dim int) *Builder {
	b.embedContinuous = embed
	b.contDim = dim
	return b
}

// ContinuousDropout sets the dropout rate of the continuous embeddings.
func (b *Builder) ContinuousDropout(rate float64) *Builder {
	b.contDropout = rate
	return b
}

// ContinuousBias sets whether the continuous embeddings have a bias.
func (b *Builder) ContinuousBias(useBias bool) *Builder {
	b.contBias = useBias
	return b
}

// ContinuousActivation sets the activation of the continuous embeddings.
func (b *Builder) ContinuousActivation(activation activations.Type) *Builder {
	b.contActivation = activation
	return b
}

// Build validates the configuration and returns the embedder selected by the strategy.
func (b *Builder) Build() (Embedder, error) {
	switch b.strategy {
	case StrategyVariableWidth:
		return b.BuildVariableWidth()
	case StrategyFixedWidthShared, StrategyFixedWidthSingleTable:
		return b.BuildFixedWidth()
	}
	return nil, errors.Errorf("invalid embedding strategy %s", b.strategy)
}

// validateCommon checks the configuration shared by both composites.
func (b *Builder) validateCommon() error {
	if b.err != nil {
		return b.err
	}
	if err := b.columnIndex.Validate(); err != nil {
		return err
	}
	for ii, name := range b.continuous {
		if slices.Contains(b.continuous[:ii], name) {
			return errors.Errorf("continuous column %q given more than once", name)
		}
		for _, col := range b.categorical {
			if col.Name == name {
				return errors.Errorf("column %q configured both as categorical and continuous", name)
			}
		}
	}
	if err := ValidateProbability("categorical dropout", b.catDropout); err != nil {
		return err
	}
	return ValidateProbability("continuous dropout", b.contDropout)
}

// buildContinuous returns nil if there are no continuous columns.
func (b *Builder) buildContinuous(dim int) (*continuousBranch, error) {
	if len(b.continuous) == 0 {
		return nil, nil
	}
	positions, err := b.columnIndex.Positions(b.continuous)
	if err != nil {
		return nil, err
	}
	branch := &continuousBranch{
		names:     slices.Clone(b.continuous),
		positions: positions,
		norm:      b.norm,
	}
	if b.embedContinuous {
		branch.embed, err = NewContinuousEmbedding(len(b.continuous), dim, ContinuousOptions{
			Dropout:    b.contDropout,
			UseBias:    b.contBias,
			Activation: b.contActivation,
		})
		if err != nil {
			return nil, err
		}
	}
	return branch, nil
}

// VariableWidth combines a VariableWidthCategorical branch and a continuous branch, both optional.
type VariableWidth struct {
	categorical *VariableWidthCategorical
	continuous  *continuousBranch
	outputDim   int
}

// BuildVariableWidth returns a VariableWidth composite, regardless of the configured strategy.
func (b *Builder) BuildVariableWidth() (*VariableWidth, error) {
	if err := b.validateCommon(); err != nil {
		return nil, errors.WithMessage(err, "variable-width embedding")
	}
	e := &VariableWidth{}
	var err error
	if len(b.categorical) > 0 {
		e.categorical, err = NewVariableWidthCategorical(b.columnIndex, b.categorical, VariableWidthOptions{
			Dropout:    b.catDropout,
			UseBias:    b.catBias,
			Activation: b.catActivation,
		})
		if err != nil {
			return nil, err
		}
		e.outputDim += e.categorical.OutputDim()
	}
	e.continuous, err = b.buildContinuous(b.contDim)
	if err != nil {
		return nil, errors.WithMessage(err, "variable-width embedding")
	}
	if e.continuous != nil {
		e.outputDim += e.continuous.width()
	}
	klog.V(1).Infof("variable-width embedding: output dim %d", e.outputDim)
	return e, nil
}

// OutputDim implements Embedder.
func (e *VariableWidth) OutputDim() int { return e.outputDim }

// Categorical returns the categorical branch, or nil if there are no categorical columns.
func (e *VariableWidth) Categorical() *VariableWidthCategorical { return e.categorical }

// Apply returns the categorical branch, shaped `[batchSize, sum(dims)]`, and the continuous branch shaped
// `[batchSize, numContinuous*dim]` if embedded or `[batchSize, numContinuous]` otherwise.
// Either is nil if the corresponding branch is absent.
func (e *VariableWidth) Apply(ctx *context.Context, x *Node) (categorical, continuous *Node) {
	if e.categorical != nil {
		categorical = e.categorical.Apply(ctx, x)
	}
	if e.continuous != nil {
		continuous = e.continuous.apply(ctx, x)
		if continuous.Rank() == 3 {
			continuous = Reshape(continuous, continuous.Shape().Dimensions[0], -1)
		}
	}
	return
}

// Concatenated implements Embedder.
func (e *VariableWidth) Concatenated(ctx *context.Context, x *Node) *Node {
	return concatBranches(e.Apply(ctx, x))
}

// Describe implements Embedder.
func (e *VariableWidth) Describe() []BranchSummary {
	var summaries []BranchSummary
	if e.categorical != nil {
		summaries = append(summaries, BranchSummary{
			Name:    "categorical",
			Kind:    StrategyVariableWidth.String(),
			Columns: len(e.categorical.Columns()),
			Width:   e.categorical.OutputDim(),
			Params:  e.categorical.NumParams(),
		})
	}
	if e.continuous != nil {
		summaries = append(summaries, e.continuous.describe())
	}
	return summaries
}

// FixedWidth combines a FixedWidthCategorical branch and a continuous branch, both optional.
// When the continuous columns are embedded, they use the same width as the categorical ones, and the
// output can be seen as a sequence of tokens (see Tokens).
type FixedWidth struct {
	categorical *FixedWidthCategorical
	continuous  *continuousBranch
	dim         int
	outputDim   int
}

// BuildFixedWidth returns a FixedWidth composite. The configured strategy selects the shared or the
// single table variant, and StrategyVariableWidth is treated as StrategyFixedWidthSingleTable.
func (b *Builder) BuildFixedWidth() (*FixedWidth, error) {
	if err := b.validateCommon(); err != nil {
		return nil, errors.WithMessage(err, "fixed-width embedding")
	}
	if b.embedDim <= 0 {
		return nil, errors.Errorf("fixed-width embedding requires an embedding dim > 0, got %d", b.embedDim)
	}
	if b.strategy == StrategyFixedWidthShared {
		// Shared options are checked even if there are no categorical columns.
		if _, err := NewSharedEmbedding(1, b.embedDim, SharedOptions{Mode: b.sharedMode, FracShared: b.fracShared}); err != nil {
			return nil, errors.WithMessage(err, "fixed-width embedding")
		}
	}
	e := &FixedWidth{dim: b.embedDim}
	var err error
	if len(b.categorical) > 0 {
		e.categorical, err = NewFixedWidthCategorical(b.columnIndex, b.categorical, FixedWidthOptions{
			Dim:                 b.embedDim,
			Dropout:             b.catDropout,
			DropoutKind:         b.dropoutKind,
			Shared:              b.strategy == StrategyFixedWidthShared,
			SharedMode:          b.sharedMode,
			FracShared:          b.fracShared,
			SharedAcrossColumns: b.sharedAcrossColumns,
			UseBias:             b.catBias,
			OffsetCodes:         b.offsetCodes,
		})
		if err != nil {
			return nil, err
		}
		e.outputDim += e.categorical.OutputDim()
	}
	e.continuous, err = b.buildContinuous(b.embedDim)
	if err != nil {
		return nil, errors.WithMessage(err, "fixed-width embedding")
	}
	if e.continuous != nil {
		e.outputDim += e.continuous.width()
	}
	klog.V(1).Infof("fixed-width embedding: dim %d, output dim %d", e.dim, e.outputDim)
	return e, nil
}

// OutputDim implements Embedder: it is the flattened width of all branches.
func (e *FixedWidth) OutputDim() int { return e.outputDim }

// Dim returns the width of each embedding.
func (e *FixedWidth) Dim() int { return e.dim }

// Categorical returns the categorical branch, or nil if there are no categorical columns.
func (e *FixedWidth) Categorical() *FixedWidthCategorical { return e.categorical }

// NumTokens returns the number of tokens returned by Tokens.
func (e *FixedWidth) NumTokens() int {
	var n int
	if e.categorical != nil {
		n += e.categorical.NumTokens()
	}
	if e.continuous != nil {
		n += e.continuous.numColumns()
	}
	return n
}

// CanTokenize returns whether Tokens can be used: that is the case unless there are continuous columns
// that are not embedded.
func (e *FixedWidth) CanTokenize() bool {
	return e.continuous == nil || e.continuous.embed != nil
}

// Apply returns the categorical branch, shaped `[batchSize, numCategorical, dim]`, and the continuous branch
// shaped `[batchSize, numContinuous, dim]` if embedded or `[batchSize, numContinuous]` otherwise.
// Either is nil if the corresponding branch is absent.
func (e *FixedWidth) Apply(ctx *context.Context, x *Node) (categorical, continuous *Node) {
	if e.categorical != nil {
		categorical = e.categorical.Apply(ctx, x)
	}
	if e.continuous != nil {
		continuous = e.continuous.apply(ctx, x)
	}
	return
}

// Concatenated implements Embedder: the branches are flattened and concatenated.
func (e *FixedWidth) Concatenated(ctx *context.Context, x *Node) *Node {
	categorical, continuous := e.Apply(ctx, x)
	if categorical != nil {
		categorical = Reshape(categorical, categorical.Shape().Dimensions[0], -1)
	}
	if continuous != nil && continuous.Rank() == 3 {
		continuous = Reshape(continuous, continuous.Shape().Dimensions[0], -1)
	}
	return concatBranches(categorical, continuous)
}

// Tokens returns the categorical and the embedded continuous columns as one sequence of tokens, shaped
// `[batchSize, NumTokens(), Dim()]`, for attention-style models.
// It panics if CanTokenize() is false, and returns nil if there are no columns.
func (e *FixedWidth) Tokens(ctx *context.Context, x *Node) *Node {
	if !e.CanTokenize() {
		exceptions.Panicf("FixedWidth.Tokens() requires the continuous columns to be embedded")
	}
	categorical, continuous := e.Apply(ctx, x)
	switch {
	case categorical == nil:
		return continuous
	case continuous == nil:
		return categorical
	}
	return Concatenate([]*Node{categorical, continuous}, 1)
}

// Describe implements Embedder.
func (e *FixedWidth) Describe() []BranchSummary {
	var summaries []BranchSummary
	if e.categorical != nil {
		kind := StrategyFixedWidthSingleTable
		if e.categorical.IsShared() {
			kind = StrategyFixedWidthShared
		}
		summaries = append(summaries, BranchSummary{
			Name:    "categorical",
			Kind:    kind.String(),
			Columns: len(e.categorical.Columns()),
			Width:   e.categorical.OutputDim(),
			Params:  e.categorical.NumParams(),
		})
	}
	if e.continuous != nil {
		summaries = append(summaries, e.continuous.describe())
	}
	return summaries
}

func (b *continuousBranch) describe() BranchSummary {
	kind := b.norm.String()
	if b.embed != nil {
		kind = "embedded/" + kind
	}
	return BranchSummary{
		Name:    "continuous",
		Kind:    kind,
		Columns: b.numColumns(),
		Width:   b.width(),
		Params:  b.numParams(),
	}
}

// concatBranches concatenates the non-nil 2D branches along the last axis.
func concatBranches(categorical, continuous *Node) *Node {
	switch {
	case categorical == nil:
		return continuous
	case continuous == nil:
		return categorical
	}
	return Concatenate([]*Node{categorical, continuous}, -1)
}
