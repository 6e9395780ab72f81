// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tabmlp implements a multi-layer perceptron on top of a tabular embedder (see package embeddings).
//
// The embedder output, a `[batchSize, embedder.OutputDim()]` tensor, is fed to a stack of dense blocks.
// Each block is either `[BatchNorm] -> [Dropout] -> Dense -> Activation` or, with LinearFirst,
// `Dense -> Activation -> [BatchNorm] -> [Dropout]`.
//
// E.g.: a binary classifier on the UCI Adult dataset:
//
//	embedder := must.M1(embeddings.NewBuilder(columnIndex).
//		Categorical(categoricalColumns...).
//		Continuous("age", "hours-per-week").
//		FromContext(ctx).
//		Build())
//	model := must.M1(tabmlp.New(embedder).FromContext(ctx).Build())
//	trainer := train.NewTrainer(backend, ctx, model.ModelGraph, losses.BinaryCrossentropyLogits, ...)
package tabmlp

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/widedeep/pkg/ml/layers/embeddings"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ParamHiddenDims is the hyperparameter with the dimensions of each hidden layer.
	// The default is []int{200, 100}.
	ParamHiddenDims = "tabmlp_hidden_dims"

	// ParamActivation is the activation of the dense layers: "tanh", "relu", "leaky_relu" or "gelu".
	// The default is "relu".
	ParamActivation = "tabmlp_activation"

	// ParamDropout is the dropout rate applied in each dense block. The default is 0.1.
	ParamDropout = "tabmlp_dropout"

	// ParamBatchNorm enables batch normalization in the dense blocks. The default is false.
	ParamBatchNorm = "tabmlp_batchnorm"

	// ParamBatchNormLast enables batch normalization also in the last dense block, if ParamBatchNorm is set.
	// The default is false.
	ParamBatchNormLast = "tabmlp_batchnorm_last"

	// ParamLinearFirst makes each dense block start with the linear layer. The default is false.
	ParamLinearFirst = "tabmlp_linear_first"
)

// Config is created with New and configured with its methods or from the context hyperparameters
// (see FromContext). Finish it with Build.
type Config struct {
	embedder      embeddings.Embedder
	hiddenDims    []int
	activation    activations.Type
	dropout       []float64
	batchNorm     bool
	batchNormLast bool
	linearFirst   bool
	err           error
}

// New creates a configuration for a TabMlp on top of the given embedder.
//
// Defaults: hidden dims [200, 100], relu activation, dropout 0.1 and no batch normalization.
func New(embedder embeddings.Embedder) *Config {
	return &Config{
		embedder:   embedder,
		hiddenDims: []int{200, 100},
		activation: activations.TypeRelu,
		dropout:    []float64{0.1},
	}
}

// FromContext reads the hyperparameters (Param* constants) from ctx, overriding the current values.
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.hiddenDims = context.GetParamOr(ctx, ParamHiddenDims, c.hiddenDims)
	if name := context.GetParamOr(ctx, ParamActivation, ""); name != "" {
		activation, err := embeddings.ActivationFromName(name)
		if err != nil && c.err == nil {
			c.err = err
		}
		c.activation = activation
	}
	if dropout := context.GetParamOr(ctx, ParamDropout, -1.0); dropout >= 0 {
		c.dropout = []float64{dropout}
	}
	c.batchNorm = context.GetParamOr(ctx, ParamBatchNorm, c.batchNorm)
	c.batchNormLast = context.GetParamOr(ctx, ParamBatchNormLast, c.batchNormLast)
	c.linearFirst = context.GetParamOr(ctx, ParamLinearFirst, c.linearFirst)
	return c
}

// HiddenDims sets the output dimension of each dense block.
func (c *Config) HiddenDims(dims ...int) *Config {
	c.hiddenDims = slices.Clone(dims)
	return c
}

// Activation sets the activation of the dense layers.
func (c *Config) Activation(activation activations.Type) *Config {
	c.activation = activation
	return c
}

// Dropout sets the dropout rate of the dense blocks: either one value for all blocks,
// or one value per block.
func (c *Config) Dropout(rates ...float64) *Config {
	c.dropout = slices.Clone(rates)
	return c
}

// BatchNorm sets whether the dense blocks use batch normalization.
func (c *Config) BatchNorm(value bool) *Config {
	c.batchNorm = value
	return c
}

// BatchNormLast sets whether the last dense block also uses batch normalization, if BatchNorm is set.
func (c *Config) BatchNormLast(value bool) *Config {
	c.batchNormLast = value
	return c
}

// LinearFirst sets whether the dense blocks start with the linear layer.
func (c *Config) LinearFirst(value bool) *Config {
	c.linearFirst = value
	return c
}

// block is the static configuration of one dense block.
type block struct {
	inputDim, outputDim int
	dropout             float64
	batchNorm           bool
}

// TabMlp is a multi-layer perceptron over the output of an embeddings.Embedder.
type TabMlp struct {
	embedder    embeddings.Embedder
	blocks      []block
	activation  activations.Type
	linearFirst bool
}

// Build validates the configuration and returns the TabMlp.
func (c *Config) Build() (*TabMlp, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.embedder == nil {
		return nil, errors.New("tabmlp requires an embedder")
	}
	inputDim := c.embedder.OutputDim()
	if inputDim <= 0 {
		return nil, errors.New("tabmlp requires an embedder with at least one categorical or continuous column")
	}
	if len(c.hiddenDims) == 0 {
		return nil, errors.New("tabmlp requires at least one hidden layer")
	}
	if len(c.dropout) != 1 && len(c.dropout) != len(c.hiddenDims) {
		return nil, errors.Errorf("tabmlp requires one dropout rate or one per hidden layer (%d), got %v",
			len(c.hiddenDims), c.dropout)
	}
	if err := embeddings.ValidateActivation(c.activation); err != nil {
		return nil, err
	}
	m := &TabMlp{
		embedder:    c.embedder,
		activation:  c.activation,
		linearFirst: c.linearFirst,
		blocks:      make([]block, len(c.hiddenDims)),
	}
	for ii, dim := range c.hiddenDims {
		if dim <= 0 {
			return nil, errors.Errorf("tabmlp hidden dims must be > 0, got %v", c.hiddenDims)
		}
		rate := c.dropout[0]
		if len(c.dropout) > 1 {
			rate = c.dropout[ii]
		}
		if err := embeddings.ValidateProbability("tabmlp dropout", rate); err != nil {
			return nil, err
		}
		isLast := ii == len(c.hiddenDims)-1
		m.blocks[ii] = block{
			inputDim:  inputDim,
			outputDim: dim,
			dropout:   rate,
			batchNorm: c.batchNorm && (!isLast || c.batchNormLast),
		}
		inputDim = dim
	}
	klog.V(1).Infof("tabmlp: input dim %d, hidden dims %v", c.embedder.OutputDim(), c.hiddenDims)
	return m, nil
}

// OutputDim is the dimension of the last hidden layer.
func (m *TabMlp) OutputDim() int { return m.blocks[len(m.blocks)-1].outputDim }

// Embedder returns the embedder feeding the MLP.
func (m *TabMlp) Embedder() embeddings.Embedder { return m.embedder }

// NumParams returns the number of learned parameters of the dense blocks, not including the embedder.
func (m *TabMlp) NumParams() int {
	var n int
	for _, b := range m.blocks {
		n += b.inputDim * b.outputDim
		if b.batchNorm {
			normDim := b.inputDim
			if m.linearFirst {
				normDim = b.outputDim
			}
			n += 2 * normDim
		} else {
			n += b.outputDim
		}
	}
	return n
}

// Apply embeds the raw input x, shaped `[batchSize, numFeatures]`, and returns the output of the last
// dense block, shaped `[batchSize, OutputDim()]`. The embedder variables are created under the scope
// "embeddings" and the dense blocks under "dense_<i>".
func (m *TabMlp) Apply(ctx *context.Context, x *Node) *Node {
	h := m.embedder.Concatenated(ctx.In("embeddings"), x)
	if h == nil {
		exceptions.Panicf("tabmlp: embedder returned no output for input %s", x.Shape())
	}
	for ii, b := range m.blocks {
		h = m.denseBlock(ctx.Inf("dense_%d", ii), h, b)
	}
	return h
}

func (m *TabMlp) denseBlock(ctx *context.Context, x *Node, b block) *Node {
	linear := func(x *Node) *Node {
		x = layers.Dense(ctx, x, !b.batchNorm, b.outputDim)
		return activations.Apply(m.activation, x)
	}
	regularize := func(x *Node) *Node {
		if b.batchNorm {
			x = batchnorm.New(ctx, x, -1).Done()
		}
		return embeddings.Dropout(ctx, x, b.dropout, embeddings.DropoutElementwise)
	}
	if m.linearFirst {
		return regularize(linear(x))
	}
	return linear(regularize(x))
}

// ModelGraph can be used as a train.ModelFn for binary classification: it returns the logits, shaped
// `[batchSize, 1]`, of the raw input given in inputs[0].
func (m *TabMlp) ModelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	h := m.Apply(ctx, inputs[0])
	logits := layers.Dense(ctx.In("logits"), h, true, 1)
	return []*Node{logits}
}
