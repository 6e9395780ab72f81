// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// widedeep_summary prints the layout and parameter counts of a tabular embedder (and optionally of a
// TabMlp on top of it) for a given set of columns and hyperparameters.
//
// E.g.:
//
//	widedeep_summary -categorical="workclass:9,education:16,country:42" -continuous="age,hours" \
//		-set="embed_strategy=fixed_shared;embed_dim=16;embed_continuous=true" -tabmlp -vars
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/widedeep/pkg/ml/layers/embeddings"
	"github.com/gomlx/widedeep/pkg/ml/models/tabmlp"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagCategorical = flag.String("categorical", "",
		"Comma-separated list of categorical columns, each as \"name:cardinality[:dim]\". "+
			"The dim is only used by the variable_width strategy.")
	flagContinuous = flag.String("continuous", "", "Comma-separated list of continuous column names.")
	flagTabMlp     = flag.Bool("tabmlp", false, "Also report the TabMlp dense blocks on top of the embedder.")
	flagVars       = flag.Bool("vars", false,
		"Build the computation graph and list the variables actually created, to check the parameter counts.")
)

// createDefaultContext registers the hyperparameters accepted by -set, with their default values.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		embeddings.ParamStrategy:                embeddings.StrategyVariableWidth.String(),
		embeddings.ParamCategoricalDropout:      0.1,
		embeddings.ParamEmbedDim:                32,
		embeddings.ParamDropoutKind:             embeddings.DropoutElementwise.String(),
		embeddings.ParamSharedMode:              embeddings.SharedOverwrite.String(),
		embeddings.ParamFracShared:              0.25,
		embeddings.ParamSharedAcrossColumns:     false,
		embeddings.ParamCategoricalBias:         false,
		embeddings.ParamCategoricalActivation:   "",
		embeddings.ParamContinuousNormalization: embeddings.NormBatch.String(),
		embeddings.ParamEmbedContinuous:         false,
		embeddings.ParamContinuousDim:           32,
		embeddings.ParamContinuousDropout:       0.1,
		embeddings.ParamContinuousBias:          true,
		embeddings.ParamContinuousActivation:    "",

		tabmlp.ParamHiddenDims:    []int{200, 100},
		tabmlp.ParamActivation:    "relu",
		tabmlp.ParamDropout:       0.1,
		tabmlp.ParamBatchNorm:     false,
		tabmlp.ParamBatchNormLast: false,
		tabmlp.ParamLinearFirst:   false,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	if _, err := commandline.ParseContextSettings(ctx, *settings); err != nil {
		klog.Errorf("Invalid -set: %+v", err)
		os.Exit(1)
	}
	if err := report(ctx); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// summary holds the built embedder and, optionally, the TabMlp.
type summary struct {
	numColumns int
	embedder   embeddings.Embedder
	model      *tabmlp.TabMlp
}

// buildSummary builds the embedder (and the TabMlp if withTabMlp) configured by the column definitions and ctx.
func buildSummary(ctx *context.Context, categoricalDefs, continuousDefs string, withTabMlp bool) (*summary, error) {
	categorical, err := parseCategorical(categoricalDefs)
	if err != nil {
		return nil, err
	}
	continuous := splitList(continuousDefs)
	ci := columnIndex(categorical, continuous)
	embedder, err := embeddings.NewBuilder(ci).
		Categorical(categorical...).
		Continuous(continuous...).
		FromContext(ctx).
		Build()
	if err != nil {
		return nil, err
	}
	s := &summary{numColumns: len(ci), embedder: embedder}
	if withTabMlp {
		s.model, err = tabmlp.New(embedder).FromContext(ctx).Build()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// numParams is the number of parameters counted statically by the embedder and the TabMlp.
func (s *summary) numParams() int {
	var n int
	for _, branch := range s.embedder.Describe() {
		n += branch.Params
	}
	if s.model != nil {
		n += s.model.NumParams()
	}
	return n
}

// createVariables builds the graph for a batch of raw inputs, and returns the context holding the
// variables created.
func (s *summary) createVariables(backend backends.Backend) (ctx *context.Context, err error) {
	err = exceptions.TryCatch[error](func() {
		ctx = context.New()
		g := NewGraph(backend, "widedeep_summary")
		x := Parameter(g, "x", shapes.Make(dtypes.Float32, 2, s.numColumns))
		if s.model != nil {
			s.model.Apply(ctx, x)
		} else {
			s.embedder.Concatenated(ctx, x)
		}
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build the model graph")
	}
	return ctx, nil
}

func report(ctx *context.Context) error {
	s, err := buildSummary(ctx, *flagCategorical, *flagContinuous, *flagTabMlp)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Embedder"))
	table := newSummaryTable([]string{"branch", "kind", "# columns", "width", "# parameters"},
		lipgloss.Left, lipgloss.Left, lipgloss.Right)
	for _, branch := range s.embedder.Describe() {
		table.Row(branch.Name, branch.Kind, humanize.Comma(int64(branch.Columns)),
			humanize.Comma(int64(branch.Width)), humanize.Comma(int64(branch.Params)))
	}
	if s.model != nil {
		table.Row("tabmlp", "dense", "", humanize.Comma(int64(s.model.OutputDim())),
			humanize.Comma(int64(s.model.NumParams())))
	}
	table.Total("total", "", humanize.Comma(int64(s.numColumns)), humanize.Comma(int64(s.embedder.OutputDim())),
		humanize.Comma(int64(s.numParams())))
	fmt.Println(table.Render())

	if !*flagVars {
		return nil
	}
	backend, err := backends.New()
	if err != nil {
		return err
	}
	varsCtx, err := s.createVariables(backend)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Variables"))
	varsTable := newSummaryTable([]string{"scope", "name", "shape", "size", "memory"},
		lipgloss.Left, lipgloss.Left, lipgloss.Left, lipgloss.Right)
	type varInfo struct {
		scope, name string
		shape       shapes.Shape
		trainable   bool
	}
	var vars []varInfo
	varsCtx.EnumerateVariables(func(v *context.Variable) {
		if v.Name() == context.RNGStateVariableName {
			return
		}
		vars = append(vars, varInfo{v.Scope(), v.Name(), v.Shape(), v.Trainable})
	})
	sort.Slice(vars, func(i, j int) bool {
		if vars[i].scope != vars[j].scope {
			return vars[i].scope < vars[j].scope
		}
		return vars[i].name < vars[j].name
	})
	var totalSize int
	var totalMemory uintptr
	for _, v := range vars {
		if !v.trainable {
			varsTable.Row(v.scope, v.name, v.shape.String(), "-", humanize.Bytes(uint64(v.shape.Memory())))
			continue
		}
		totalSize += v.shape.Size()
		totalMemory += v.shape.Memory()
		varsTable.Row(v.scope, v.name, v.shape.String(), humanize.Comma(int64(v.shape.Size())),
			humanize.Bytes(uint64(v.shape.Memory())))
	}
	varsTable.Total("total", "", "", humanize.Comma(int64(totalSize)), humanize.Bytes(uint64(totalMemory)))
	fmt.Println(varsTable.Render())
	if totalSize != s.numParams() {
		klog.Warningf("graph created %d trainable parameters, but %d were expected", totalSize, s.numParams())
	}
	return nil
}
