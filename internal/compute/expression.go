package compute

import (
	"fmt"

	"github.com/tendant/simple-geoexport/internal/bandmath"
	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/internal/matrix"
)

const (
	statesTable     = "TIGER/2018/States"
	statesNameField = "NAME"
	cloudProperty   = "CLOUD_COVER"
)

// Expression is a serialized Earth Engine computation graph. Result names
// the entry of Values the graph evaluates to.
type Expression struct {
	Result string               `json:"result"`
	Values map[string]ValueNode `json:"values"`
}

// ValueNode holds either a constant or a function call.
type ValueNode struct {
	ConstantValue           any                 `json:"constantValue,omitempty"`
	FunctionInvocationValue *FunctionInvocation `json:"functionInvocationValue,omitempty"`
}

type FunctionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]ValueNode `json:"arguments,omitempty"`
}

type node = ValueNode

type args = map[string]node

func call(fn string, a args) node {
	return node{FunctionInvocationValue: &FunctionInvocation{FunctionName: fn, Arguments: a}}
}

func constant(v any) node { return node{ConstantValue: v} }

func wrap(root node) *Expression {
	return &Expression{Result: "0", Values: map[string]node{"0": root}}
}

// regionGeometry returns the geometry of a region.
func regionGeometry(r matrix.Region) node {
	if b := r.BBox; b != nil {
		return call("GeometryConstructors.Rectangle", args{
			"coordinates": constant([]float64{b[0], b[1], b[2], b[3]}),
			"geodesic":    constant(false),
		})
	}
	states := call("Collection.loadTable", args{"tableId": constant(statesTable)})
	if len(r.States) > 0 {
		states = filter(states, call("Filter.inList", args{
			"leftField":  constant(statesNameField),
			"rightValue": constant(r.States),
		}))
	}
	if len(r.ExcludeStates) > 0 {
		states = filter(states, call("Filter.not", args{
			"filter": call("Filter.inList", args{
				"leftField":  constant(statesNameField),
				"rightValue": constant(r.ExcludeStates),
			}),
		}))
	}
	return call("Collection.geometry", args{"collection": states})
}

func filter(collection, f node) node {
	return call("Collection.filter", args{"collection": collection, "filter": f})
}

// sourceCollection is the dataset filtered by window, region and cloud cover.
func sourceCollection(f matrix.Filter, geometry node) node {
	ic := call("ImageCollection.load", args{"id": constant(f.Dataset)})
	ic = filter(ic, call("Filter.dateRangeContains", args{
		"leftValue": call("DateRange", args{
			"start": constant(f.Start.Format(matrix.DateLayout)),
			"end":   constant(f.End.Format(matrix.DateLayout)),
		}),
		"rightField": constant("system:time_start"),
	}))
	ic = filter(ic, call("Filter.intersects", args{
		"leftField":  constant(".all"),
		"rightValue": geometry,
	}))
	if f.CloudCoverMax != nil {
		ic = filter(ic, call("Filter.lessThan", args{
			"leftField":  constant(cloudProperty),
			"rightValue": constant(*f.CloudCoverMax),
		}))
	}
	return ic
}

// CountExpression counts the source images matching f.
func CountExpression(f matrix.Filter) *Expression {
	return wrap(call("Collection.size", args{"collection": sourceCollection(f, regionGeometry(f.Region))}))
}

// ImageExpression builds the export image for a request: reduce the filtered
// collection, apply the linear rescale, derive the indicator band, then cast,
// rename and clip.
func ImageExpression(img ImageDescription, scale float64) (*Expression, error) {
	geometry := regionGeometry(img.Region)
	ic := sourceCollection(matrix.Filter{
		Dataset:       img.Dataset,
		Start:         img.Start,
		End:           img.End,
		Region:        img.Region,
		CloudCoverMax: img.CloudCoverMax,
	}, geometry)

	codes := catalog.Template{Bands: img.Bands, Variables: img.Variables}.Identifiers()
	names := make([]string, 0, len(codes))
	for name := range codes {
		names = append(names, name)
	}

	var out node
	switch img.Formula {
	case catalog.NormalizedDifference:
		if len(img.Bands) < 2 {
			return nil, fmt.Errorf("normalized difference needs 2 bands, got %d", len(img.Bands))
		}
		composite := rescale(call("reduce.median", args{"collection": ic}), img)
		out = call("Image.normalizedDifference", args{
			"input":     composite,
			"bandNames": constant([]string{img.Bands[0].Code, img.Bands[1].Code}),
		})
	case catalog.Mean:
		if len(img.Bands) < 1 {
			return nil, fmt.Errorf("mean needs a band")
		}
		composite := rescale(call("reduce.mean", args{"collection": ic}), img)
		out = selectBand(composite, img.Bands[0].Code)
	case catalog.EmpiricalExpression:
		tree, err := bandmath.Parse(img.Expression, names)
		if err != nil {
			return nil, fmt.Errorf("parse expression: %w", err)
		}
		composite := rescale(call("reduce.median", args{"collection": ic}), img)
		if out, err = bandMath(tree, composite, codes); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported formula %q", img.Formula)
	}

	out = call("Image.toFloat", args{"value": out})
	out = call("Image.rename", args{"input": out, "names": constant([]string{img.OutputBand})})
	out = call("Image.clip", args{"input": out, "geometry": geometry})
	out = call("Image.clipToBoundsAndScale", args{"input": out, "geometry": geometry, "scale": constant(scale)})
	return wrap(out), nil
}

// rescale applies value*ScaleFactor + Offset. It commutes with the median
// and mean reducers, so it runs once on the composite.
func rescale(img node, d ImageDescription) node {
	if d.ScaleFactor == 0 {
		return img
	}
	img = call("Image.multiply", args{"image1": img, "image2": imageConstant(d.ScaleFactor)})
	if d.Offset != 0 {
		img = call("Image.add", args{"image1": img, "image2": imageConstant(d.Offset)})
	}
	return img
}

func imageConstant(v float64) node {
	return call("Image.constant", args{"value": constant(v)})
}

func selectBand(img node, code string) node {
	return call("Image.select", args{"input": img, "bandSelectors": constant([]string{code})})
}

var imageOps = map[bandmath.Op]string{
	bandmath.Add: "Image.add",
	bandmath.Sub: "Image.subtract",
	bandmath.Mul: "Image.multiply",
	bandmath.Div: "Image.divide",
}

func bandMath(n bandmath.Node, img node, codes map[string]string) (node, error) {
	switch n := n.(type) {
	case bandmath.Number:
		return imageConstant(n.Value), nil
	case bandmath.Band:
		code, ok := codes[n.Name]
		if !ok {
			return node{}, fmt.Errorf("band %s has no code", n.Name)
		}
		return selectBand(img, code), nil
	case bandmath.Negate:
		operand, err := bandMath(n.Operand, img, codes)
		if err != nil {
			return node{}, err
		}
		return call("Image.multiply", args{"image1": operand, "image2": imageConstant(-1)}), nil
	case bandmath.Binary:
		left, err := bandMath(n.Left, img, codes)
		if err != nil {
			return node{}, err
		}
		right, err := bandMath(n.Right, img, codes)
		if err != nil {
			return node{}, err
		}
		return call(imageOps[n.Op], args{"image1": left, "image2": right}), nil
	}
	return node{}, fmt.Errorf("unsupported expression node %T", n)
}
