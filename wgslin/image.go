package wgslin

import (
	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/ir"
)

func (l *lowerer) imageType(h nagair.ExpressionHandle) (nagair.ImageType, error) {
	it, ok := l.exprType(h).(nagair.ImageType)
	if !ok {
		return nagair.ImageType{}, errorf(ErrInvalidModule, "expression [%d] is not an image", h)
	}
	return it, nil
}

func texDim(it nagair.ImageType) ir.SamplerDim {
	if it.Multisampled {
		return ir.DimMS
	}
	return imageDim(it.Dim)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// resultBase returns the base type of the texels h produces.
func (l *lowerer) resultBase(h nagair.ExpressionHandle) ir.BaseType {
	s, ok := scalarOf(l.exprType(h))
	if !ok {
		return ir.BaseFloat
	}
	return scalarBase(s.Kind)
}

// coordinate returns the coordinate of an image access with the array
// layer appended. Sampling takes float layers.
func (l *lowerer) coordinate(coord nagair.ExpressionHandle, layer *nagair.ExpressionHandle, float bool) (*ir.Value, error) {
	c, err := l.expr(coord)
	if err != nil {
		return nil, err
	}
	if layer == nil {
		return c, nil
	}
	lv, err := l.expr(*layer)
	if err != nil {
		return nil, err
	}
	if float {
		if l.scalarKind(*layer) == nagair.ScalarUint {
			lv = l.b.ALU(ir.OpU2F32, lv)
		} else {
			lv = l.b.ALU(ir.OpI2F32, lv)
		}
	}
	chans := make([]*ir.Value, 0, c.NumComponents+1)
	for i := range int(c.NumComponents) {
		chans = append(chans, l.b.Channel(c, i))
	}
	return l.b.Vec(append(chans, lv)...), nil
}

// pad4 widens an integer coordinate to the four lanes image intrinsics take.
func (l *lowerer) pad4(c *ir.Value) *ir.Value {
	if c.NumComponents == 4 {
		return c
	}
	chans := make([]*ir.Value, 0, 4)
	for i := range int(c.NumComponents) {
		chans = append(chans, l.b.Channel(c, i))
	}
	for len(chans) < 4 {
		chans = append(chans, l.b.Undef(1, c.BitSize))
	}
	return l.b.Vec(chans...)
}

func (l *lowerer) imageSample(h nagair.ExpressionHandle, e nagair.ExprImageSample) (*ir.Value, error) {
	it, err := l.imageType(e.Image)
	if err != nil {
		return nil, err
	}
	img, err := l.expr(e.Image)
	if err != nil {
		return nil, err
	}
	smp, err := l.expr(e.Sampler)
	if err != nil {
		return nil, err
	}
	coord, err := l.coordinate(e.Coordinate, e.ArrayIndex, true)
	if err != nil {
		return nil, err
	}

	type src struct {
		kind ir.TexSrcKind
		v    *ir.Value
	}
	srcs := []src{{ir.TexSrcTextureDeref, img}, {ir.TexSrcSamplerDeref, smp}, {ir.TexSrcCoord, coord}}
	add := func(kind ir.TexSrcKind, h nagair.ExpressionHandle) error {
		v, err := l.expr(h)
		if err != nil {
			return err
		}
		srcs = append(srcs, src{kind, v})
		return nil
	}

	op := ir.TexOpTex
	switch lv := e.Level.(type) {
	case nagair.SampleLevelAuto, nil:
	case nagair.SampleLevelZero:
		op = ir.TexOpTxl
		srcs = append(srcs, src{ir.TexSrcLod, l.top.ImmFloat32(0)})
	case nagair.SampleLevelExact:
		op = ir.TexOpTxl
		err = add(ir.TexSrcLod, lv.Level)
	case nagair.SampleLevelBias:
		op = ir.TexOpTxb
		err = add(ir.TexSrcBias, lv.Bias)
	case nagair.SampleLevelGradient:
		op = ir.TexOpTxd
		if err = add(ir.TexSrcDdx, lv.X); err == nil {
			err = add(ir.TexSrcDdy, lv.Y)
		}
	default:
		return nil, unsupported("sample level %T", e.Level)
	}
	if err != nil {
		return nil, err
	}
	if e.DepthRef != nil {
		if err := add(ir.TexSrcComparator, *e.DepthRef); err != nil {
			return nil, err
		}
	}
	if e.Offset != nil {
		if err := add(ir.TexSrcOffset, *e.Offset); err != nil {
			return nil, err
		}
	}
	if e.Gather != nil {
		op = ir.TexOpTg4
	}

	t := l.b.NewTex(op, texDim(it))
	t.IsArray = it.Arrayed
	t.IsShadow = e.DepthRef != nil
	t.DestType = l.resultBase(h)
	if e.Gather != nil {
		t.Component = uint8(*e.Gather)
	}
	for _, s := range srcs {
		t.AddSrc(s.kind, s.v)
	}
	res := l.b.InsertTex(t, 4, 32)
	if e.Gather == nil && (it.Class == nagair.ImageClassDepth || e.DepthRef != nil) {
		return l.b.Channel(res, 0), nil
	}
	return res, nil
}

// storageImage emits an image deref intrinsic carrying the image's shape.
func (l *lowerer) storageImage(op ir.IntrinsicOp, it nagair.ImageType, comps uint8, srcs ...*ir.Value) *ir.Intrinsic {
	in := l.b.Intrinsic(op, comps, 32, srcs...)
	in.SetAttr(ir.IndexImageDim, uint32(imageDim(it.Dim)))
	in.SetAttr(ir.IndexImageArray, b2u(it.Arrayed))
	return in
}

func (l *lowerer) imageLoad(h nagair.ExpressionHandle, e nagair.ExprImageLoad) (*ir.Value, error) {
	it, err := l.imageType(e.Image)
	if err != nil {
		return nil, err
	}
	img, err := l.expr(e.Image)
	if err != nil {
		return nil, err
	}
	coord, err := l.coordinate(e.Coordinate, e.ArrayIndex, false)
	if err != nil {
		return nil, err
	}
	comps := uint8(4)
	if vt, ok := l.exprType(h).(nagair.VectorType); ok {
		comps = uint8(vt.Size)
	}

	if it.Class == nagair.ImageClassStorage {
		in := l.storageImage(ir.OpImageDerefLoad, it, 4, img, l.pad4(coord), l.b.Undef(1, 32), l.b.Imm32(0))
		return l.b.Channels(in.Def(), 0, int(comps)), nil
	}

	op := ir.TexOpTxf
	var extra ir.TexSrcKind
	var extraVal *ir.Value
	switch {
	case it.Multisampled:
		if e.Sample == nil {
			return nil, errorf(ErrInvalidModule, "multisampled load without a sample index")
		}
		op = ir.TexOpTxfMS
		extra = ir.TexSrcMSIndex
		if extraVal, err = l.expr(*e.Sample); err != nil {
			return nil, err
		}
	case e.Level != nil:
		extra = ir.TexSrcLod
		if extraVal, err = l.expr(*e.Level); err != nil {
			return nil, err
		}
	default:
		extra = ir.TexSrcLod
		extraVal = l.top.Imm32(0)
	}

	t := l.b.NewTex(op, texDim(it))
	t.IsArray = it.Arrayed
	t.DestType = l.resultBase(h)
	t.AddSrc(ir.TexSrcTextureDeref, img)
	t.AddSrc(ir.TexSrcCoord, coord)
	t.AddSrc(extra, extraVal)
	res := l.b.InsertTex(t, 4, 32)
	if it.Class == nagair.ImageClassDepth {
		return l.b.Channel(res, 0), nil
	}
	return res, nil
}

func (l *lowerer) imageQuery(e nagair.ExprImageQuery) (*ir.Value, error) {
	it, err := l.imageType(e.Image)
	if err != nil {
		return nil, err
	}
	img, err := l.expr(e.Image)
	if err != nil {
		return nil, err
	}
	dims := int(dimComponents(it.Dim))
	sizeComps := uint8(dims) + uint8(b2u(it.Arrayed))

	size := func(level *nagair.ExpressionHandle) (*ir.Value, error) {
		lod := l.top.Imm32(0)
		if level != nil {
			if lod, err = l.expr(*level); err != nil {
				return nil, err
			}
		}
		if it.Class == nagair.ImageClassStorage {
			return l.storageImage(ir.OpImageDerefSize, it, sizeComps, img, lod).Def(), nil
		}
		t := l.query(ir.TexOpTxs, it, img)
		if !it.Multisampled {
			t.AddSrc(ir.TexSrcLod, lod)
		}
		return l.b.InsertTex(t, sizeComps, 32), nil
	}

	switch q := e.Query.(type) {
	case nagair.ImageQuerySize:
		v, err := size(q.Level)
		if err != nil {
			return nil, err
		}
		return l.b.Channels(v, 0, dims), nil
	case nagair.ImageQueryNumLayers:
		if !it.Arrayed {
			return nil, errorf(ErrInvalidModule, "layer count of a non-arrayed image")
		}
		v, err := size(nil)
		if err != nil {
			return nil, err
		}
		return l.b.Channel(v, dims), nil
	case nagair.ImageQueryNumLevels:
		return l.b.InsertTex(l.query(ir.TexOpQueryLevels, it, img), 1, 32), nil
	case nagair.ImageQueryNumSamples:
		if it.Class == nagair.ImageClassStorage {
			return l.storageImage(ir.OpImageDerefSamples, it, 1, img).Def(), nil
		}
		return l.b.InsertTex(l.query(ir.TexOpSamples, it, img), 1, 32), nil
	}
	return nil, unsupported("image query %T", e.Query)
}

func (l *lowerer) query(op ir.TexOp, it nagair.ImageType, img *ir.Value) *ir.Tex {
	t := l.b.NewTex(op, texDim(it))
	t.IsArray = it.Arrayed
	t.DestType = ir.BaseInt
	t.AddSrc(ir.TexSrcTextureDeref, img)
	return t
}

func (l *lowerer) imageStore(s nagair.StmtImageStore) error {
	it, err := l.imageType(s.Image)
	if err != nil {
		return err
	}
	if it.Class != nagair.ImageClassStorage {
		return errorf(ErrInvalidModule, "store to a sampled image")
	}
	img, err := l.expr(s.Image)
	if err != nil {
		return err
	}
	coord, err := l.coordinate(s.Coordinate, s.ArrayIndex, false)
	if err != nil {
		return err
	}
	val, err := l.expr(s.Value)
	if err != nil {
		return err
	}
	l.storageImage(ir.OpImageDerefStore, it, val.NumComponents, img, l.pad4(coord), l.b.Undef(1, 32), val, l.b.Imm32(0))
	return nil
}
