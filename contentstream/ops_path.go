package contentstream

import (
	"errors"

	"github.com/redforks/nipdf/ir/raw"
)

var errNoCurrentPoint = errors.New("no current point")

func registerPathOps(p *Processor) {
	p.register("m", opMoveTo)
	p.register("l", opLineTo)
	p.register("c", opCurveTo)
	p.register("v", opCurveToV)
	p.register("y", opCurveToY)
	p.register("h", opClosePath)
	p.register("re", opRectangle)

	paint := func(fill bool, rule FillRule, stroke, closePath bool) func(*ExecutionContext, []raw.Object) error {
		return func(ec *ExecutionContext, _ []raw.Object) error {
			ec.paintPath(fill, rule, stroke, closePath)
			return nil
		}
	}
	p.register("S", paint(false, NonZero, true, false))
	p.register("s", paint(false, NonZero, true, true))
	p.register("f", paint(true, NonZero, false, false))
	p.register("F", paint(true, NonZero, false, false))
	p.register("f*", paint(true, EvenOdd, false, false))
	p.register("B", paint(true, NonZero, true, false))
	p.register("B*", paint(true, EvenOdd, true, false))
	p.register("b", paint(true, NonZero, true, true))
	p.register("b*", paint(true, EvenOdd, true, true))
	p.register("n", paint(false, NonZero, false, false))

	p.register("W", func(ec *ExecutionContext, _ []raw.Object) error {
		ec.clipPending, ec.clipRule = true, NonZero
		return nil
	})
	p.register("W*", func(ec *ExecutionContext, _ []raw.Object) error {
		ec.clipPending, ec.clipRule = true, EvenOdd
		return nil
	})
}

func opMoveTo(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 2)
	if err != nil {
		return err
	}
	ec.path.MoveTo(v[0], v[1])
	return nil
}

func opLineTo(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 2)
	if err != nil {
		return err
	}
	if ec.path.Empty() {
		return errNoCurrentPoint
	}
	ec.path.LineTo(v[0], v[1])
	return nil
}

func opCurveTo(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 6)
	if err != nil {
		return err
	}
	if ec.path.Empty() {
		return errNoCurrentPoint
	}
	ec.path.CubeTo(v[0], v[1], v[2], v[3], v[4], v[5])
	return nil
}

// opCurveToV uses the current point as the first control point.
func opCurveToV(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 4)
	if err != nil {
		return err
	}
	cur, ok := ec.path.CurrentPoint()
	if !ok {
		return errNoCurrentPoint
	}
	ec.path.CubeTo(cur.X, cur.Y, v[0], v[1], v[2], v[3])
	return nil
}

// opCurveToY uses the end point as the second control point.
func opCurveToY(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 4)
	if err != nil {
		return err
	}
	if ec.path.Empty() {
		return errNoCurrentPoint
	}
	ec.path.CubeTo(v[0], v[1], v[2], v[3], v[2], v[3])
	return nil
}

func opClosePath(ec *ExecutionContext, _ []raw.Object) error {
	ec.path.Close()
	return nil
}

func opRectangle(ec *ExecutionContext, operands []raw.Object) error {
	v, err := numbers(operands, 4)
	if err != nil {
		return err
	}
	ec.path.Rectangle(v[0], v[1], v[2], v[3])
	return nil
}

// paintPath flushes the path buffer to the device, then applies a
// pending W or W* and clears the buffer.
func (ec *ExecutionContext) paintPath(fill bool, rule FillRule, stroke, closePath bool) {
	if closePath {
		ec.path.Close()
	}
	if !ec.path.Empty() && (fill || stroke) {
		path := ec.path.Clone()
		st := ec.State.DrawState()
		if fill {
			if p, ok := ec.paint(true); ok {
				ec.Device.Fill(path, rule, p, st)
			}
		}
		if stroke {
			if p, ok := ec.paint(false); ok {
				ec.Device.Stroke(path, ec.State.Stroke, p, st)
			}
		}
	}
	if ec.clipPending {
		ec.State.ClipTo(ec.path.Clone(), ec.clipRule)
		ec.clipPending = false
	}
	ec.path.Reset()
}
