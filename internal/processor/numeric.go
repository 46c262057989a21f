package processor

import (
	"github.com/devrev/pairdb/gridcache/internal/errors"
	"github.com/devrev/pairdb/gridcache/internal/extractor"
	"github.com/devrev/pairdb/gridcache/internal/value"
)

// NumericProcessor adds to or multiplies a numeric property. With Post set
// the value before the change is returned, otherwise the value after it.
type NumericProcessor struct {
	Extractor extractor.Extractor // nil operates on the whole value
	Updater   extractor.Updater
	Operand   any
	Multiply  bool
	Post      bool
}

func newNumeric(multiply bool) Factory {
	operandField, postField := "increment", "postInc"
	if multiply {
		operandField, postField = "multiplier", "postMultiplication"
	}

	return func(d map[string]any) (Processor, error) {
		p := &NumericProcessor{Operand: d[operandField], Multiply: multiply, Post: boolField(d, postField)}
		if p.Operand == nil {
			return nil, errors.InvalidArgument("numeric processor requires an operand", nil)
		}

		switch m := d["manipulator"].(type) {
		case nil:
		case string:
			e, err := extractor.Parse(m)
			if err != nil {
				return nil, err
			}
			u, err := extractor.ParseUpdater(m)
			if err != nil {
				return nil, err
			}
			p.Extractor, p.Updater = e, u
		case map[string]any:
			e, err := extractor.Parse(m["extractor"])
			if err != nil {
				return nil, err
			}
			// the manipulator writes the property its extractor reads
			u, ok := extractor.UpdaterFor(e)
			if !ok {
				if u, err = extractor.ParseUpdater(m); err != nil {
					return nil, err
				}
			}
			p.Extractor, p.Updater = e, u
		default:
			return nil, errors.InvalidArgument("numeric processor manipulator must be a descriptor", nil)
		}
		return p, nil
	}
}

// Process implements Processor
func (p *NumericProcessor) Process(e Entry) (any, error) {
	current := e.Value()
	if p.Extractor != nil && current != nil {
		v, err := p.Extractor.Extract(current)
		if err != nil {
			return nil, err
		}
		current = v
	}

	// a missing number counts as zero of the operand's kind
	op := value.Add
	if p.Multiply {
		op = value.Multiply
	}
	next, err := op(current, p.Operand)
	if err != nil {
		return nil, errors.InvalidArgument("numeric processor", err)
	}

	if p.Updater != nil {
		updated, err := p.Updater.Update(e.Value(), next)
		if err != nil {
			return nil, err
		}
		e.SetValue(updated)
	} else {
		e.SetValue(next)
	}

	if p.Post {
		if current == nil {
			return value.Multiply(nil, p.Operand)
		}
		return current, nil
	}
	return next, nil
}
