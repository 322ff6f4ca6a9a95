package pipeline

import (
	"strings"

	"github.com/roach88/docmerge/internal/fault"
)

// Validate checks structural rules of a stage list:
//  1. MaterializeInto, if present, is the last stage
//  2. Every name a stage references is non-empty
//  3. Passthrough stages hold exactly one operator starting with "$"
//  4. Passthrough stages do not write ($out/$merge); only the engine does
//
// Validate is a pure function with no side effects.
func Validate(stages []Stage) error {
	for i, s := range stages {
		s = deref(s)
		if err := validateStage(s); err != nil {
			return fault.Validation("stage %d: %s", i, err.Message)
		}
		if _, ok := s.(MaterializeInto); ok && i != len(stages)-1 {
			return fault.Validation("stage %d: materialize must be the last stage", i)
		}
	}
	return nil
}

func validateStage(s Stage) *fault.Error {
	switch stage := s.(type) {
	case Project:
		if stage.Fields.Len() == 0 {
			return fault.Validation("project has no fields")
		}
	case ComputedJoin:
		if stage.From == "" || stage.LocalField == "" || stage.ForeignField == "" || stage.As == "" {
			return fault.Validation("join requires from, localField, foreignField and as")
		}
	case Flatten:
		if strings.TrimPrefix(stage.Path, "$") == "" {
			return fault.Validation("flatten requires a path")
		}
	case MaterializeInto:
		if stage.Collection == "" {
			return fault.Validation("materialize requires a collection")
		}
	case Passthrough:
		if len(stage.Raw) != 1 || !strings.HasPrefix(stage.Raw[0].Key, "$") {
			return fault.Validation("passthrough stage must hold exactly one $operator")
		}
		switch stage.Raw[0].Key {
		case "$out", "$merge":
			return fault.Validation("passthrough stage may not write (%s)", stage.Raw[0].Key)
		}
	default:
		return fault.Validation("unknown stage type %T", s)
	}
	return nil
}

// deref maps pointer stages to their value form.
func deref(s Stage) Stage {
	switch stage := s.(type) {
	case *Project:
		return *stage
	case *ComputedJoin:
		return *stage
	case *Flatten:
		return *stage
	case *MaterializeInto:
		return *stage
	case *Passthrough:
		return *stage
	}
	return s
}
