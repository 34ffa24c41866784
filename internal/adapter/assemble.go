package adapter

import (
	"github.com/teambition/rrule-go"

	"eventripper/internal/model"
)

// Assemble partitions one calendar's events into a model.Calendar owned by
// src. Occurrences without an ID or start time, or with an RRULE that does
// not parse, are demoted to parse errors.
func Assemble(src *model.SourceConfig, spec *model.CalendarSpec, events []model.Event) model.Calendar {
	occs, errs := model.Partition(events)

	valid := make([]model.Occurrence, 0, len(occs))
	for _, o := range occs {
		switch {
		case o.ID == "":
			errs = append(errs, model.ParseError{Reason: "occurrence has no id", Context: o.Summary})
		case o.Start.IsZero():
			errs = append(errs, model.ParseError{Reason: "occurrence has no start", Context: o.ID})
		case o.RRule != "" && !validRRule(o.RRule):
			errs = append(errs, model.ParseError{Reason: "invalid rrule " + o.RRule, Context: o.ID})
		default:
			valid = append(valid, o)
		}
	}

	return model.Calendar{
		Name:         spec.Name,
		FriendlyName: spec.FriendlyName,
		Events:       valid,
		Errors:       errs,
		Parent:       src,
		Tags:         append([]string(nil), spec.Tags...),
	}
}

func validRRule(s string) bool {
	_, err := rrule.StrToROption(s)
	return err == nil
}
