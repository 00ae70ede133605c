package config

import (
	"github.com/nerrad567/gray-logic-comm/internal/comm"
)

// LinkSpecs converts the configured links to comm link specs, filling unset
// fields from the comm defaults.
func (c CommConfig) LinkSpecs() []comm.LinkSpec {
	specs := make([]comm.LinkSpec, 0, len(c.Links))
	for _, l := range c.Links {
		spec := comm.LinkSpec{
			Name:            l.Name,
			Protocol:        l.Protocol,
			URI:             l.URI,
			Enabled:         l.IsEnabled(),
			Timeout:         l.Timeout,
			Retries:         c.Retries,
			FailThreshold:   l.FailThreshold,
			ProbeInterval:   l.ProbeInterval,
			ContentionDelay: l.ContentionDelay,
			PollInterval:    c.PollInterval,
		}
		if spec.Timeout <= 0 {
			spec.Timeout = c.Timeout
		}
		if l.Retries != nil {
			spec.Retries = *l.Retries
		}
		if spec.FailThreshold <= 0 {
			spec.FailThreshold = c.FailThreshold
		}
		if spec.ProbeInterval <= 0 {
			spec.ProbeInterval = c.ProbeInterval
		}
		if spec.ContentionDelay <= 0 {
			spec.ContentionDelay = c.ContentionDelay
		}
		if l.PollInterval != nil {
			spec.PollInterval = *l.PollInterval
		}

		for _, ctrl := range l.Controllers {
			spec.Controllers = append(spec.Controllers, comm.ControllerSpec{
				Name:   ctrl.Name,
				Drop:   ctrl.Drop,
				Params: ctrl.Params,
			})
		}
		specs = append(specs, spec)
	}
	return specs
}
