package vtgrid

import (
	"pkt.systems/vtgrid/schema"
)

// fanoutWorkload runs one callback against every workload filter.
// Filter errors are isolated: they are logged, published on the
// diagnostics bus, and do not stop the remaining filters or the flow.
func (p *Pipeline) fanoutWorkload(fn func(WorkloadFilter) error) {
	for _, filter := range p.workloadFilters {
		if filter == nil {
			continue
		}
		if err := fn(filter); err != nil {
			p.filterFault(filter.Name(), err)
		}
	}
}

// fanoutPresentation runs one callback against every presentation
// filter under the same isolation rules.
func (p *Pipeline) fanoutPresentation(fn func(PresentationFilter) error) {
	for _, filter := range p.presentationFilters {
		if filter == nil {
			continue
		}
		if err := fn(filter); err != nil {
			p.filterFault(filter.Name(), err)
		}
	}
}

func (p *Pipeline) filterFault(name schema.FilterName, err error) {
	p.log.Warn("filter error", "filter", name, "err", err)
	p.publish(schema.DiagEvent{Kind: schema.DiagFilterError, Filter: name, Err: err.Error()})
}

func (p *Pipeline) publish(ev schema.DiagEvent) {
	ev.Session = p.id
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	p.bus.Publish(ev)
}
