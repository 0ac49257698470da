package otel

import (
	"context"
	"errors"
	"fmt"

	goAdmin "github.com/MrEthical07/goAdmin"
	"github.com/MrEthical07/goAdmin/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	namePrefix = "goadmin."

	// OutcomeKey labels each point of a counter family.
	OutcomeKey = attribute.Key("outcome")
	// BoundKey labels each bucket point of a latency histogram with its
	// upper bound in seconds, "+Inf" for the overflow bucket.
	BoundKey = attribute.Key("le")
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goAdmin.MetricsSnapshot
	AuditDropped() uint64
}

type observedOutcome struct {
	id         goAdmin.MetricID
	instrument metric.Int64ObservableCounter
	attrs      metric.ObserveOption
}

type observedHistogram struct {
	id      goAdmin.MetricID
	buckets metric.Int64ObservableGauge
	bounds  [8]metric.ObserveOption
	count   metric.Int64ObservableCounter
}

// OTelExporter publishes Engine snapshots through asynchronous OTel
// instruments.
//
// Counters are grouped by family: goadmin.<family> is one counter whose
// points carry an outcome attribute, for example goadmin.reset_redeem
// with outcome=replay_rejected. Each latency histogram becomes a
// goadmin.<family>.duration.bucket gauge of cumulative counts keyed by le,
// plus a goadmin.<family>.duration.count counter.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	outcomes     []observedOutcome
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *goAdmin.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource is NewOTelExporter over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		outcomes:   make([]observedOutcome, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.FamilyDefs)+2*len(internaldefs.HistogramDefs)+1)

	families := make(map[string]metric.Int64ObservableCounter, len(internaldefs.FamilyDefs))
	for _, fam := range internaldefs.FamilyDefs {
		ins, err := meter.Int64ObservableCounter(
			namePrefix+fam.Name,
			metric.WithDescription(fam.Help),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create counter family %s: %w", fam.Name, err)
		}
		families[fam.Name] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.CounterDefs {
		ins, ok := families[def.Family]
		if !ok {
			return nil, fmt.Errorf("counter %s: unknown family %q", def.Name, def.Family)
		}
		exporter.outcomes = append(exporter.outcomes, observedOutcome{
			id:         def.ID,
			instrument: ins,
			attrs:      metric.WithAttributeSet(attribute.NewSet(OutcomeKey.String(def.Outcome))),
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		base := namePrefix + def.Family + ".duration"
		h := observedHistogram{id: def.ID}

		buckets, err := meter.Int64ObservableGauge(
			base+".bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram buckets %s: %w", base, err)
		}
		h.buckets = buckets
		for i, bound := range internaldefs.HistogramBounds {
			h.bounds[i] = metric.WithAttributeSet(attribute.NewSet(BoundKey.String(bound)))
		}

		count, err := meter.Int64ObservableCounter(
			base+".count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", base, err)
		}
		h.count = count

		observables = append(observables, buckets, count)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		namePrefix+"audit.dropped",
		metric.WithDescription("Audit events dropped by the dispatcher."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, o := range e.outcomes {
		observer.ObserveInt64(o.instrument, int64(snapshot.Counters[o.id]), o.attrs)
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, total := range cumulative {
			observer.ObserveInt64(h.buckets, int64(total), h.bounds[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
