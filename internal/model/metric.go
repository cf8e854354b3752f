package model

import (
	"github.com/ppiankov/labelwire/internal/errs"
)

// Aggregation tells the platform how to combine metric values.
type Aggregation string

const (
	ArithmeticMean  Aggregation = "ARITHMETIC_MEAN"
	GeometricMean   Aggregation = "GEOMETRIC_MEAN"
	HarmonicMean    Aggregation = "HARMONIC_MEAN"
	Sum             Aggregation = "SUM"
	ConfusionMatrix Aggregation = "CONFUSION_MATRIX"
)

const (
	maxScalarValue    = 100_000_000
	maxConfusionCount = 10_000_000_000
	minConfidenceKeys = 2
	maxConfidenceKeys = 15
)

// ReservedMetricNames cannot be used as custom scalar metric names.
var ReservedMetricNames = map[string]bool{
	"true_positive_count":  true,
	"false_positive_count": true,
	"true_negative_count":  true,
	"false_negative_count": true,
	"precision":            true,
	"recall":               true,
	"f1":                   true,
	"iou":                  true,
}

// ScalarMetric is a single number, or one number per confidence threshold.
type ScalarMetric struct {
	Meta
	MetricName   string
	FeatureName  string
	SubclassName string
	Value        float64
	ByConfidence map[float64]float64
	Aggregation  Aggregation
}

// NewScalarMetric builds a single-valued scalar metric.
func NewScalarMetric(name string, value float64, aggregation Aggregation) (*ScalarMetric, error) {
	m := &ScalarMetric{Meta: Meta{UUID: NewUUID()}, MetricName: name, Value: value, Aggregation: aggregation}
	return m, m.Validate()
}

// NewScalarMetricByConfidence builds a scalar metric keyed by confidence threshold.
func NewScalarMetricByConfidence(name string, values map[float64]float64, aggregation Aggregation) (*ScalarMetric, error) {
	m := &ScalarMetric{Meta: Meta{UUID: NewUUID()}, MetricName: name, ByConfidence: values, Aggregation: aggregation}
	return m, m.Validate()
}

func (*ScalarMetric) isAnnotation() {}

func (m *ScalarMetric) Validate() error {
	if ReservedMetricNames[m.MetricName] {
		return invalidMetric("metricName", "%q is a reserved metric name", m.MetricName)
	}
	switch m.Aggregation {
	case "", ArithmeticMean, GeometricMean, HarmonicMean, Sum:
	default:
		return invalidMetric("aggregation", "unsupported aggregation %q for scalar metric", m.Aggregation)
	}
	if m.ByConfidence == nil {
		return checkScalar(m.Value)
	}
	if err := checkConfidenceKeys(len(m.ByConfidence)); err != nil {
		return err
	}
	for conf, v := range m.ByConfidence {
		if err := checkConfidence(conf); err != nil {
			return err
		}
		if err := checkScalar(v); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveAggregation is the aggregation emitted on the wire: none without a
// metric name, arithmetic mean when a name is set without an aggregation.
func (m *ScalarMetric) EffectiveAggregation() Aggregation {
	if m.MetricName == "" {
		return ""
	}
	if m.Aggregation == "" {
		return ArithmeticMean
	}
	return m.Aggregation
}

// ConfusionMatrixValue is (tp, fp, tn, fn).
type ConfusionMatrixValue [4]int64

// ConfusionMatrixMetric is a confusion matrix, or one per confidence threshold.
type ConfusionMatrixMetric struct {
	Meta
	MetricName   string
	FeatureName  string
	SubclassName string
	Value        ConfusionMatrixValue
	ByConfidence map[float64]ConfusionMatrixValue
}

// NewConfusionMatrixMetric builds a single confusion matrix metric.
func NewConfusionMatrixMetric(name string, value ConfusionMatrixValue) (*ConfusionMatrixMetric, error) {
	m := &ConfusionMatrixMetric{Meta: Meta{UUID: NewUUID()}, MetricName: name, Value: value}
	return m, m.Validate()
}

// NewConfusionMatrixMetricByConfidence builds a confusion matrix per confidence threshold.
func NewConfusionMatrixMetricByConfidence(name string, values map[float64]ConfusionMatrixValue) (*ConfusionMatrixMetric, error) {
	m := &ConfusionMatrixMetric{Meta: Meta{UUID: NewUUID()}, MetricName: name, ByConfidence: values}
	return m, m.Validate()
}

func (*ConfusionMatrixMetric) isAnnotation() {}

func (m *ConfusionMatrixMetric) Validate() error {
	if m.MetricName == "" {
		return invalidMetric("metricName", "confusion matrix metric needs a name")
	}
	if m.ByConfidence == nil {
		return checkConfusion(m.Value)
	}
	if err := checkConfidenceKeys(len(m.ByConfidence)); err != nil {
		return err
	}
	for conf, v := range m.ByConfidence {
		if err := checkConfidence(conf); err != nil {
			return err
		}
		if err := checkConfusion(v); err != nil {
			return err
		}
	}
	return nil
}

func invalidMetric(field, format string, args ...any) error {
	return errs.New(errs.InvalidMetric, format, args...).WithField(field)
}

func checkScalar(v float64) error {
	if v < 0 || v > maxScalarValue {
		return invalidMetric("metricValue", "must be in [0, %d], got %v", maxScalarValue, v)
	}
	return nil
}

func checkConfusion(v ConfusionMatrixValue) error {
	for _, c := range v {
		if c < 0 || c > maxConfusionCount {
			return invalidMetric("confusionMatrix", "counts must be in [0, %d], got %v", int64(maxConfusionCount), v)
		}
	}
	return nil
}

func checkConfidenceKeys(n int) error {
	if n < minConfidenceKeys || n > maxConfidenceKeys {
		return invalidMetric("metricValue", "confidence map needs %d..%d entries, got %d",
			minConfidenceKeys, maxConfidenceKeys, n)
	}
	return nil
}

func checkConfidence(c float64) error {
	if c < 0 || c > maxConfidence {
		return invalidMetric("metricValue", "confidence key must be in [0, 1], got %v", c)
	}
	return nil
}
