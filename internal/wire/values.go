package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Answer is the value of a nested classification's "answer" key: free text
// or a selected option.
type Answer struct {
	Text   *string
	Option *Option
}

// TextAnswer builds a free-text answer.
func TextAnswer(s string) *Answer { return &Answer{Text: &s} }

// OptionAnswer builds a selected-option answer.
func OptionAnswer(o Option) *Answer { return &Answer{Option: &o} }

func (a Answer) MarshalJSON() ([]byte, error) {
	switch {
	case a.Text != nil:
		return json.Marshal(*a.Text)
	case a.Option != nil:
		return json.Marshal(a.Option)
	}
	return []byte("null"), nil
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	switch jsonType(data) {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer{Text: &s}
	case '{':
		var o Option
		if err := json.Unmarshal(data, &o); err != nil {
			return err
		}
		*a = Answer{Option: &o}
	default:
		return fmt.Errorf("answer must be a string or an object, got %s", data)
	}
	return nil
}

// MetricValue is a scalar metric value: a number, or a map from confidence
// threshold (decimal string) to number.
type MetricValue struct {
	Value        *float64
	ByConfidence map[string]float64
}

func (m MetricValue) MarshalJSON() ([]byte, error) {
	if m.ByConfidence != nil {
		return json.Marshal(m.ByConfidence)
	}
	if m.Value != nil {
		return json.Marshal(*m.Value)
	}
	return []byte("null"), nil
}

func (m *MetricValue) UnmarshalJSON(data []byte) error {
	switch jsonType(data) {
	case '{':
		var byConf map[string]float64
		if err := json.Unmarshal(data, &byConf); err != nil {
			return err
		}
		*m = MetricValue{ByConfidence: byConf}
	case 'n':
		*m = MetricValue{}
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = MetricValue{Value: &v}
	}
	return nil
}

// ConfusionMatrixValue is (tp, fp, tn, fn), or one such tuple per
// confidence threshold. Tuple length is checked by the validator.
type ConfusionMatrixValue struct {
	Counts       []int64
	ByConfidence map[string][]int64
}

func (c ConfusionMatrixValue) MarshalJSON() ([]byte, error) {
	if c.ByConfidence != nil {
		return json.Marshal(c.ByConfidence)
	}
	return json.Marshal(c.Counts)
}

func (c *ConfusionMatrixValue) UnmarshalJSON(data []byte) error {
	if jsonType(data) == '{' {
		var byConf map[string][]int64
		if err := json.Unmarshal(data, &byConf); err != nil {
			return err
		}
		*c = ConfusionMatrixValue{ByConfidence: byConf}
		return nil
	}
	var counts []int64
	if err := json.Unmarshal(data, &counts); err != nil {
		return err
	}
	*c = ConfusionMatrixValue{Counts: counts}
	return nil
}

// jsonType returns the first significant byte of a JSON value.
func jsonType(data []byte) byte {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return 0
	}
	return data[0]
}
