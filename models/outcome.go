package models

// Status is the result of processing one record.
type Status string

const (
	StatusInserted Status = "inserted"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is returned for every record a loader or writer touched. Run
// summaries are computed from outcomes only.
type Outcome struct {
	Key    string `json:"key" yaml:"key"`
	HashID int64  `json:"hash_id,omitempty" yaml:"hash_id,omitempty"`
	Status Status `json:"status" yaml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Err    error  `json:"-" yaml:"-"`
}

func Inserted(r *Record) Outcome {
	return Outcome{Key: r.KeyString(), HashID: r.HashID(), Status: StatusInserted, Source: r.Source}
}

func Skipped(r *Record, reason string) Outcome {
	return Outcome{Key: r.KeyString(), HashID: r.HashID(), Status: StatusSkipped, Reason: reason, Source: r.Source}
}

// Failed records an outcome for a record that could not be parsed or
// written. key is usually the source path when no record exists yet.
func Failed(key, source string, err error) Outcome {
	o := Outcome{Key: key, Status: StatusFailed, Source: source, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}
