package app

// Snapshot is a read-only copy of the device state for HTTP clients.
type Snapshot struct {
	Device   string   `json:"device"`
	Mode     string   `json:"mode"`
	Chip     string   `json:"chip"`
	RateHz   int      `json:"sample_rate_hz"`
	HasModel bool     `json:"has_model"`
	Classes  int      `json:"classes"`
	Labels   []string `json:"labels,omitempty"`
	Size     uint32   `json:"model_size"`

	UploadState    string `json:"upload_state"`
	UploadProgress uint8  `json:"upload_progress"`
	UploadCode     string `json:"upload_code"`

	LastClass      int     `json:"last_class"`
	LastLabel      string  `json:"last_label,omitempty"`
	LastConfidence float32 `json:"last_confidence"`
	Fallback       bool    `json:"fallback"`

	Stats Stats `json:"stats"`
}

// Snapshot returns the state as of the end of the last Tick. It is safe to
// call from any goroutine.
func (d *Device) Snapshot() Snapshot {
	return *d.snapshot.Load()
}

func (d *Device) publishSnapshot() {
	s := &Snapshot{
		Device:         d.name,
		Mode:           d.mode.String(),
		Chip:           d.reader.ChipName(),
		RateHz:         d.rateHz,
		HasModel:       d.store.HasModel(),
		Classes:        d.store.NumClasses(),
		Size:           d.store.ModelSize(),
		UploadState:    d.store.State().String(),
		UploadProgress: d.store.Progress(),
		UploadCode:     d.lastStatus.Code.String(),
		LastClass:      -1,
		Stats:          d.stats,
	}
	for i := 0; i < s.Classes; i++ {
		s.Labels = append(s.Labels, d.store.Label(i))
	}
	if d.havePred {
		s.LastClass = d.last.Class
		s.LastLabel = d.engine.Label(d.last.Class)
		s.LastConfidence = d.last.Confidence
		s.Fallback = d.last.Fallback
	}
	d.snapshot.Store(s)
	d.dirty = false
}
