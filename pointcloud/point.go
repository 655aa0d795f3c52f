package pointcloud

// Data is what a cloud stores at a point. Octrees read the value as an occupancy confidence.
type Data interface {
	// HasValue reports whether a value was set.
	HasValue() bool
	// Value returns the value, or 0 when none was set.
	Value() int
	// SetValue sets the value and returns the data.
	SetValue(v int) Data
}

// occupancy is the Data of every cloud in this package.
type occupancy struct {
	set   bool
	value int
}

// NewBasicData returns data without a value. Octrees treat it as zero confidence.
func NewBasicData() Data {
	return &occupancy{}
}

// NewValueData returns data holding v.
func NewValueData(v int) Data {
	return &occupancy{set: true, value: v}
}

func (o *occupancy) SetValue(v int) Data {
	o.set, o.value = true, v
	return o
}

func (o *occupancy) HasValue() bool {
	return o.set
}

func (o *occupancy) Value() int {
	return o.value
}

func dataValue(d Data) int {
	if d == nil || !d.HasValue() {
		return 0
	}
	return d.Value()
}
