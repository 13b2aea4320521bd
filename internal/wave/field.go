package wave

// Field is the triple-buffered height grid of the CPU solver, stored
// row-major with Cols values per row.
type Field struct {
	Rows, Cols int
	prev       []float32
	curr       []float32
	next       []float32
}

// NewField allocates a zeroed field.
func NewField(rows, cols int) *Field {
	n := rows * cols
	return &Field{
		Rows: rows, Cols: cols,
		prev: make([]float32, n),
		curr: make([]float32, n),
		next: make([]float32, n),
	}
}

// At returns the current height of cell (i, j).
func (f *Field) At(i, j int) float32 { return f.curr[i*f.Cols+j] }

// Previous returns the height of cell (i, j) one tick ago.
func (f *Field) Previous(i, j int) float32 { return f.prev[i*f.Cols+j] }

// Current returns the current heights. The slice is owned by the field and
// is rewritten by the next rotation.
func (f *Field) Current() []float32 { return f.curr }

// add adds v to the current height of (i, j).
func (f *Field) add(i, j int, v float32) { f.curr[i*f.Cols+j] += v }

// rotate makes next current and current previous; the old previous buffer
// becomes the next write target.
func (f *Field) rotate() {
	f.prev, f.curr, f.next = f.curr, f.next, f.prev
}
