package projection

import "github.com/TobiSchelling/threadlens/internal/records"

// SliderView positions the year slider. Marks are the years with data.
type SliderView struct {
	Min   int   `json:"min"`
	Max   int   `json:"max"`
	Value int   `json:"value"`
	Marks []int `json:"marks"`
}

// Slider places the slider at year.
func Slider(store *records.Store, year int) SliderView {
	marks := store.Years()
	v := SliderView{Value: year, Marks: marks, Min: year, Max: year}
	if len(marks) > 0 {
		v.Min, v.Max = marks[0], marks[len(marks)-1]
	}
	return v
}
