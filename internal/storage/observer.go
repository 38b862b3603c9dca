package storage

type (
	// WriteClass names the kind of top-level entity a committed write touched.
	WriteClass string

	// WriteEvent describes one committed store write. Observers receive it
	// after the transaction commits, never before.
	WriteEvent struct {
		Class  WriteClass
		Event  string
		Number int
	}

	// WriteObserver receives committed write notifications. Implementations
	// must not block: the store calls StoreWrite synchronously on the
	// request path.
	WriteObserver interface {
		StoreWrite(event WriteEvent)
	}
)

// Write classes.
const (
	WriteClassIncident    WriteClass = "Incident"
	WriteClassFieldReport WriteClass = "FieldReport"
)

// observerList fans a write out to zero or more observers.
type observerList []WriteObserver

func (l observerList) notify(events ...WriteEvent) {
	for _, observer := range l {
		for _, event := range events {
			observer.StoreWrite(event)
		}
	}
}
